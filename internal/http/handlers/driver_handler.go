// README: Driver presence endpoints: location reports and availability.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/modules/dispatch"
	"relay/internal/modules/driver"
	"relay/internal/response"
	"relay/internal/types"
)

type DriverHandler struct {
	dispatch *dispatch.Service
}

func NewDriverHandler(svc *dispatch.Service) *DriverHandler {
	return &DriverHandler{dispatch: svc}
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	pos := types.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	if err := h.dispatch.UpdateLocation(c.Request.Context(), callerID(c), pos); err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "location updated", nil)
}

type workingRequest struct {
	IsWorking *bool `json:"is_working" binding:"required"`
}

func (h *DriverHandler) SetWorking(c *gin.Context) {
	var req workingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "is_working is required")
		return
	}
	if err := h.dispatch.SetWorking(c.Request.Context(), callerID(c), *req.IsWorking); err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "availability updated", gin.H{"is_working": *req.IsWorking})
}

func driverStatsFilter(c *gin.Context) driver.StatsFilter {
	return driver.StatsFilter{
		Month: queryInt(c, "month", 0),
		Year:  queryInt(c, "year", 0),
	}
}
