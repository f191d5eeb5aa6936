// README: Admin endpoints (live driver locations).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/modules/driver"
	"relay/internal/response"
)

type AdminHandler struct {
	drivers *driver.Store
}

func NewAdminHandler(drivers *driver.Store) *AdminHandler {
	return &AdminHandler{drivers: drivers}
}

// DriverLocations lists working drivers with their last known position.
func (h *AdminHandler) DriverLocations(c *gin.Context) {
	list, err := h.drivers.AllWithLocations(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "internal error")
		return
	}
	response.Success(c, http.StatusOK, "", gin.H{"drivers": list, "count": len(list)})
}
