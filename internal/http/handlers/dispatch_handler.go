// README: Driver-facing dispatch endpoints: offer polling, accept/skip,
// reclaim, and the pickup/delivery lifecycle.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/http/middleware"
	"relay/internal/modules/dispatch"
	"relay/internal/modules/order"
	"relay/internal/response"
	"relay/internal/types"
)

type DispatchHandler struct {
	dispatch *dispatch.Service
}

func NewDispatchHandler(svc *dispatch.Service) *DispatchHandler {
	return &DispatchHandler{dispatch: svc}
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// position reads latitude/longitude query params. required=false lets
// listing endpoints degrade to zero distance when coords are absent.
func position(c *gin.Context, required bool) (types.Point, bool) {
	lat, latSet, latOK := queryFloat(c, "latitude")
	lng, lngSet, lngOK := queryFloat(c, "longitude")
	if !latOK || !lngOK {
		response.Error(c, http.StatusBadRequest, "malformed coordinates")
		return types.Point{}, false
	}
	if required && (!latSet || !lngSet) {
		response.Error(c, http.StatusBadRequest, "latitude and longitude are required")
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}

// GetOffer runs one matching pass for the polling driver.
func (h *DispatchHandler) GetOffer(c *gin.Context) {
	pos, ok := position(c, true)
	if !ok {
		return
	}
	offer, err := h.dispatch.Poll(c.Request.Context(), callerID(c), pos)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if offer == nil {
		response.Success(c, http.StatusOK, "no orders available", nil)
		return
	}
	response.Success(c, http.StatusOK, "", offer)
}

type orderIDRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

func (h *DispatchHandler) AcceptOffer(c *gin.Context) {
	var req orderIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "order_id is required")
		return
	}
	if err := h.dispatch.Accept(c.Request.Context(), callerID(c), types.ID(req.OrderID)); err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "order assigned", gin.H{"order_id": req.OrderID})
}

func (h *DispatchHandler) SkipOffer(c *gin.Context) {
	var req orderIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "order_id is required")
		return
	}
	if err := h.dispatch.Skip(c.Request.Context(), callerID(c), types.ID(req.OrderID)); err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "order skipped", nil)
}

func (h *DispatchHandler) ListSkipped(c *gin.Context) {
	pos, ok := position(c, false)
	if !ok {
		return
	}
	list, err := h.dispatch.ListSkipped(c.Request.Context(), callerID(c), pos)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "", gin.H{"orders": list, "count": len(list)})
}

func (h *DispatchHandler) Reclaim(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if id == "" {
		response.Error(c, http.StatusBadRequest, "missing order id")
		return
	}
	if err := h.dispatch.Reclaim(c.Request.Context(), callerID(c), id); err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "order assigned", gin.H{"order_id": id})
}

func (h *DispatchHandler) Pickup(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if id == "" {
		response.Error(c, http.StatusBadRequest, "missing order id")
		return
	}
	o, err := h.dispatch.Pickup(c.Request.Context(), callerID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "order picked up", gin.H{
		"order_id":     o.ID,
		"status":       o.Status,
		"picked_up_at": o.PickedUpAt,
	})
}

func (h *DispatchHandler) MarkDelivered(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if id == "" {
		response.Error(c, http.StatusBadRequest, "missing order id")
		return
	}
	earnings, err := h.dispatch.MarkDelivered(c.Request.Context(), callerID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "order delivered", gin.H{
		"order_id": id,
		"status":   order.StatusDelivered,
		"earnings": earnings,
	})
}

func (h *DispatchHandler) ActiveOrder(c *gin.Context) {
	o, err := h.dispatch.ActiveOrder(c.Request.Context(), callerID(c))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if o == nil {
		response.Success(c, http.StatusOK, "no active order", nil)
		return
	}
	response.Success(c, http.StatusOK, "", o)
}

func (h *DispatchHandler) NearbyOrders(c *gin.Context) {
	pos, ok := position(c, true)
	if !ok {
		return
	}
	radius, _, radiusOK := queryFloat(c, "radius")
	if !radiusOK {
		response.Error(c, http.StatusBadRequest, "malformed radius")
		return
	}
	limit := queryInt(c, "limit", 20)
	list, err := h.dispatch.NearbyOrders(c.Request.Context(), callerID(c), pos, radius, limit)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "", gin.H{"orders": list, "count": len(list)})
}

func (h *DispatchHandler) History(c *gin.Context) {
	f := order.HistoryFilter{
		Month: queryInt(c, "month", 0),
		Year:  queryInt(c, "year", 0),
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 10),
	}
	hist, err := h.dispatch.History(c.Request.Context(), callerID(c), f)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "", hist)
}

func (h *DispatchHandler) Stats(c *gin.Context) {
	f := driverStatsFilter(c)
	stats, err := h.dispatch.Stats(c.Request.Context(), callerID(c), f)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "", stats)
}
