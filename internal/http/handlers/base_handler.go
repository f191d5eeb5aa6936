// README: Base handler utilities (error mapping, param parsing).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relay/internal/modules/dispatch"
	"relay/internal/response"
)

func writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrBadRequest):
		response.Error(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrForbidden):
		response.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrOfferTaken),
		errors.Is(err, dispatch.ErrOfferExpired),
		errors.Is(err, dispatch.ErrConflict):
		response.Error(c, http.StatusConflict, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, "internal error")
	}
}

// queryFloat parses an optional float query parameter; ok is false only
// when the value is present and malformed.
func queryFloat(c *gin.Context, name string) (v float64, set bool, ok bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, false
	}
	return v, true, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
