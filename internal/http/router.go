// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"relay/internal/http/handlers"
	"relay/internal/http/middleware"
	"relay/internal/infra"
	"relay/internal/modules/dispatch"
	"relay/internal/modules/driver"
)

type RouterDeps struct {
	Dispatch *dispatch.Service
	Drivers  *driver.Store
	Verifier infra.TokenVerifier
	Log      zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(deps.Log))
	r.Use(middleware.Recovery(deps.Log))
	r.Use(cors.Default())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	dispatchHandler := handlers.NewDispatchHandler(deps.Dispatch)
	driverHandler := handlers.NewDriverHandler(deps.Dispatch)

	delivery := r.Group("/api/delivery", middleware.Auth(deps.Verifier))
	{
		delivery.GET("/offer", dispatchHandler.GetOffer)
		delivery.POST("/offer/accept", dispatchHandler.AcceptOffer)
		delivery.POST("/offer/skip", dispatchHandler.SkipOffer)
		delivery.GET("/orders/skipped", dispatchHandler.ListSkipped)
		delivery.POST("/orders/:id/reclaim", dispatchHandler.Reclaim)
		delivery.POST("/orders/:id/pickup", dispatchHandler.Pickup)
		delivery.POST("/orders/:id/delivered", dispatchHandler.MarkDelivered)
		delivery.GET("/orders/active", dispatchHandler.ActiveOrder)
		delivery.GET("/orders/nearby", dispatchHandler.NearbyOrders)
		delivery.GET("/history", dispatchHandler.History)
		delivery.GET("/stats", dispatchHandler.Stats)
		delivery.POST("/location", driverHandler.UpdateLocation)
		delivery.POST("/working", driverHandler.SetWorking)
	}

	adminHandler := handlers.NewAdminHandler(deps.Drivers)
	admin := r.Group("/api/admin", middleware.Auth(deps.Verifier), middleware.RequireRole("superadmin"))
	{
		admin.GET("/drivers/locations", adminHandler.DriverLocations)
	}

	return r
}
