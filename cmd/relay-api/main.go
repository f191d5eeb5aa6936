// README: Entry point; loads config, wires stores and the dispatch service,
// starts the HTTP server with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"relay/internal/config"
	httptransport "relay/internal/http"
	"relay/internal/infra"
	"relay/internal/maps"
	"relay/internal/modules/dispatch"
	"relay/internal/modules/driver"
	"relay/internal/modules/order"
)

func main() {
	config.LoadDotEnv()
	log := infra.NewLogger("relay-api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()

	orderStore := order.NewStore(dbPool, infra.NewLogger("order-store"))
	driverStore := driver.NewStore(dbPool, redisClient, infra.NewLogger("driver-store"))

	var routes dispatch.RouteEstimator
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("maps init failed")
		}
		routes = routeSvc
	}

	dispatchSvc := dispatch.NewService(orderStore, driverStore, routes, cfg.Dispatch, infra.NewLogger("dispatch"))
	verifier := infra.NewJWTVerifier(cfg.Auth.JWTSecret)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Dispatch: dispatchSvc,
		Drivers:  driverStore,
		Verifier: verifier,
		Log:      infra.NewLogger("http"),
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("stopped")
}
