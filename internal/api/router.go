package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/api/handler"
	"github.com/fleetrent/tracking-system/internal/api/metrics"
	"github.com/fleetrent/tracking-system/internal/api/middleware"
	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
	"github.com/fleetrent/tracking-system/internal/core/service"
	"github.com/fleetrent/tracking-system/internal/infrastructure/backend"
	"github.com/fleetrent/tracking-system/internal/infrastructure/config"
	"github.com/fleetrent/tracking-system/internal/infrastructure/db/redis"
	"github.com/fleetrent/tracking-system/internal/infrastructure/gateway"
	"github.com/fleetrent/tracking-system/internal/infrastructure/mqtt"
)

// NewRouter builds the Echo instance with all routes registered and returns it
// together with the tracker service so the caller can drain sessions on
// shutdown. rdb may be nil; the last-position cache is skipped in that case.
func NewRouter(cfg config.Config, rdb *goredis.Client, log zerolog.Logger) (*echo.Echo, *service.TrackerService) {
	e := echo.New()
	e.HideBanner = true

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echoprometheus.NewMiddleware("tracking"))

	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	// --- Dependencies ---
	creds := backend.NewCredentialClient(cfg.Backend.BaseURL, cfg.Backend.ServiceToken, cfg.Backend.Timeout, log)
	push := mqtt.NewClient(cfg.Broker.URL, cfg.Broker.ReconnectInterval, log)
	poll := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.PollInterval, cfg.Gateway.Timeout, log)

	var cache ports.LastPositionCache
	if rdb != nil {
		cache = redis.NewLastPositionStore(rdb)
	}

	tracker := service.NewTrackerService(creds, push.FeedFactory(), poll.FeedFactory(), cache, service.Options{
		StaleAfter: cfg.Tracking.StaleAfter,
		CacheTTL:   cfg.Tracking.CacheTTL,
	}, log)

	metrics.RegisterActiveSessions(func() float64 {
		return float64(tracker.ActiveSessions())
	})

	trackingHandler := handler.NewTrackingHandler(tracker)

	// --- Tracking routes (staff only) ---
	v1 := e.Group("/v1", middleware.Auth(cfg.JWTSecret), middleware.RBAC(domain.RoleAdmin, domain.RoleManager))
	v1.POST("/assets/:asset_id/tracking/session", trackingHandler.Start)
	v1.GET("/assets/:asset_id/tracking/position", trackingHandler.Position)
	v1.DELETE("/assets/:asset_id/tracking/session", trackingHandler.Stop)

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(rdb, creds)

	e.GET("/health", healthHandler.Liveness)           // liveness  – is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())

	return e, tracker
}
