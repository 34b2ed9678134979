package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/app"
	iauth "github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/handlers"
	"github.com/beaconhq/beacon/internal/middleware"
	"github.com/beaconhq/beacon/internal/realtime"
	"github.com/beaconhq/beacon/internal/services"
)

// Services bundles the wired dispatch services the router exposes.
type Services struct {
	Alerts     *services.AlertService
	Claims     *services.ClaimService
	Geo        *services.GeoService
	Audit      *services.AuditTrail
	Fanout     *services.FanoutService
	Responders *services.ResponderService
	Hub        *realtime.Hub
	RateStore  middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svc Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	rateStore := svc.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(rateStore, 100, time.Minute))

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	// Realtime streams authenticate via token query parameter.
	realtimeHandler := handlers.NewRealtimeHandler(svc.Hub, jwt)
	r.GET("/api/ws", realtimeHandler.Stream)
	r.GET("/api/ws/:stream", realtimeHandler.Stream)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	if err := registerAlertRoutes(api, svc); err != nil {
		return nil, err
	}
	if err := registerResponderRoutes(api, svc); err != nil {
		return nil, err
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
