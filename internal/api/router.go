package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/handlers"
	"github.com/charlesng35/opsdash/internal/middleware"
	"github.com/charlesng35/opsdash/internal/services"
)

// Services bundles the components the HTTP layer dispatches to.
type Services struct {
	Store   services.DashboardStore
	Gallery *services.GalleryService
	Sync    *services.OrderSyncService
	// UploadsDir is served under the upload URL prefix. Empty when images live in object storage.
	UploadsDir string
	Health     func() handlers.HealthInfo
}

// NewRouter builds the Gin engine, wires middleware and registers the dashboard routes.
func NewRouter(cfg *app.Config, svc Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if svc.Store == nil {
		return nil, errors.New("config store must be provided")
	}
	if svc.Gallery == nil {
		return nil, errors.New("gallery service must be provided")
	}
	if svc.Sync == nil {
		return nil, errors.New("order sync service must be provided")
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	if cfg.Monitoring.Prometheus.Enabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.SecurityHeaders())
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORS.AllowedOrigins
	}
	r.Use(middleware.CORSWithConfig(corsCfg))
	r.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerHealthRoutes(r, cfg, svc.Health)

	api := r.Group("/api")
	registerDashboardRoutes(api, handlers.NewDashboardHandler(svc.Store))
	registerGalleryRoutes(api, handlers.NewGalleryHandler(svc.Gallery, cfg.Upload.MaxSizeMB))
	registerCommerceRoutes(api, handlers.NewCommerceHandler(svc.Sync))

	if dir := strings.TrimSpace(svc.UploadsDir); dir != "" {
		prefix := strings.TrimRight(cfg.Upload.URLPrefix, "/")
		if prefix == "" {
			prefix = "/uploads"
		}
		r.Static(prefix, dir)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
