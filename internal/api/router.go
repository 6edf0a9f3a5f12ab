// Package api provides the HTTP API for the water quality dashboard.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/api/handler"
	"github.com/watermonitor/watermonitor/internal/api/middleware"
	"github.com/watermonitor/watermonitor/internal/carousel"
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/report"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version          string
	BuildTime        string
	Logger           zerolog.Logger
	ServiceName      string
	Metrics          *middleware.Metrics
	DashboardMetrics *telemetry.DashboardMetrics
	Dashboard        *carousel.Dashboard
	StationService   *station.Service
	ReportEngine     *report.Engine
	Monitor          *monitor.Monitor
	Providers        *resilience.Registry
	RequireTLS       bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "watermonitor-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Dashboard, cfg.Monitor, cfg.Providers)

	controlRateLimit := middleware.RateLimitByIPAndEndpoint(middleware.ControlRateLimit) // 10 req/min per endpoint
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit)        // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)          // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		if cfg.Dashboard != nil {
			carouselHandler := handler.NewCarouselHandler(cfg.Dashboard)
			r.Route("/carousel", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", carouselHandler.GetView)
				r.With(standardRateLimit).Get("/stats", carouselHandler.GetStats)

				// Forced fetches hit the store directly
				r.With(controlRateLimit).Post("/refresh", carouselHandler.Refresh)
				r.With(controlRateLimit).Post("/retry", carouselHandler.Retry)

				r.Group(func(r chi.Router) {
					r.Use(standardRateLimit)
					r.Use(middleware.RequireJSON)
					r.Post("/drag", carouselHandler.Drag)
					r.Put("/visibility", carouselHandler.SetVisibility)
					r.Post("/pages/{index}", carouselHandler.GotoPage)
					r.Post("/{action}", carouselHandler.Action)
				})
			})
		}

		if cfg.Dashboard != nil && cfg.StationService != nil {
			stationHandler := handler.NewStationHandler(cfg.Dashboard.Controller(), cfg.StationService)
			r.Route("/stations", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", stationHandler.ListStations)
				r.Get("/{stationId}", stationHandler.GetStation)
			})
		}

		// Reports read full history - strict rate limiting
		if cfg.ReportEngine != nil {
			reportHandler := handler.NewReportHandler(cfg.ReportEngine, cfg.DashboardMetrics)
			r.Route("/reports", func(r chi.Router) {
				r.Use(expensiveRateLimit)
				r.Get("/combined", reportHandler.Combined)
				r.Get("/stations/{stationId}", reportHandler.Daily)
			})
		}

		if cfg.Monitor != nil {
			monitorHandler := handler.NewMonitorHandler(cfg.Monitor)
			r.With(standardRateLimit).Get("/monitor/stale", monitorHandler.GetStale)
		}
	})

	return r
}
