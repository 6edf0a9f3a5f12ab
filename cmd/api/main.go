// Package main provides the entrypoint for the water quality dashboard API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/api"
	"github.com/watermonitor/watermonitor/internal/api/middleware"
	"github.com/watermonitor/watermonitor/internal/carousel"
	"github.com/watermonitor/watermonitor/internal/config"
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/report"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "watermonitor-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting water quality dashboard API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Env == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Initialize OpenTelemetry
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	dashMetrics, err := telemetry.NewDashboardMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize dashboard metrics")
		os.Exit(1)
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}

	// Open the station store
	registry := resilience.GlobalRegistry
	stores, err := store.Open(ctx, cfg, store.Options{Registry: registry, Recorder: providerMetrics}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open station store")
	}
	defer stores.Close()

	stationService := station.NewService(station.ServiceConfig{
		Source: stores.Source,
		Logger: log,
		Build: station.BuildOptions{
			Location:       cfg.Location,
			StaleThreshold: cfg.SnapshotStaleThreshold,
		},
	})

	dashboard := carousel.NewDashboard(carousel.ControllerConfig{
		Fetcher:         stationService,
		Logger:          log,
		Metrics:         dashMetrics,
		CacheTTL:        cfg.CacheTTL,
		RefreshInterval: cfg.RefreshInterval,
		Retry: resilience.LinearPolicy{
			MaxAttempts: cfg.RefreshMaxRetries,
			BaseDelay:   cfg.RefreshRetryDelay,
		},
	}, carousel.Config{
		AutoInterval:     cfg.AutoInterval,
		InteractionPause: cfg.InteractionPause,
		SwipeThreshold:   cfg.SwipeThreshold,
	})
	dashboard.Start(ctx)
	defer dashboard.Stop()
	log.Info().Msg("dashboard started")

	reportEngine := report.NewEngine(report.EngineConfig{
		Source: stores.Source,
		Logger: log,
	})

	sinks := []monitor.Sink{monitor.LogSink{Logger: log}}
	if cfg.NATSURL != "" {
		nc, err := monitor.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			log.Error().Err(err).Msg("nats unavailable, alerts are logged only")
		} else {
			defer nc.Close()
			sinks = append(sinks, monitor.NewNATSSink(nc, cfg.NATSAlertSubject))
			log.Info().Str("subject", cfg.NATSAlertSubject).Msg("publishing data flow alerts to nats")
		}
	}
	staleMonitor := monitor.New(monitor.Config{
		Source:    stores.Source,
		Logger:    log,
		Metrics:   dashMetrics,
		Sinks:     sinks,
		Interval:  cfg.MonitorInterval,
		Threshold: cfg.MonitorStaleThreshold,
		Location:  cfg.Location,
	})
	staleMonitor.Start(ctx)
	defer staleMonitor.Stop()

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:          Version,
		BuildTime:        BuildTime,
		Logger:           log,
		ServiceName:      serviceName,
		Metrics:          metrics,
		DashboardMetrics: dashMetrics,
		Dashboard:        dashboard,
		StationService:   stationService,
		ReportEngine:     reportEngine,
		Monitor:          staleMonitor,
		Providers:        registry,
		RequireTLS:       cfg.RequireTLS,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
