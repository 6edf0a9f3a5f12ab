// Package main provides the entrypoint for the background worker.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/config"
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store"
	"github.com/watermonitor/watermonitor/internal/telemetry"
	"github.com/watermonitor/watermonitor/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "watermonitor-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	dashMetrics, err := telemetry.NewDashboardMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dashboard metrics")
	}

	stores, err := store.Open(ctx, cfg, store.Options{Registry: resilience.GlobalRegistry}, log)
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

	sinks := []monitor.Sink{monitor.LogSink{Logger: log}}
	if cfg.NATSURL != "" {
		nc, err := monitor.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			log.Error().Err(err).Msg("nats unavailable, alerts are logged only")
		} else {
			defer nc.Close()
			sinks = append(sinks, monitor.NewNATSSink(nc, cfg.NATSAlertSubject))
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

	jobCfg := worker.RefreshJobConfig{
		Config:  worker.DefaultRefreshConfig(),
		Logger:  log,
		Fetcher: stationService,
		Checker: staleMonitor,
		Source:  stores.Source,
	}
	if stores.Mirror != nil && stores.Origin != nil {
		jobCfg.Mirror = stores.Mirror
		jobCfg.MirrorSource = stores.Origin
	}
	job := worker.NewRefreshJob(jobCfg)

	// Worker also exposes health endpoint for Cloud Run
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"version": Version,
			"metrics": job.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSubEnabled() {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			RefreshJob:       job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub receive stopped")
				cancel()
			}
		}()
	} else {
		// Without a subscription the monitor runs on its own interval.
		log.Info().Dur("interval", cfg.MonitorInterval).Msg("pubsub not configured, running staleness monitor locally")
		staleMonitor.Start(ctx)
		defer staleMonitor.Stop()
	}

	// Wait for interrupt signal or a fatal receive error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
