// Package store opens the configured station Source.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/config"
	"github.com/watermonitor/watermonitor/internal/database"
	"github.com/watermonitor/watermonitor/internal/provider/resilience"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store/firebase"
	"github.com/watermonitor/watermonitor/internal/store/memory"
	"github.com/watermonitor/watermonitor/internal/store/postgres"
)

// Stores is the opened backend.
type Stores struct {
	// Source serves dashboard, report and monitor reads.
	Source station.Source

	// Mirror and Origin are set when the postgres backend can be synced
	// from the realtime database.
	Mirror *postgres.Store
	Origin station.Source

	pool *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Options configures the realtime-database client.
type Options struct {
	// Registry tracks the client's health.
	Registry *resilience.Registry

	// Recorder observes every store request. Optional.
	Recorder resilience.RequestRecorder
}

// Open builds the Source selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config, opts Options, logger zerolog.Logger) (*Stores, error) {
	switch cfg.StoreBackend {
	case config.BackendFirebase:
		fb, err := openFirebase(cfg, opts, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("base_url", cfg.FirebaseBaseURL).Msg("using realtime database store")
		return &Stores{Source: fb}, nil

	case config.BackendPostgres:
		pool, err := database.ConnectWithRetry(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		pg := postgres.New(pool, logger)
		stores := &Stores{Source: pg, Mirror: pg, pool: pool}
		if cfg.FirebaseBaseURL != "" {
			fb, err := openFirebase(cfg, opts, logger)
			if err != nil {
				pool.Close()
				return nil, err
			}
			stores.Origin = fb
		}
		logger.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Bool("mirror_sync", stores.Origin != nil).
			Msg("using postgres mirror store")
		return stores, nil

	case config.BackendMemory:
		mem := memory.New()
		memory.Seed(mem, time.Now(), cfg.Location)
		logger.Warn().Msg("using in-memory demo store")
		return &Stores{Source: mem}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openFirebase(cfg config.Config, opts Options, logger zerolog.Logger) (*firebase.Store, error) {
	rc := resilience.DefaultClientConfig("firebase")
	rc.Policy = resilience.LinearPolicy{MaxAttempts: cfg.FetchMaxAttempts, BaseDelay: cfg.FetchRetryDelay}
	rc.Registry = opts.Registry
	rc.Recorder = opts.Recorder
	rc.Logger = logger

	return firebase.New(firebase.Config{
		BaseURL: cfg.FirebaseBaseURL,
		Auth:    cfg.FirebaseAuth,
		Client:  resilience.NewClient(rc),
		Logger:  logger,
	})
}
