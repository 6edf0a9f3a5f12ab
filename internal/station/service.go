package station

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// fetchConcurrency bounds parallel per-station fetches.
const fetchConcurrency = 8

// ServiceConfig holds configuration for the snapshot service.
type ServiceConfig struct {
	// Source is the station store.
	Source Source

	// Logger for service operations.
	Logger zerolog.Logger

	// Clock supplies the current time for staleness (default: real clock).
	Clock clock.Clock

	// Build configures snapshot construction.
	Build BuildOptions
}

// Service fetches raw station data and builds snapshots.
type Service struct {
	source Source
	logger zerolog.Logger
	clock  clock.Clock
	opts   BuildOptions
	tracer trace.Tracer
}

// NewService creates a new snapshot service.
func NewService(cfg ServiceConfig) *Service {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Service{
		source: cfg.Source,
		logger: cfg.Logger,
		clock:  c,
		opts:   cfg.Build.withDefaults(),
		tracer: telemetry.Tracer("watermonitor/station"),
	}
}

// Source returns the underlying station store.
func (s *Service) Source() Source {
	return s.source
}

// SnapshotSet is the result of one fetch cycle.
type SnapshotSet struct {
	// Snapshots are ordered alerting stations first, then by station id.
	Snapshots []Snapshot

	// FailedStations lists stations whose data fetch failed and which were
	// degraded to all-missing snapshots.
	FailedStations []string

	// AlertCount is the total number of out-of-range metrics.
	AlertCount int

	FetchedAt time.Time
}

// FetchSnapshots fetches metadata, then every station's data concurrently,
// and builds the ordered snapshot set. Metadata failures fail the whole cycle;
// a single station's failure only degrades that station. When ctx ends before
// the fetches complete, ctx's error is returned instead of a degraded set.
func (s *Service) FetchSnapshots(ctx context.Context) (*SnapshotSet, error) {
	ctx, span := s.tracer.Start(ctx, "station.FetchSnapshots")
	defer span.End()

	set, err := s.fetchSnapshots(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("station.count", len(set.Snapshots)),
		attribute.Int("station.failed", len(set.FailedStations)),
		attribute.Int("station.alerts", set.AlertCount),
	)
	return set, nil
}

func (s *Service) fetchSnapshots(ctx context.Context) (*SnapshotSet, error) {
	md, err := s.source.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	ids := SortedIDs(md)
	set := &SnapshotSet{Snapshots: make([]Snapshot, len(ids))}
	if len(ids) == 0 {
		set.FetchedAt = s.clock.Now()
		return set, nil
	}

	failed := make([]bool, len(ids))
	// Station failures degrade rather than fail, so no goroutine returns an
	// error and one station never cancels the others.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		if m := md[id]; m != nil {
			if verr := m.Validate(); verr != nil {
				s.logger.Warn().Err(verr).Str("station_id", id).Msg("station metadata has invalid coordinates")
			}
		}

		g.Go(func() error {
			readings, err := s.source.Readings(gctx, id)
			if err != nil {
				if gctx.Err() == nil {
					s.logger.Warn().Err(err).Str("station_id", id).Msg("station fetch failed")
				}
				failed[i] = true
				set.Snapshots[i] = MissingSnapshot(id, md[id])
				return nil
			}
			set.Snapshots[i] = Build(id, md[id], readings, s.clock.Now(), s.opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch station data: %w", err)
	}

	for i, id := range ids {
		if failed[i] {
			set.FailedStations = append(set.FailedStations, id)
		}
		set.AlertCount += set.Snapshots[i].AlertCount
	}

	SortPages(set.Snapshots)
	set.FetchedAt = s.clock.Now()

	s.logger.Debug().
		Int("stations", len(set.Snapshots)).
		Int("failed", len(set.FailedStations)).
		Int("alerts", set.AlertCount).
		Msg("station snapshots built")

	return set, nil
}

// FetchSnapshot builds the snapshot for a single station.
func (s *Service) FetchSnapshot(ctx context.Context, stationID string) (Snapshot, Readings, error) {
	md, err := s.source.StationMetadata(ctx, stationID)
	if err != nil {
		return Snapshot{}, nil, err
	}
	readings, err := s.source.Readings(ctx, stationID)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("fetch readings for %s: %w", stationID, err)
	}
	return Build(stationID, md, readings, s.clock.Now(), s.opts), readings, nil
}
