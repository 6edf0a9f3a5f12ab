package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store/postgres"
)

// ErrUnknownJob is returned for messages with an unrecognised job type.
var ErrUnknownJob = errors.New("unknown job type")

// ErrJobNotConfigured is returned for a known job whose collaborator was not
// supplied to this worker.
var ErrJobNotConfigured = errors.New("job not configured")

// SnapshotFetcher builds the snapshot set.
type SnapshotFetcher interface {
	FetchSnapshots(ctx context.Context) (*station.SnapshotSet, error)
}

// StalenessChecker runs one data flow check.
type StalenessChecker interface {
	Check(ctx context.Context) (monitor.Alert, error)
}

// MetadataSource is probed by health checks.
type MetadataSource interface {
	Metadata(ctx context.Context) (map[string]*station.Metadata, error)
}

// Mirror copies a source into the postgres mirror.
type Mirror interface {
	Mirror(ctx context.Context, src station.Source) (postgres.MirrorResult, error)
}

// RefreshJob runs the worker's jobs against the station store.
type RefreshJob struct {
	config  RefreshConfig
	logger  zerolog.Logger
	fetcher SnapshotFetcher
	checker StalenessChecker
	source  MetadataSource
	mirror  Mirror
	origin  station.Source

	// Metrics
	metrics *RefreshMetrics
}

// RefreshMetrics tracks job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes    int64
	SuccessfulRefresh int64
	FailedRefreshes   int64
	StationsBuilt     int64
	StationsDegraded  int64
	StalenessChecks   int64
	HealthChecks      int64
	MirrorSyncs       int64
	MirroredReadings  int64

	// Last staleness check
	LastStaleStations int

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob. Any of the
// collaborators may be nil; the matching job then fails with
// ErrJobNotConfigured.
type RefreshJobConfig struct {
	Config  RefreshConfig
	Logger  zerolog.Logger
	Fetcher SnapshotFetcher
	Checker StalenessChecker
	Source  MetadataSource

	// Mirror and MirrorSource enable the mirror_sync job.
	Mirror       Mirror
	MirrorSource station.Source
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	return &RefreshJob{
		config:  cfg.Config.withDefaults(),
		logger:  cfg.Logger,
		fetcher: cfg.Fetcher,
		checker: cfg.Checker,
		source:  cfg.Source,
		mirror:  cfg.Mirror,
		origin:  cfg.MirrorSource,
		metrics: &RefreshMetrics{},
	}
}

// RefreshMessage is the payload of a job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`
}

// RefreshResult contains the result of one snapshot build.
type RefreshResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Stations   int
	Degraded   []string
	AlertCount int
	Err        error
}

// Handle decodes a job message and runs the job it names.
func (j *RefreshJob) Handle(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse job message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	switch msg.JobType {
	case JobSnapshotRefresh:
		res := j.Run(ctx)
		if res.Err != nil {
			return res.Err
		}
		if res.Stations > 0 && float64(len(res.Degraded)) > float64(res.Stations)*j.config.MaxDegradedRatio {
			return fmt.Errorf("too many degraded stations: %d/%d", len(res.Degraded), res.Stations)
		}
		return nil
	case JobStalenessCheck:
		_, err := j.CheckStaleness(ctx)
		return err
	case JobHealthCheck:
		return j.HealthCheck(ctx)
	case JobMirrorSync:
		_, err := j.SyncMirror(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// Run executes one snapshot build cycle.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := time.Now()
	result := &RefreshResult{StartTime: startTime}

	if j.fetcher == nil {
		result.Err = fmt.Errorf("%w: %s", ErrJobNotConfigured, JobSnapshotRefresh)
		result.EndTime = time.Now()
		return result
	}

	j.logger.Info().Msg("starting snapshot refresh job")

	set, err := j.fetcher.FetchSnapshots(ctx)
	if err != nil {
		result.Err = fmt.Errorf("build snapshots: %w", err)
	} else {
		result.Stations = len(set.Snapshots)
		result.Degraded = set.FailedStations
		result.AlertCount = set.AlertCount
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	// Update metrics
	j.updateMetrics(result)

	event := j.logger.Info()
	if result.Err != nil {
		event = j.logger.Error().Err(result.Err)
	}
	event.
		Dur("duration", result.Duration).
		Int("stations", result.Stations).
		Int("degraded", len(result.Degraded)).
		Int("alerts", result.AlertCount).
		Msg("snapshot refresh job completed")

	return result
}

// CheckStaleness runs one data flow check.
func (j *RefreshJob) CheckStaleness(ctx context.Context) (monitor.Alert, error) {
	if j.checker == nil {
		return monitor.Alert{}, fmt.Errorf("%w: %s", ErrJobNotConfigured, JobStalenessCheck)
	}
	alert, err := j.checker.Check(ctx)
	if err != nil {
		return alert, fmt.Errorf("staleness check: %w", err)
	}

	j.metrics.mu.Lock()
	j.metrics.StalenessChecks++
	j.metrics.LastStaleStations = len(alert.Stations)
	j.metrics.mu.Unlock()
	return alert, nil
}

// HealthCheck verifies store connectivity by reading station metadata.
func (j *RefreshJob) HealthCheck(ctx context.Context) error {
	if j.source == nil {
		return fmt.Errorf("%w: %s", ErrJobNotConfigured, JobHealthCheck)
	}
	j.logger.Debug().Msg("running health check")

	ctx, cancel := context.WithTimeout(ctx, j.config.HealthCheckTimeout)
	defer cancel()

	if _, err := j.source.Metadata(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	j.metrics.mu.Lock()
	j.metrics.HealthChecks++
	j.metrics.mu.Unlock()

	j.logger.Debug().Msg("health check passed")
	return nil
}

// SyncMirror copies the origin store into the postgres mirror.
func (j *RefreshJob) SyncMirror(ctx context.Context) (postgres.MirrorResult, error) {
	if j.mirror == nil || j.origin == nil {
		return postgres.MirrorResult{}, fmt.Errorf("%w: %s", ErrJobNotConfigured, JobMirrorSync)
	}
	res, err := j.mirror.Mirror(ctx, j.origin)
	if err != nil {
		return res, fmt.Errorf("mirror sync: %w", err)
	}

	j.metrics.mu.Lock()
	j.metrics.MirrorSyncs++
	j.metrics.MirroredReadings += int64(res.Readings)
	j.metrics.mu.Unlock()

	j.logger.Info().
		Int("stations", res.Stations).
		Int("readings", res.Readings).
		Strs("failed", res.Failed).
		Msg("mirror sync completed")
	return res, nil
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	if result.Err != nil {
		j.metrics.FailedRefreshes++
	} else {
		j.metrics.SuccessfulRefresh++
	}
	j.metrics.StationsBuilt += int64(result.Stations)
	j.metrics.StationsDegraded += int64(len(result.Degraded))
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefresh:   j.metrics.SuccessfulRefresh,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		StationsBuilt:       j.metrics.StationsBuilt,
		StationsDegraded:    j.metrics.StationsDegraded,
		StalenessChecks:     j.metrics.StalenessChecks,
		HealthChecks:        j.metrics.HealthChecks,
		MirrorSyncs:         j.metrics.MirrorSyncs,
		MirroredReadings:    j.metrics.MirroredReadings,
		LastStaleStations:   j.metrics.LastStaleStations,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefresh,
		"failed_refreshes":      m.FailedRefreshes,
		"stations_built":        m.StationsBuilt,
		"stations_degraded":     m.StationsDegraded,
		"staleness_checks":      m.StalenessChecks,
		"health_checks":         m.HealthChecks,
		"mirror_syncs":          m.MirrorSyncs,
		"mirrored_readings":     m.MirroredReadings,
		"last_stale_stations":   m.LastStaleStations,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
