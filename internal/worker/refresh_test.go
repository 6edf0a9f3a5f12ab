package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store/memory"
	"github.com/watermonitor/watermonitor/internal/store/postgres"
	"github.com/watermonitor/watermonitor/internal/worker"
)

type fakeFetcher struct {
	set   *station.SnapshotSet
	err   error
	calls int
}

func (f *fakeFetcher) FetchSnapshots(_ context.Context) (*station.SnapshotSet, error) {
	f.calls++
	return f.set, f.err
}

type fakeChecker struct {
	alert monitor.Alert
	err   error
}

func (c *fakeChecker) Check(_ context.Context) (monitor.Alert, error) {
	return c.alert, c.err
}

type fakeSource struct {
	err error
}

func (s *fakeSource) Metadata(_ context.Context) (map[string]*station.Metadata, error) {
	return map[string]*station.Metadata{}, s.err
}

func snapshotSet(n int, degraded ...string) *station.SnapshotSet {
	set := &station.SnapshotSet{FailedStations: degraded, AlertCount: 2, FetchedAt: time.Now()}
	for i := 0; i < n; i++ {
		set.Snapshots = append(set.Snapshots, station.Snapshot{StationID: "unit"})
	}
	return set
}

func TestDefaultRefreshConfig(t *testing.T) {
	cfg := worker.DefaultRefreshConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.HealthCheckTimeout)
	assert.Equal(t, 0.5, cfg.MaxDegradedRatio)
}

func TestRefreshJob_Run(t *testing.T) {
	fetcher := &fakeFetcher{set: snapshotSet(4, "unit_3")}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:  zerolog.Nop(),
		Fetcher: fetcher,
	})

	result := job.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, 4, result.Stations)
	assert.Equal(t, []string{"unit_3"}, result.Degraded)
	assert.Equal(t, 2, result.AlertCount)
	assert.False(t, result.EndTime.Before(result.StartTime))

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRefreshes)
	assert.Equal(t, int64(1), m.SuccessfulRefresh)
	assert.Equal(t, int64(4), m.StationsBuilt)
	assert.Equal(t, int64(1), m.StationsDegraded)
	assert.NotZero(t, m.LastRefreshAt)
}

func TestRefreshJob_Run_NoFetcher(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{Logger: zerolog.Nop()})

	result := job.Run(context.Background())

	require.NotNil(t, result)
	assert.ErrorIs(t, result.Err, worker.ErrJobNotConfigured)
	assert.Zero(t, result.Stations)
	assert.Zero(t, job.GetMetrics().TotalRefreshes)
}

func TestRefreshJob_Run_Failure(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:  zerolog.Nop(),
		Fetcher: &fakeFetcher{err: station.ErrTransient},
	})

	result := job.Run(context.Background())

	assert.ErrorIs(t, result.Err, station.ErrTransient)
	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.FailedRefreshes)
	assert.Equal(t, int64(0), m.SuccessfulRefresh)
}

func TestRefreshJob_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		cfg     worker.RefreshJobConfig
		wantErr error
		errText string
	}{
		{
			name:    "snapshot refresh",
			payload: `{"job_type":"snapshot_refresh"}`,
			cfg:     worker.RefreshJobConfig{Fetcher: &fakeFetcher{set: snapshotSet(3)}},
		},
		{
			name:    "snapshot refresh with half the stations degraded",
			payload: `{"job_type":"snapshot_refresh"}`,
			cfg:     worker.RefreshJobConfig{Fetcher: &fakeFetcher{set: snapshotSet(4, "a", "b")}},
		},
		{
			name:    "snapshot refresh with most stations degraded",
			payload: `{"job_type":"snapshot_refresh"}`,
			cfg:     worker.RefreshJobConfig{Fetcher: &fakeFetcher{set: snapshotSet(4, "a", "b", "c")}},
			errText: "too many degraded stations: 3/4",
		},
		{
			name:    "snapshot refresh failure",
			payload: `{"job_type":"snapshot_refresh"}`,
			cfg:     worker.RefreshJobConfig{Fetcher: &fakeFetcher{err: station.ErrTransient}},
			wantErr: station.ErrTransient,
		},
		{
			name:    "staleness check",
			payload: `{"job_type":"staleness_check"}`,
			cfg:     worker.RefreshJobConfig{Checker: &fakeChecker{}},
		},
		{
			name:    "staleness check failure",
			payload: `{"job_type":"staleness_check"}`,
			cfg:     worker.RefreshJobConfig{Checker: &fakeChecker{err: station.ErrPermissionDenied}},
			wantErr: station.ErrPermissionDenied,
		},
		{
			name:    "health check",
			payload: `{"job_type":"health_check"}`,
			cfg:     worker.RefreshJobConfig{Source: &fakeSource{}},
		},
		{
			name:    "health check failure",
			payload: `{"job_type":"health_check"}`,
			cfg:     worker.RefreshJobConfig{Source: &fakeSource{err: station.ErrTransient}},
			wantErr: station.ErrTransient,
		},
		{
			name:    "snapshot refresh without fetcher",
			payload: `{"job_type":"snapshot_refresh"}`,
			wantErr: worker.ErrJobNotConfigured,
		},
		{
			name:    "staleness check without checker",
			payload: `{"job_type":"staleness_check"}`,
			wantErr: worker.ErrJobNotConfigured,
		},
		{
			name:    "health check without source",
			payload: `{"job_type":"health_check"}`,
			wantErr: worker.ErrJobNotConfigured,
		},
		{
			name:    "mirror sync without mirror",
			payload: `{"job_type":"mirror_sync"}`,
			cfg:     worker.RefreshJobConfig{MirrorSource: memory.New()},
			wantErr: worker.ErrJobNotConfigured,
		},
		{
			name:    "unknown job",
			payload: `{"job_type":"provider_refresh"}`,
			wantErr: worker.ErrUnknownJob,
		},
		{
			name:    "malformed payload",
			payload: `{"job_type":`,
			errText: "parse job message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = zerolog.Nop()
			job := worker.NewRefreshJob(tt.cfg)

			err := job.Handle(context.Background(), []byte(tt.payload))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				assert.ErrorContains(t, err, tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestRefreshJob_CheckStaleness(t *testing.T) {
	checker := &fakeChecker{alert: monitor.Alert{Stations: []monitor.StaleStation{{StationID: "unit_1"}, {StationID: "unit_2"}}}}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{Logger: zerolog.Nop(), Checker: checker})

	alert, err := job.CheckStaleness(context.Background())
	require.NoError(t, err)
	assert.True(t, alert.Active())

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.StalenessChecks)
	assert.Equal(t, 2, m.LastStaleStations)

	checker.err = errors.New("metadata unavailable")
	_, err = job.CheckStaleness(context.Background())
	assert.ErrorContains(t, err, "metadata unavailable")
	assert.Equal(t, int64(1), job.GetMetrics().StalenessChecks)
}

func TestRefreshJob_MetricsSnapshot(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:  zerolog.Nop(),
		Fetcher: &fakeFetcher{set: snapshotSet(2)},
		Source:  &fakeSource{},
	})

	_ = job.Run(context.Background())
	require.NoError(t, job.HealthCheck(context.Background()))

	snapshot := job.MetricsSnapshot()
	assert.Equal(t, int64(1), snapshot["total_refreshes"])
	assert.Equal(t, int64(2), snapshot["stations_built"])
	assert.Equal(t, int64(1), snapshot["health_checks"])
	assert.Contains(t, snapshot, "last_refresh_duration")
}

type fakeMirror struct {
	src station.Source
	err error
}

func (m *fakeMirror) Mirror(_ context.Context, src station.Source) (postgres.MirrorResult, error) {
	m.src = src
	return postgres.MirrorResult{Stations: 2, Readings: 5}, m.err
}

func TestRefreshJob_SyncMirror(t *testing.T) {
	origin := memory.New()
	mirror := &fakeMirror{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:       zerolog.Nop(),
		Mirror:       mirror,
		MirrorSource: origin,
	})

	require.NoError(t, job.Handle(context.Background(), []byte(`{"job_type":"mirror_sync"}`)))
	assert.Same(t, origin, mirror.src)
	assert.Equal(t, int64(1), job.GetMetrics().MirrorSyncs)
	assert.Equal(t, int64(5), job.GetMetrics().MirroredReadings)

	mirror.err = station.ErrTransient
	err := job.Handle(context.Background(), []byte(`{"job_type":"mirror_sync"}`))
	assert.ErrorIs(t, err, station.ErrTransient)
}
