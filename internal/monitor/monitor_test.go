package monitor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/monitor"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/store/memory"
)

var start = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []monitor.Alert
}

func (s *recordingSink) Publish(_ context.Context, a monitor.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func newMonitor(store station.Source, mock *clock.Mock, sinks ...monitor.Sink) *monitor.Monitor {
	return monitor.New(monitor.Config{
		Source:   store,
		Logger:   zerolog.New(io.Discard),
		Clock:    mock,
		Sinks:    sinks,
		Location: time.UTC,
	})
}

func ids(a monitor.Alert) []string {
	out := make([]string, 0, len(a.Stations))
	for _, s := range a.Stations {
		out = append(out, s.StationID)
	}
	return out
}

func TestCheck_ThresholdBoundary(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutStation("unit_2", station.Metadata{Name: "Bridge"})
	store.PutReading("unit_1", "2024-01-15_11-30", station.Reading{"ph_1": 7.0})
	store.PutReading("unit_2", "2024-01-15_11-29-59", station.Reading{"ph_2": 7.0})

	m := newMonitor(store, clock.NewMock(start))
	alert, err := m.Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"unit_2"}, ids(alert), "exactly 30 minutes is not stale, one second past is")
	assert.Equal(t, "Bridge", alert.Stations[0].Name)
	assert.Equal(t, "30 minutes ago", alert.Stations[0].TimeSince)
	assert.False(t, alert.Stations[0].FromMemory)
	assert.Equal(t, 2, store.LatestCalls())
	assert.Equal(t, 0, store.ReadingsCalls(), "only the latest entry is queried")
}

func TestCheck_PlaceholderOnlyStationIsNotFlagged(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", station.KeyInitialized, station.Reading{"value": true})

	alert, err := newMonitor(store, clock.NewMock(start)).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, alert.Active())
	assert.NotNil(t, alert.Stations)
}

func TestCheck_LastKnownMemory(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", "2024-01-15_11-50", station.Reading{"ph_1": 7.0})

	mock := clock.NewMock(start)
	m := newMonitor(store, mock)
	ctx := context.Background()

	alert, err := m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, alert.Active())

	store.DeleteReadings("unit_1")
	mock.Advance(time.Hour)

	alert, err = m.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"unit_1"}, ids(alert))
	assert.True(t, alert.Stations[0].FromMemory)
	assert.Equal(t, "1 hour ago", alert.Stations[0].TimeSince)
}

func TestCheck_QueryErrorFallsBackToMemory(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutStation("unit_2", station.Metadata{Name: "Bridge"})
	store.PutReading("unit_1", "2024-01-15_11-50", station.Reading{"ph_1": 7.0})
	store.PutReading("unit_2", "2024-01-15_11-55", station.Reading{"ph_2": 7.0})

	mock := clock.NewMock(start)
	m := newMonitor(store, mock)
	ctx := context.Background()

	_, err := m.Check(ctx)
	require.NoError(t, err)

	store.FailStation("unit_1", station.ErrTransient)
	store.PutReading("unit_2", "2024-01-15_12-50", station.Reading{"ph_2": 7.0})
	mock.Advance(time.Hour)

	alert, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"unit_1"}, ids(alert), "one failing station does not affect others")
}

func TestCheck_AlertSetIsReplaced(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", "2024-01-15_10-00", station.Reading{"ph_1": 7.0})

	sink := &recordingSink{}
	m := newMonitor(store, clock.NewMock(start), sink)
	ctx := context.Background()

	alert, err := m.Check(ctx)
	require.NoError(t, err)
	require.True(t, alert.Active())

	store.PutReading("unit_1", "2024-01-15_11-59", station.Reading{"ph_1": 7.0})
	alert, err = m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, alert.Active(), "recovered station clears the alert")
	assert.False(t, m.Current().Active())

	require.Equal(t, 2, sink.Len())
	assert.True(t, sink.alerts[0].Active())
	assert.False(t, sink.alerts[1].Active())
}

func TestCheck_MetadataFailureKeepsPreviousAlert(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", "2024-01-15_10-00", station.Reading{"ph_1": 7.0})

	sink := &recordingSink{}
	m := newMonitor(store, clock.NewMock(start), sink)
	ctx := context.Background()

	_, err := m.Check(ctx)
	require.NoError(t, err)

	store.FailMetadata(station.ErrTransient)
	alert, err := m.Check(ctx)
	require.ErrorIs(t, err, station.ErrTransient)
	assert.Equal(t, []string{"unit_1"}, ids(alert))
	assert.Equal(t, 1, sink.Len(), "sinks are not called for a failed check")
}

func TestCheck_CancelledCheckKeepsPreviousAlert(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", "2024-01-15_10-00", station.Reading{"ph_1": 7.0})

	sink := &recordingSink{}
	m := newMonitor(store, clock.NewMock(start), sink)

	_, err := m.Check(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	alert, err := m.Check(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"unit_1"}, ids(alert))
	assert.Equal(t, 1, sink.Len())
}

func TestMonitor_StartRunsOnInterval(t *testing.T) {
	store := memory.New()
	store.PutStation("unit_1", station.Metadata{Name: "Intake"})
	store.PutReading("unit_1", "2024-01-15_11-50", station.Reading{"ph_1": 7.0})

	mock := clock.NewMock(start)
	sink := &recordingSink{}
	m := newMonitor(store, mock, sink)
	t.Cleanup(m.Stop)

	assert.False(t, m.Checked())
	m.Start(context.Background())
	assert.True(t, m.Checked())
	assert.Equal(t, 1, sink.Len())

	mock.Advance(5 * time.Minute)
	assert.Equal(t, 2, sink.Len())
	assert.False(t, m.Current().Active())

	mock.Advance(20 * time.Minute)
	assert.Equal(t, 6, sink.Len())
	assert.Equal(t, []string{"unit_1"}, ids(m.Current()), "11:50 is stale at 12:25")

	m.Stop()
	mock.Advance(time.Hour)
	assert.Equal(t, 6, sink.Len())
}

func TestFormatTimeSince(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "Just now"},
		{time.Minute, "1 minute ago"},
		{45 * time.Minute, "45 minutes ago"},
		{time.Hour, "1 hour ago"},
		{3*time.Hour + 59*time.Minute, "3 hours ago"},
		{24 * time.Hour, "1 day ago"},
		{80 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, monitor.FormatTimeSince(tt.d))
		})
	}
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.data = data
	return p.err
}

func TestNATSSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := monitor.NewNATSSink(pub, "")

	alert := monitor.Alert{
		CheckedAt: start,
		Stations: []monitor.StaleStation{{
			StationID: "unit_1", Name: "Intake", LastTimestamp: start.Add(-time.Hour), TimeSince: "1 hour ago",
		}},
	}
	require.NoError(t, sink.Publish(context.Background(), alert))
	assert.Equal(t, monitor.DefaultAlertSubject, pub.subject)

	var event monitor.Event
	require.NoError(t, json.Unmarshal(pub.data, &event))
	assert.Equal(t, monitor.EventTypeStale, event.Type)
	assert.NotEmpty(t, event.ID)
	require.Len(t, event.Data.Stations, 1)
	assert.Equal(t, "unit_1", event.Data.Stations[0].StationID)

	require.NoError(t, sink.Publish(context.Background(), monitor.Alert{CheckedAt: start}))
	require.NoError(t, json.Unmarshal(pub.data, &event))
	assert.Equal(t, monitor.EventTypeCleared, event.Type)
}

func TestNATSSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	sink := monitor.NewNATSSink(pub, "custom.subject")

	err := sink.Publish(context.Background(), monitor.Alert{CheckedAt: start})
	assert.ErrorContains(t, err, "connection closed")
	assert.Equal(t, "custom.subject", pub.subject)
}

func TestLogSink_Publish(t *testing.T) {
	sink := monitor.LogSink{Logger: zerolog.New(io.Discard)}
	assert.NoError(t, sink.Publish(context.Background(), monitor.Alert{}))
	assert.NoError(t, sink.Publish(context.Background(), monitor.Alert{Stations: []monitor.StaleStation{{StationID: "unit_1"}}}))
}
