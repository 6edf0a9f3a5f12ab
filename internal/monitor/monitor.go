// Package monitor watches station data flow and raises an alert set for
// stations that stopped reporting.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

// Defaults for the data flow check.
const (
	DefaultInterval  = 5 * time.Minute
	DefaultThreshold = 30 * time.Minute
)

const checkConcurrency = 8

// StaleStation is one station that has not reported within the threshold.
type StaleStation struct {
	StationID     string        `json:"stationId"`
	Name          string        `json:"name"`
	LastTimestamp time.Time     `json:"lastTimestamp"`
	Age           time.Duration `json:"-"`
	TimeSince     string        `json:"timeSince"`

	// FromMemory is true when no entry was found on this check and the
	// previously recorded timestamp was used.
	FromMemory bool `json:"fromMemory"`
}

// Alert is the complete stale station set produced by one check. Each check
// replaces the previous alert.
type Alert struct {
	CheckedAt time.Time      `json:"checkedAt"`
	Stations  []StaleStation `json:"stations"`
}

// Active reports whether any station is stale.
func (a Alert) Active() bool {
	return len(a.Stations) > 0
}

// Sink receives every alert set, including empty ones that clear an alert.
type Sink interface {
	Publish(ctx context.Context, alert Alert) error
}

// Config holds configuration for the staleness monitor.
type Config struct {
	Source  station.Source
	Logger  zerolog.Logger
	Clock   clock.Clock
	Metrics *telemetry.DashboardMetrics
	Sinks   []Sink

	// Interval between checks. Default: 5 minutes.
	Interval time.Duration

	// Threshold after which a station is stale. Default: 30 minutes.
	Threshold time.Duration

	// Location reading keys are interpreted in. Default: time.Local.
	Location *time.Location
}

// Monitor runs the periodic data flow check.
type Monitor struct {
	source    station.Source
	logger    zerolog.Logger
	clock     clock.Clock
	metrics   *telemetry.DashboardMetrics
	sinks     []Sink
	interval  time.Duration
	threshold time.Duration
	loc       *time.Location
	tracer    trace.Tracer

	checkMu sync.Mutex

	mu        sync.Mutex
	lastKnown map[string]time.Time
	current   Alert
	checked   bool
	timer     clock.Timer
	baseCtx   context.Context
}

// New creates a staleness monitor.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Monitor{
		source:    cfg.Source,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		sinks:     cfg.Sinks,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		loc:       cfg.Location,
		tracer:    telemetry.Tracer("watermonitor/monitor"),
		lastKnown: make(map[string]time.Time),
		baseCtx:   context.Background(),
	}
}

type latestEntry struct {
	id   string
	name string
	ts   time.Time
	ok   bool
	err  error
}

// Check runs one data flow check and replaces the current alert. A metadata
// failure leaves the previous alert in place and is returned. Per-station
// query failures are logged and the station is judged from its last known
// timestamp.
func (m *Monitor) Check(ctx context.Context) (Alert, error) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "monitor.Check")
	defer span.End()

	md, err := m.source.Metadata(ctx)
	if err != nil {
		span.RecordError(err)
		m.logger.Error().Err(err).Msg("data flow check: fetch metadata failed")
		return m.Current(), fmt.Errorf("fetch metadata: %w", err)
	}

	ids := station.SortedIDs(md)
	entries := make([]latestEntry, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for i, id := range ids {
		entries[i] = latestEntry{id: id, name: md[id].DisplayName(id)}
		g.Go(func() error {
			entries[i].ts, entries[i].ok, entries[i].err = m.latest(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	// Entries gathered under a done context say nothing about data flow.
	if err := ctx.Err(); err != nil {
		return m.Current(), err
	}

	now := m.clock.Now()
	alert := Alert{CheckedAt: now, Stations: []StaleStation{}}

	m.mu.Lock()
	for _, p := range entries {
		if p.err != nil {
			m.logger.Warn().Err(p.err).Str("station_id", p.id).Msg("data flow check: latest entry query failed")
		}
		ts, fromMemory := p.ts, false
		if p.ok {
			m.lastKnown[p.id] = ts
		} else if known, ok := m.lastKnown[p.id]; ok {
			ts, fromMemory = known, true
		} else {
			continue
		}
		if !station.IsStale(ts, now, m.threshold) {
			continue
		}
		age := now.Sub(ts)
		alert.Stations = append(alert.Stations, StaleStation{
			StationID:     p.id,
			Name:          p.name,
			LastTimestamp: ts,
			Age:           age,
			TimeSince:     FormatTimeSince(age),
			FromMemory:    fromMemory,
		})
	}
	sort.Slice(alert.Stations, func(i, j int) bool {
		return alert.Stations[i].StationID < alert.Stations[j].StationID
	})
	m.current = alert
	m.checked = true
	m.mu.Unlock()

	span.SetAttributes(
		attribute.Int("monitor.stations", len(ids)),
		attribute.Int("monitor.stale", len(alert.Stations)),
	)
	m.metrics.RecordStale(ctx, len(alert.Stations))

	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, alert); err != nil {
			m.logger.Error().Err(err).Msg("data flow check: alert sink failed")
		}
	}
	return alert, nil
}

// latest returns the newest timestamp entry of a station.
func (m *Monitor) latest(ctx context.Context, id string) (time.Time, bool, error) {
	readings, err := m.source.LatestReadings(ctx, id, 1)
	if err != nil {
		return time.Time{}, false, err
	}
	key, ok := readings.Latest()
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := station.ParseTimestampKey(key, m.loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// Current returns the alert from the last completed check.
func (m *Monitor) Current() Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.current
	out.Stations = append([]StaleStation{}, m.current.Stations...)
	return out
}

// Checked reports whether at least one check has completed.
func (m *Monitor) Checked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checked
}

// Start runs a check immediately and then on every interval until Stop or
// until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	if _, err := m.Check(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("initial data flow check failed")
	}

	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
}

// Stop cancels the periodic check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	var timer clock.Timer
	timer = m.clock.AfterFunc(m.interval, func() {
		m.mu.Lock()
		if m.timer != timer {
			m.mu.Unlock()
			return
		}
		m.armLocked()
		ctx := m.baseCtx
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.Stop()
			return
		}
		if _, err := m.Check(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("data flow check failed")
		}
	})
	m.timer = timer
}

// FormatTimeSince renders an elapsed duration as "N days ago", "N hours ago",
// "N minutes ago" or "Just now", using the largest whole unit.
func FormatTimeSince(d time.Duration) string {
	minutes := int(d / time.Minute)
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return plural(days, "day") + " ago"
	case hours > 0:
		return plural(hours, "hour") + " ago"
	case minutes > 0:
		return plural(minutes, "minute") + " ago"
	default:
		return "Just now"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
