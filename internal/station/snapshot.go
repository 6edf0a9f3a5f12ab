package station

import (
	"sort"
	"time"

	"github.com/watermonitor/watermonitor/internal/quality"
)

// DefaultStaleThreshold is the age after which a snapshot is stale.
const DefaultStaleThreshold = 30 * time.Minute

// MetricReading is one metric's normalized value on a snapshot.
type MetricReading struct {
	Metric  quality.Metric `json:"metric"`
	Label   string         `json:"label"`
	Unit    string         `json:"unit"`
	Display string         `json:"display"`
	Status  quality.Status `json:"status"`
	Value   *float64       `json:"value,omitempty"`
}

// Snapshot is the normalized view of a station's latest state.
type Snapshot struct {
	StationID   string          `json:"stationId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Timestamp   *string         `json:"timestamp"`
	DisplayTime string          `json:"displayTime"`
	ReadingTime *time.Time      `json:"readingTime,omitempty"`
	Stale       bool            `json:"stale"`
	Metrics     []MetricReading `json:"metrics"`
	AlertCount  int             `json:"alertCount"`
}

// HasAlert reports whether any metric is out of range.
func (s Snapshot) HasAlert() bool {
	return s.AlertCount > 0
}

// Metric returns the reading for m.
func (s Snapshot) Metric(m quality.Metric) (MetricReading, bool) {
	for _, r := range s.Metrics {
		if r.Metric == m {
			return r, true
		}
	}
	return MetricReading{}, false
}

// BuildOptions configures snapshot construction.
type BuildOptions struct {
	Thresholds     quality.Thresholds
	StaleThreshold time.Duration
	Location       *time.Location
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.Thresholds == nil {
		o.Thresholds = quality.DisplayThresholds
	}
	if o.StaleThreshold == 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Build produces the snapshot for one station from its metadata and raw
// readings. A nil or empty readings set yields an all-missing snapshot.
func Build(stationID string, md *Metadata, readings Readings, now time.Time, opts BuildOptions) Snapshot {
	opts = opts.withDefaults()

	snap := Snapshot{
		StationID:   stationID,
		Name:        md.DisplayName(stationID),
		DisplayTime: quality.Placeholder,
		Stale:       true,
	}
	if md != nil {
		snap.Description = md.Description
	}

	latest, ok := readings.Latest()
	if !ok {
		snap.Metrics = missingMetrics()
		return snap
	}

	key := latest
	snap.Timestamp = &key
	snap.DisplayTime = FormatTimestampKey(latest)
	if ts, err := ParseTimestampKey(latest, opts.Location); err == nil {
		snap.ReadingTime = &ts
		snap.Stale = IsStale(ts, now, opts.StaleThreshold)
	}

	suffix := Suffix(stationID)
	reading := readings[latest]
	snap.Metrics = make([]MetricReading, 0, len(quality.Metrics))
	for _, m := range quality.Metrics {
		raw, _ := reading.Value(string(m), suffix)
		status, value := quality.ClassifyRaw(raw, m, opts.Thresholds)
		if status == quality.StatusBad {
			snap.AlertCount++
		}
		snap.Metrics = append(snap.Metrics, metricReading(m, status, value))
	}
	return snap
}

// MissingSnapshot is the snapshot of a station whose data could not be read.
func MissingSnapshot(stationID string, md *Metadata) Snapshot {
	snap := Snapshot{
		StationID:   stationID,
		Name:        md.DisplayName(stationID),
		DisplayTime: quality.Placeholder,
		Stale:       true,
		Metrics:     missingMetrics(),
	}
	if md != nil {
		snap.Description = md.Description
	}
	return snap
}

func missingMetrics() []MetricReading {
	out := make([]MetricReading, 0, len(quality.Metrics))
	for _, m := range quality.Metrics {
		out = append(out, metricReading(m, quality.StatusMissing, nil))
	}
	return out
}

func metricReading(m quality.Metric, status quality.Status, value *float64) MetricReading {
	info := quality.InfoFor(m)
	if status == quality.StatusMissing {
		value = nil
	}
	return MetricReading{
		Metric:  m,
		Label:   info.Label,
		Unit:    info.Unit,
		Display: quality.Format(value, m),
		Status:  status,
		Value:   value,
	}
}

// SortPages orders snapshots with alerting stations first. The sort is stable,
// so callers control the order within each group.
func SortPages(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].HasAlert() && !snaps[j].HasAlert()
	})
}
