// Package report builds date-scoped statistical reports over station
// reading history.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/watermonitor/watermonitor/internal/quality"
	"github.com/watermonitor/watermonitor/internal/station"
)

// NotAvailableText is the rendered form of a missing statistic.
const NotAvailableText = "N/A"

// Measure is a statistic that may be not available. The zero value is not
// available, which is distinct from a measured zero.
type Measure struct {
	value float64
	valid bool
}

// Value returns an available Measure.
func Value(v float64) Measure {
	return Measure{value: v, valid: true}
}

// NotAvailable is the sentinel for statistics over an empty sample.
var NotAvailable = Measure{}

// Float64 returns the value and whether it is available.
func (m Measure) Float64() (float64, bool) {
	return m.value, m.valid
}

// Valid reports whether the measure is available.
func (m Measure) Valid() bool {
	return m.valid
}

// String renders the value to two decimals, or "N/A".
func (m Measure) String() string {
	if !m.valid {
		return NotAvailableText
	}
	return strconv.FormatFloat(m.value, 'f', 2, 64)
}

// MarshalJSON encodes a number, or the string "N/A".
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.valid {
		return []byte(`"` + NotAvailableText + `"`), nil
	}
	return json.Marshal(m.value)
}

// UnmarshalJSON accepts a number, null, or "N/A".
func (m *Measure) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"`+NotAvailableText+`"`)) {
		*m = NotAvailable
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("measure: %w", err)
	}
	*m = Value(v)
	return nil
}

// Stats are descriptive statistics over one metric's samples.
type Stats struct {
	Average Measure `json:"avg"`
	Min     Measure `json:"min"`
	Max     Measure `json:"max"`
	Count   int     `json:"count"`
}

// Aggregate computes mean, min, max and count. NaN and infinite entries are
// dropped first; an empty sample yields NotAvailable for every statistic.
func Aggregate(values []float64) Stats {
	var (
		sum      float64
		min, max float64
		count    int
	)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if count == 0 || v < min {
			min = v
		}
		if count == 0 || v > max {
			max = v
		}
		sum += v
		count++
	}

	if count == 0 {
		return Stats{Average: NotAvailable, Min: NotAvailable, Max: NotAvailable}
	}
	return Stats{
		Average: Value(sum / float64(count)),
		Min:     Value(min),
		Max:     Value(max),
		Count:   count,
	}
}

// Samples collects parsed values per metric.
type Samples map[quality.Metric][]float64

// Add appends every parseable metric value in r, resolving fields for a
// station with the given suffix.
func (s Samples) Add(r station.Reading, suffix string) {
	for _, m := range quality.Metrics {
		raw, ok := r.Value(string(m), suffix)
		if !ok {
			continue
		}
		if v, ok := quality.ParseValue(raw); ok {
			s[m] = append(s[m], v)
		}
	}
}

// Stats aggregates every recognized metric. Metrics without samples report
// a zero count.
func (s Samples) Stats() map[quality.Metric]Stats {
	out := make(map[quality.Metric]Stats, len(quality.Metrics))
	for _, m := range quality.Metrics {
		out[m] = Aggregate(s[m])
	}
	return out
}
