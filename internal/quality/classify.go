package quality

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseValue converts a raw store value to a float. JSON numbers and numeric
// strings are accepted; NaN, infinities and anything else are not values.
func ParseValue(raw any) (float64, bool) {
	var v float64
	switch x := raw.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Classify maps a parsed value to a status. A nil value is missing. Metrics
// with no configured range are missing as well.
func Classify(value *float64, metric Metric, thresholds Thresholds) Status {
	if value == nil || math.IsNaN(*value) {
		return StatusMissing
	}
	r, ok := thresholds[metric]
	if !ok || (r.Min == nil && r.Max == nil) {
		return StatusMissing
	}
	if r.Min != nil && *value < *r.Min {
		return StatusBad
	}
	if r.Max != nil && *value > *r.Max {
		return StatusBad
	}
	return StatusGood
}

// ClassifyRaw parses raw and classifies it.
func ClassifyRaw(raw any, metric Metric, thresholds Thresholds) (Status, *float64) {
	v, ok := ParseValue(raw)
	if !ok {
		return StatusMissing, nil
	}
	return Classify(&v, metric, thresholds), &v
}

// Format renders value for display with the metric's precision. A nil value
// renders as Placeholder.
func Format(value *float64, metric Metric) string {
	if value == nil {
		return Placeholder
	}
	return strconv.FormatFloat(*value, 'f', InfoFor(metric).Decimals, 64)
}
