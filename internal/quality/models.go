// Package quality provides water-quality metrics, thresholds and status
// classification.
package quality

// Metric identifies a recognized sensor metric.
type Metric string

const (
	MetricPH          Metric = "ph"
	MetricTemperature Metric = "temperature"
	MetricTurbidity   Metric = "turbidity"
	MetricTDS         Metric = "tds"
)

// Metrics lists the recognized metrics in display order.
var Metrics = []Metric{MetricPH, MetricTemperature, MetricTurbidity, MetricTDS}

// Status is the tri-state classification of a reading.
type Status string

const (
	StatusGood    Status = "good"
	StatusBad     Status = "bad"
	StatusMissing Status = "missing"
)

// Placeholder is rendered in place of a missing value.
const Placeholder = "--"

// Info holds presentation metadata for a metric.
type Info struct {
	Label    string
	Unit     string
	Decimals int
}

var metricInfo = map[Metric]Info{
	MetricPH:          {Label: "pH Level", Unit: "", Decimals: 2},
	MetricTemperature: {Label: "Temperature", Unit: "°C", Decimals: 1},
	MetricTurbidity:   {Label: "Turbidity", Unit: "NTU", Decimals: 1},
	MetricTDS:         {Label: "TDS", Unit: "ppm", Decimals: 0},
}

// InfoFor returns presentation metadata for m.
func InfoFor(m Metric) Info {
	return metricInfo[m]
}

// Field returns the raw-store field name for m on a station with the given
// suffix, e.g. "ph_1".
func (m Metric) Field(suffix string) string {
	if suffix == "" {
		return string(m)
	}
	return string(m) + "_" + suffix
}

// Range is an inclusive acceptable range. A nil bound is unbounded.
type Range struct {
	Min *float64
	Max *float64
}

// Thresholds maps each metric to its acceptable range.
type Thresholds map[Metric]Range

func bound(v float64) *float64 {
	return &v
}

// DisplayThresholds are used by the public status carousel.
var DisplayThresholds = Thresholds{
	MetricPH:          {Min: bound(6.5), Max: bound(8.5)},
	MetricTemperature: {Min: bound(15), Max: bound(35)},
	MetricTurbidity:   {Max: bound(5)},
	MetricTDS:         {Max: bound(500)},
}

// ReportThresholds are used when flagging daily report averages.
var ReportThresholds = Thresholds{
	MetricPH:          {Min: bound(6.5), Max: bound(8.5)},
	MetricTemperature: {Min: bound(10), Max: bound(30)},
	MetricTurbidity:   {Max: bound(25)},
	MetricTDS:         {Max: bound(500)},
}
