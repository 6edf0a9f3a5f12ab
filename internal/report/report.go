package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/watermonitor/watermonitor/internal/clock"
	"github.com/watermonitor/watermonitor/internal/quality"
	"github.com/watermonitor/watermonitor/internal/station"
	"github.com/watermonitor/watermonitor/internal/telemetry"
)

var (
	// ErrNoData is the empty-selection outcome: no readings survived the
	// date filter. Callers treat it as a normal result, not a failure.
	ErrNoData = errors.New("no data for this selection")

	// ErrInvalidDate is returned when a date filter is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
)

// fetchConcurrency bounds parallel history fetches.
const fetchConcurrency = 8

// Column names of an exported row.
const (
	ColumnTimestamp   = "Timestamp"
	ColumnUnit        = "Unit"
	ColumnPH          = "pH Level"
	ColumnTemperature = "Temperature (°C)"
	ColumnTurbidity   = "Turbidity (NTU)"
	ColumnTDS         = "TDS (ppm)"
)

// Columns lists exported column names in order.
var Columns = []string{ColumnTimestamp, ColumnUnit, ColumnPH, ColumnTemperature, ColumnTurbidity, ColumnTDS}

var metricColumns = map[quality.Metric]string{
	quality.MetricPH:          ColumnPH,
	quality.MetricTemperature: ColumnTemperature,
	quality.MetricTurbidity:   ColumnTurbidity,
	quality.MetricTDS:         ColumnTDS,
}

// Row is one reading of one station.
type Row struct {
	StationID   string                      `json:"stationId"`
	StationName string                      `json:"stationName"`
	Timestamp   string                      `json:"timestamp"`
	Values      map[quality.Metric]*float64 `json:"values"`
}

// Columns returns the row as a column-name to value mapping for export.
// Values are rendered to two decimals; absent values are "N/A".
func (r Row) Columns() map[string]string {
	cols := map[string]string{
		ColumnTimestamp: r.Timestamp,
		ColumnUnit:      r.StationName,
	}
	for m, col := range metricColumns {
		if v := r.Values[m]; v != nil {
			cols[col] = strconv.FormatFloat(*v, 'f', 2, 64)
		} else {
			cols[col] = NotAvailableText
		}
	}
	return cols
}

// StationStats are one station's per-metric statistics.
type StationStats struct {
	StationID string                   `json:"stationId"`
	Name      string                   `json:"name"`
	Readings  int                      `json:"readings"`
	Metrics   map[quality.Metric]Stats `json:"metrics"`
}

// Combined is a multi-station report.
type Combined struct {
	Date        string         `json:"date,omitempty"`
	Stations    []StationStats `json:"stations"`
	Rows        []Row          `json:"rows"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Daily is a single-station report with threshold findings on averages.
type Daily struct {
	StationStats
	Date        string    `json:"date"`
	Rows        []Row     `json:"rows"`
	Findings    []string  `json:"findings"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// HasFindings reports whether any average breached a report threshold.
func (d *Daily) HasFindings() bool {
	return len(d.Findings) > 0
}

// EngineConfig holds configuration for the report engine.
type EngineConfig struct {
	Source station.Source
	Logger zerolog.Logger
	Clock  clock.Clock

	// Thresholds flag daily averages. Default: quality.ReportThresholds.
	Thresholds quality.Thresholds
}

// Engine builds reports from full station history.
type Engine struct {
	source     station.Source
	logger     zerolog.Logger
	clock      clock.Clock
	thresholds quality.Thresholds
	tracer     trace.Tracer
}

// NewEngine creates a report engine.
func NewEngine(cfg EngineConfig) *Engine {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	th := cfg.Thresholds
	if th == nil {
		th = quality.ReportThresholds
	}
	return &Engine{
		source:     cfg.Source,
		logger:     cfg.Logger,
		clock:      c,
		thresholds: th,
		tracer:     telemetry.Tracer("watermonitor/report"),
	}
}

type history struct {
	id       string
	name     string
	readings station.Readings
}

// BuildCombined builds a report over stationIDs (every station when empty)
// restricted to keys starting with date (all time when empty). Stations
// without matching readings keep zero-count statistics. ErrNoData is
// returned when no station has a matching reading.
func (e *Engine) BuildCombined(ctx context.Context, stationIDs []string, date string) (*Combined, error) {
	if date != "" && !station.ValidDate(date) {
		return nil, ErrInvalidDate
	}

	ctx, span := e.tracer.Start(ctx, "report.BuildCombined")
	defer span.End()
	span.SetAttributes(attribute.String("report.date", date), attribute.Int("report.stations", len(stationIDs)))

	histories, err := e.fetchHistories(ctx, stationIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Combined{Date: date, GeneratedAt: e.clock.Now()}
	for _, h := range histories {
		rows, samples := collect(h, date)
		report.Rows = append(report.Rows, rows...)
		report.Stations = append(report.Stations, StationStats{
			StationID: h.id,
			Name:      h.name,
			Readings:  len(rows),
			Metrics:   samples.Stats(),
		})
	}

	span.SetAttributes(attribute.Int("report.rows", len(report.Rows)))
	if len(report.Rows) == 0 {
		return nil, ErrNoData
	}

	e.logger.Info().
		Str("date", date).
		Int("stations", len(report.Stations)).
		Int("rows", len(report.Rows)).
		Msg("combined report built")

	return report, nil
}

// BuildDaily builds one station's report for a date and flags averages that
// breach the engine's thresholds.
func (e *Engine) BuildDaily(ctx context.Context, stationID, date string) (*Daily, error) {
	if !station.ValidDate(date) {
		return nil, ErrInvalidDate
	}

	ctx, span := e.tracer.Start(ctx, "report.BuildDaily")
	defer span.End()
	span.SetAttributes(attribute.String("report.date", date), attribute.String("station.id", stationID))

	md, err := e.source.StationMetadata(ctx, stationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	readings, err := e.source.Readings(ctx, stationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch history for %s: %w", stationID, err)
	}

	h := history{id: stationID, name: md.DisplayName(stationID), readings: readings}
	rows, samples := collect(h, date)
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	stats := samples.Stats()
	return &Daily{
		StationStats: StationStats{
			StationID: stationID,
			Name:      h.name,
			Readings:  len(rows),
			Metrics:   stats,
		},
		Date:        date,
		Rows:        rows,
		Findings:    Findings(stats, e.thresholds),
		GeneratedAt: e.clock.Now(),
	}, nil
}

func (e *Engine) fetchHistories(ctx context.Context, stationIDs []string) ([]history, error) {
	md, err := e.source.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	ids := dedupe(stationIDs)
	if len(ids) == 0 {
		ids = station.SortedIDs(md)
	}

	histories := make([]history, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		histories[i] = history{id: id, name: md[id].DisplayName(id)}
		g.Go(func() error {
			readings, err := e.source.Readings(gctx, id)
			if err != nil {
				return fmt.Errorf("fetch history for %s: %w", id, err)
			}
			histories[i].readings = readings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return histories, nil
}

// collect returns h's rows whose key starts with date, with their samples.
func collect(h history, date string) ([]Row, Samples) {
	suffix := station.Suffix(h.id)
	samples := Samples{}
	var rows []Row
	for _, key := range h.readings.Keys() {
		if date != "" && !strings.HasPrefix(key, date) {
			continue
		}
		reading := h.readings[key]
		if reading == nil {
			continue
		}
		samples.Add(reading, suffix)

		row := Row{
			StationID:   h.id,
			StationName: h.name,
			Timestamp:   key,
			Values:      make(map[quality.Metric]*float64, len(quality.Metrics)),
		}
		for _, m := range quality.Metrics {
			raw, _ := reading.Value(string(m), suffix)
			if v, ok := quality.ParseValue(raw); ok {
				row.Values[m] = &v
			} else {
				row.Values[m] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows, samples
}

var findingNames = map[quality.Metric]string{
	quality.MetricPH:          "pH",
	quality.MetricTemperature: "Temperature",
	quality.MetricTurbidity:   "Turbidity",
	quality.MetricTDS:         "TDS",
}

// Findings lists averages outside thresholds, in metric display order.
func Findings(stats map[quality.Metric]Stats, thresholds quality.Thresholds) []string {
	var out []string
	for _, m := range quality.Metrics {
		avg, ok := stats[m].Average.Float64()
		if !ok {
			continue
		}
		r, ok := thresholds[m]
		if !ok {
			continue
		}
		name := findingNames[m]
		if r.Min != nil && avg < *r.Min {
			out = append(out, fmt.Sprintf("%s (Avg: %.2f) is below acceptable levels (< %g)", name, avg, *r.Min))
		}
		if r.Max != nil && avg > *r.Max {
			out = append(out, fmt.Sprintf("%s (Avg: %.2f) is above acceptable levels (> %g)", name, avg, *r.Max))
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
