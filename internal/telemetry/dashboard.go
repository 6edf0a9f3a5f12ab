package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const dashboardMeterName = "github.com/watermonitor/watermonitor/internal/telemetry"

// Refresh and report outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCacheHit  = "cache_hit"
	OutcomeDiscarded = "discarded"
	OutcomeNoData    = "no_data"
)

// DashboardMetrics holds the domain instruments for the dashboard read model.
type DashboardMetrics struct {
	refreshTotal    metric.Int64Counter
	refreshDuration metric.Float64Histogram
	staleStations   metric.Int64Gauge
	alertMetrics    metric.Int64Gauge
	reportBuilds    metric.Int64Counter
}

// NewDashboardMetrics creates the dashboard instruments on the global meter.
func NewDashboardMetrics() (*DashboardMetrics, error) {
	meter := Meter(dashboardMeterName)

	refreshTotal, err := meter.Int64Counter(
		"watermonitor.refresh.total",
		metric.WithDescription("Snapshot refresh cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	refreshDuration, err := meter.Float64Histogram(
		"watermonitor.refresh.duration",
		metric.WithDescription("Duration of snapshot refresh cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	staleStations, err := meter.Int64Gauge(
		"watermonitor.stations.stale",
		metric.WithDescription("Stations whose newest reading is older than the staleness threshold"),
		metric.WithUnit("{station}"),
	)
	if err != nil {
		return nil, err
	}

	alertMetrics, err := meter.Int64Gauge(
		"watermonitor.metrics.alerting",
		metric.WithDescription("Metrics outside their display range in the latest snapshot set"),
		metric.WithUnit("{metric}"),
	)
	if err != nil {
		return nil, err
	}

	reportBuilds, err := meter.Int64Counter(
		"watermonitor.report.builds",
		metric.WithDescription("Report builds by kind and outcome"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	return &DashboardMetrics{
		refreshTotal:    refreshTotal,
		refreshDuration: refreshDuration,
		staleStations:   staleStations,
		alertMetrics:    alertMetrics,
		reportBuilds:    reportBuilds,
	}, nil
}

// RecordRefresh records one refresh cycle. Nil receivers are ignored.
func (m *DashboardMetrics) RecordRefresh(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.refreshTotal.Add(ctx, 1, attrs)
	if outcome != OutcomeCacheHit {
		m.refreshDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordAlerts records the alerting metric count of the latest snapshot set.
func (m *DashboardMetrics) RecordAlerts(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.alertMetrics.Record(ctx, int64(n))
}

// RecordStale records the current stale station count.
func (m *DashboardMetrics) RecordStale(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.staleStations.Record(ctx, int64(n))
}

// RecordReport records a report build.
func (m *DashboardMetrics) RecordReport(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.reportBuilds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
