package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope of prefetch metrics.
const MeterName = "tidb-eagerload/prefetch"

// PrefetchMetrics holds the instruments recorded while fetching a plan.
type PrefetchMetrics struct {
	fetchDuration metric.Float64Histogram
	statements    metric.Int64Counter
	skipped       metric.Int64Counter
	parentKeys    metric.Int64Histogram
	rows          metric.Int64Histogram
}

// InitPrefetchMetrics creates the prefetch instruments from the global meter provider.
func InitPrefetchMetrics() (*PrefetchMetrics, error) {
	return NewPrefetchMetrics(otel.Meter(MeterName))
}

// NewPrefetchMetrics creates the prefetch instruments from meter.
func NewPrefetchMetrics(meter metric.Meter) (*PrefetchMetrics, error) {
	fetchDuration, err := meter.Float64Histogram(
		"eagerload.fetch.duration",
		metric.WithDescription("Duration of a complete eager-load fetch in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}

	statements, err := meter.Int64Counter(
		"eagerload.prefetch.statements",
		metric.WithDescription("Number of statements issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statements counter: %w", err)
	}

	skipped, err := meter.Int64Counter(
		"eagerload.prefetch.skipped",
		metric.WithDescription("Number of prefetches skipped because no parent had a key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create skipped counter: %w", err)
	}

	parentKeys, err := meter.Int64Histogram(
		"eagerload.prefetch.parent_keys",
		metric.WithDescription("Number of parent keys bound into a prefetch statement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parent keys histogram: %w", err)
	}

	rows, err := meter.Int64Histogram(
		"eagerload.prefetch.rows",
		metric.WithDescription("Number of rows returned by a statement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	return &PrefetchMetrics{
		fetchDuration: fetchDuration,
		statements:    statements,
		skipped:       skipped,
		parentKeys:    parentKeys,
		rows:          rows,
	}, nil
}

// RecordFetch records the duration and outcome of a fetch.
func (m *PrefetchMetrics) RecordFetch(ctx context.Context, duration time.Duration, table string, failed bool) {
	m.fetchDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("table", table),
		attribute.Bool("has_errors", failed),
	))
}

// RecordStatement records one executed statement. Path is empty for the base statement.
func (m *PrefetchMetrics) RecordStatement(ctx context.Context, path string, parentKeys, rows int) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.statements.Add(ctx, 1, attrs)
	m.rows.Record(ctx, int64(rows), attrs)
	if path != "" {
		m.parentKeys.Record(ctx, int64(parentKeys), attrs)
	}
}

// RecordSkipped records a prefetch that issued no statement.
func (m *PrefetchMetrics) RecordSkipped(ctx context.Context, path, reason string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("reason", reason),
	))
}

// InitMetrics initializes the prefetch metrics against the global meter provider.
func InitMetrics(logger *slog.Logger) (*PrefetchMetrics, error) {
	metrics, err := InitPrefetchMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prefetch metrics: %w", err)
	}
	logger.Debug("prefetch metrics initialized")
	return metrics, nil
}

// Totals flattens collected metrics into one number per instrument: the sum
// of counters and the number of recordings of histograms.
func Totals(rm metricdata.ResourceMetrics) map[string]int64 {
	totals := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += int64(dp.Count)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return totals
}
