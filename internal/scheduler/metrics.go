package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// schedulerMetrics holds the counters RunWatchList's per-keyword workers
// record against the process-wide MeterProvider telemetry.InitMeterProvider
// installs. Metrics are best-effort: a nil/no-op MeterProvider (the default
// when OTEL_EXPORTER_OTLP_ENDPOINT is unset) makes every counter a no-op, so
// the scheduler never needs to branch on whether telemetry is configured.
type schedulerMetrics struct {
	keywordsSucceeded metric.Int64Counter
	keywordsFailed    metric.Int64Counter
	priceRowsWritten  metric.Int64Counter
}

func newSchedulerMetrics() schedulerMetrics {
	meter := otel.Meter("pharmaceutical-price-discovery/scheduler")

	succeeded, _ := meter.Int64Counter("scheduler.keywords.succeeded",
		metric.WithDescription("keywords whose acquisition and persistence completed"))
	failed, _ := meter.Int64Counter("scheduler.keywords.failed",
		metric.WithDescription("keywords that exhausted retries without success"))
	rows, _ := meter.Int64Counter("scheduler.price_rows.written",
		metric.WithDescription("price observation rows appended"))

	return schedulerMetrics{keywordsSucceeded: succeeded, keywordsFailed: failed, priceRowsWritten: rows}
}

func (m schedulerMetrics) recordSuccess(ctx context.Context, rows int) {
	m.keywordsSucceeded.Add(ctx, 1)
	if rows > 0 {
		m.priceRowsWritten.Add(ctx, int64(rows))
	}
}

func (m schedulerMetrics) recordFailure(ctx context.Context) {
	m.keywordsFailed.Add(ctx, 1)
}
