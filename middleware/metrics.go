package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/job"
)

// meterName is the instrumentation scope name for backlog metrics.
const meterName = "github.com/xraph/backlog"

// Metrics returns middleware that records per-attempt metrics using the
// global MeterProvider.
//
// Instruments:
//   - backlog.job.duration (Float64Histogram): attempt time in seconds
//   - backlog.job.executions (Int64Counter): total attempts
//
// Both carry the attributes job_type, queue, and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"backlog.job.duration",
		metric.WithDescription("Duration of job attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"backlog.job.executions",
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return res, err
	}
}
