package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

const meterName = "github.com/xraph/backlog/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.JobEnqueued      = (*MetricsExtension)(nil)
	_ ext.JobStarted       = (*MetricsExtension)(nil)
	_ ext.JobCompleted     = (*MetricsExtension)(nil)
	_ ext.JobRetrying      = (*MetricsExtension)(nil)
	_ ext.JobFailed        = (*MetricsExtension)(nil)
	_ ext.RecurringFired   = (*MetricsExtension)(nil)
	_ ext.CacheInvalidated = (*MetricsExtension)(nil)
)

// MetricsExtension counts lifecycle events. Job counters carry the queue
// and job_type attributes.
type MetricsExtension struct {
	JobEnqueued      metric.Int64Counter
	JobStarted       metric.Int64Counter
	JobCompleted     metric.Int64Counter
	JobRetried       metric.Int64Counter
	JobFailed        metric.Int64Counter
	RecurringFired   metric.Int64Counter
	CacheInvalidated metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API hands back a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:      counter("backlog.job.enqueued", "Jobs persisted by AddJob"),
		JobStarted:       counter("backlog.job.started", "Jobs claimed by a worker loop"),
		JobCompleted:     counter("backlog.job.completed", "Jobs moved to completed"),
		JobRetried:       counter("backlog.job.retried", "Failed attempts moved to delayed"),
		JobFailed:        counter("backlog.job.failed", "Jobs moved to failed"),
		RecurringFired:   counter("backlog.recurring.fired", "Jobs enqueued by recurring definitions"),
		CacheInvalidated: counter("backlog.cache.invalidated", "Local cache invalidations"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("job_type", string(j.Type)),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnRecurringFired implements ext.RecurringFired.
func (m *MetricsExtension) OnRecurringFired(ctx context.Context, key string, _ id.JobID) error {
	m.RecurringFired.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
	return nil
}

// OnCacheInvalidated implements ext.CacheInvalidated.
func (m *MetricsExtension) OnCacheInvalidated(ctx context.Context, _, _ string, _ int, remote bool) error {
	origin := "local"
	if remote {
		origin = "remote"
	}
	m.CacheInvalidated.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
	return nil
}
