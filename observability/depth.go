package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/job"
)

// CountSource reports per-queue index sizes. Every job.Store is one.
type CountSource interface {
	ListQueues(ctx context.Context) ([]string, error)
	CountJobs(ctx context.Context, queue string) (job.Counts, error)
}

// RegisterQueueDepth exports backlog.queue.depth, one observation per queue
// and state, read from src at collection time. Unregister the returned
// registration to stop reporting.
func RegisterQueueDepth(meter metric.Meter, src CountSource) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("backlog.queue.depth",
		metric.WithDescription("Jobs per queue and index"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		queues, err := src.ListQueues(ctx)
		if err != nil {
			return err
		}
		for _, q := range queues {
			c, err := src.CountJobs(ctx, q)
			if err != nil {
				return err
			}
			for state, n := range map[job.State]int64{
				job.StateWaiting:   c.Waiting,
				job.StateActive:    c.Active,
				job.StateDelayed:   c.Delayed,
				job.StateCompleted: c.Completed,
				job.StateFailed:    c.Failed,
			} {
				o.ObserveInt64(gauge, n, metric.WithAttributes(
					attribute.String("queue", q),
					attribute.String("state", string(state)),
				))
			}
		}
		return nil
	}, gauge)
}
