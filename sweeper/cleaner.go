package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanupInterval sets the sweep period.
func WithCleanupInterval(d time.Duration) CleanerOption {
	return func(c *Cleaner) { c.interval = d }
}

// WithRetention sets how long terminal jobs are kept.
func WithRetention(d time.Duration) CleanerOption {
	return func(c *Cleaner) { c.retention = d }
}

// WithCleanupBatch sets how many ids are read per store round trip.
func WithCleanupBatch(n int) CleanerOption {
	return func(c *Cleaner) { c.batch = n }
}

// WithCleanerClock overrides the time source.
func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.ticker.now = now }
}

// Cleaner deletes completed and failed jobs older than the retention
// window, measured from CompletedAt or FailedAt.
type Cleaner struct {
	ticker

	store     job.Store
	retention time.Duration
	batch     int
}

// NewCleaner creates a Cleaner.
func NewCleaner(store job.Store, logger *slog.Logger, opts ...CleanerOption) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cleaner{
		ticker: ticker{
			name:     "cleanup sweeper",
			interval: 5 * time.Minute,
			now:      time.Now,
			logger:   logger,
		},
		store:     store,
		retention: 7 * 24 * time.Hour,
		batch:     500,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sweep = c.Sweep
	return c
}

// Sweep deletes every expired terminal job and returns how many it removed.
func (c *Cleaner) Sweep(ctx context.Context, now time.Time) (int, error) {
	queues, err := c.store.ListQueues(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := job.TimeScore(now.Add(-c.retention))
	total := 0
	for _, q := range queues {
		for _, index := range []job.State{job.StateCompleted, job.StateFailed} {
			n, err := c.purge(ctx, q, index, cutoff)
			total += n
			if err != nil {
				c.logger.Error("cleanup error",
					slog.String("queue", q),
					slog.String("index", string(index)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if total > 0 {
		c.logger.Info("expired jobs removed", slog.Int("jobs", total))
	}
	return total, nil
}

// purge removes batches until a short batch shows the range is drained.
// A full batch that removes nothing also ends the pass, since the range
// would return the same undeletable ids again.
func (c *Cleaner) purge(ctx context.Context, queue string, index job.State, cutoff float64) (int, error) {
	removed := 0
	for {
		ids, err := c.store.RangeByScore(ctx, queue, index, cutoff, c.batch)
		if err != nil {
			return removed, err
		}
		progress := 0
		for _, jobID := range ids {
			err := c.store.DeleteJob(ctx, queue, jobID, index)
			if errors.Is(err, backlog.ErrJobNotFound) || errors.Is(err, backlog.ErrJobMoved) {
				continue
			}
			if err != nil {
				return removed, err
			}
			progress++
		}
		removed += progress
		if c.batch <= 0 || len(ids) < c.batch || ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if progress == 0 {
			c.logger.Warn("cleanup skipped undeletable index entries",
				slog.String("queue", queue),
				slog.String("index", string(index)),
				slog.Int("entries", len(ids)),
			)
			return removed, nil
		}
	}
}
