package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// PromoterOption configures a Promoter.
type PromoterOption func(*Promoter)

// WithPromoteInterval sets the sweep period.
func WithPromoteInterval(d time.Duration) PromoterOption {
	return func(p *Promoter) { p.interval = d }
}

// WithPromoteBatch bounds how many jobs one queue promotes per sweep.
func WithPromoteBatch(n int) PromoterOption {
	return func(p *Promoter) { p.batch = n }
}

// WithStaleActiveAfter enables requeueing jobs that stayed active longer
// than d. Zero leaves them alone.
func WithStaleActiveAfter(d time.Duration) PromoterOption {
	return func(p *Promoter) { p.staleAfter = d }
}

// WithPromotedHook is called once per queue that received jobs in a sweep.
func WithPromotedHook(fn func(queue string)) PromoterOption {
	return func(p *Promoter) { p.onPromoted = fn }
}

// WithPromoterClock overrides the time source.
func WithPromoterClock(now func() time.Time) PromoterOption {
	return func(p *Promoter) { p.ticker.now = now }
}

// Promoter moves delayed jobs whose RunAt has passed into waiting, where
// the store gives them a fresh sequence number at their original priority.
type Promoter struct {
	ticker

	store      job.Store
	batch      int
	staleAfter time.Duration
	onPromoted func(queue string)
}

// NewPromoter creates a Promoter.
func NewPromoter(store job.Store, logger *slog.Logger, opts ...PromoterOption) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Promoter{
		ticker: ticker{
			name:     "delayed promoter",
			interval: 5 * time.Second,
			now:      time.Now,
			logger:   logger,
		},
		store: store,
		batch: 100,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sweep = p.Sweep
	return p
}

// Sweep promotes every queue once and returns the number of jobs moved
// into waiting. A failing queue is logged and skipped.
func (p *Promoter) Sweep(ctx context.Context, now time.Time) (int, error) {
	queues, err := p.store.ListQueues(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, q := range queues {
		n, err := p.move(ctx, q, job.StateDelayed, job.TimeScore(now))
		if err != nil {
			p.logger.Error("promote delayed jobs error",
				slog.String("queue", q),
				slog.String("error", err.Error()),
			)
		}

		if p.staleAfter > 0 {
			stale, err := p.move(ctx, q, job.StateActive, job.TimeScore(now.Add(-p.staleAfter)))
			if err != nil {
				p.logger.Error("requeue stale jobs error",
					slog.String("queue", q),
					slog.String("error", err.Error()),
				)
			}
			if stale > 0 {
				p.logger.Warn("requeued stale active jobs",
					slog.String("queue", q),
					slog.Int("jobs", stale),
					slog.Duration("stale_after", p.staleAfter),
				)
			}
			n += stale
		}

		if n > 0 && p.onPromoted != nil {
			p.onPromoted(q)
		}
		total += n
	}
	return total, nil
}

// move transfers up to batch jobs scored at most maxScore from index to
// waiting. Jobs that moved on in the meantime are skipped.
func (p *Promoter) move(ctx context.Context, queue string, index job.State, maxScore float64) (int, error) {
	ids, err := p.store.RangeByScore(ctx, queue, index, maxScore, p.batch)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, jobID := range ids {
		ok, err := p.promote(ctx, queue, jobID, index)
		if err != nil {
			return moved, err
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

func (p *Promoter) promote(ctx context.Context, queue string, jobID id.JobID, from job.State) (bool, error) {
	j, err := p.store.GetJob(ctx, queue, jobID)
	if errors.Is(err, backlog.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	j.State = job.StateWaiting

	err = p.store.MoveJob(ctx, j, from)
	if errors.Is(err, backlog.ErrJobMoved) || errors.Is(err, backlog.ErrJobNotFound) {
		return false, nil
	}
	return err == nil, err
}
