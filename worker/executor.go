// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and routes the outcome,
// and a Pool that runs the per-queue loops claiming jobs from the store.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
)

// ErrAbandoned is returned by Execute when the attempt's context was
// cancelled by shutdown. The job is left in the active index.
var ErrAbandoned = errors.New("worker: attempt abandoned at shutdown")

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware appends middleware around every handler invocation.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithMaxBackoff caps the retry delay. Zero means no cap.
func WithMaxBackoff(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.maxBackoff = d }
}

// WithExecutorClock overrides the time source.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// Executor runs a single claimed job through middleware and its handler,
// then moves it to completed, delayed (retry), or failed.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mws        []middleware.Middleware
	mw         middleware.Middleware
	maxBackoff time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mw = middleware.Chain(e.mws...)
	return e
}

// Execute runs an active job. The returned error is the attempt's
// *job.HandlerError, a store error from recording the outcome, or
// ErrAbandoned; nil means the job completed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, err := e.registry.Resolve(j.Type)
	if err != nil {
		// Retrying cannot fix a missing handler.
		if j.Attempts < j.Options.MaxAttempts {
			j.Attempts = j.Options.MaxAttempts
		}
		return e.handleFailure(ctx, j, err)
	}

	e.extensions.EmitJobStarted(ctx, j)
	start := time.Now()

	payload := j.Payload
	result, err := e.mw(ctx, j, func(ctx context.Context) ([]byte, error) {
		return handler(ctx, payload)
	})
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		e.logger.Warn("job attempt abandoned, leaving it active",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		)
		return ErrAbandoned
	}

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, result, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	now := e.now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.CompletedAt = &now

	if err := e.record(ctx, j); err != nil {
		return err
	}
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure retries with backoff while attempts remain, otherwise
// fails the job for good.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, cause error) error {
	now := e.now().UTC()
	j.Error = cause.Error()
	herr := &job.HandlerError{Type: j.Type, Attempt: j.Attempts, Err: cause}

	if j.Attempts < j.Options.MaxAttempts {
		delay := backoff.For(j.Options.Backoff, e.maxBackoff).Delay(j.Attempts)
		j.State = job.StateDelayed
		j.RunAt = now.Add(delay)

		if err := e.record(ctx, j); err != nil {
			return err
		}
		e.extensions.EmitJobRetrying(ctx, j, j.Attempts, j.RunAt)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.Options.MaxAttempts),
			slog.Duration("delay", delay),
		)
		return herr
	}

	j.State = job.StateFailed
	j.FailedAt = &now
	if err := e.record(ctx, j); err != nil {
		return err
	}
	e.extensions.EmitJobFailed(ctx, j, herr)
	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
		slog.String("error", j.Error),
	)
	return herr
}

// record moves the job out of active. Losing the move means the job was
// requeued underneath us; the outcome is dropped.
func (e *Executor) record(ctx context.Context, j *job.Job) error {
	err := e.store.MoveJob(ctx, j, job.StateActive)
	if errors.Is(err, backlog.ErrJobMoved) || errors.Is(err, backlog.ErrJobNotFound) {
		e.logger.Warn("job left active before its outcome was recorded",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("outcome", string(j.State)),
		)
		return err
	}
	if err != nil {
		e.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("outcome", string(j.State)),
			slog.String("error", err.Error()),
		)
	}
	return err
}
