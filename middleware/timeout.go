package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

type outcome struct {
	result []byte
	err    error
}

// Timeout returns middleware that races the handler against the job's
// Options.Timeout. When the timer wins, the attempt fails with an error
// wrapping backlog.ErrHandlerTimeout and the handler's eventual result is
// discarded. The handler's context is cancelled at the same moment; a
// handler that ignores it keeps running in the background.
//
// Cancellation of the parent context (an abandoned attempt at shutdown)
// ends the race the same way and returns the context error.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.Options.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Options.Timeout)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logPanic(logger, j, r)
					done <- outcome{err: panicError(j, r)}
				}
			}()
			res, err := next(ctx)
			done <- outcome{result: res, err: err}
		}()

		select {
		case o := <-done:
			// A handler that failed because the deadline cancelled it is
			// still a timeout.
			if o.err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return o.result, o.err
			}
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
		}
		logger.Warn("job attempt timed out, handler abandoned",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.Duration("timeout", j.Options.Timeout),
		)
		return nil, fmt.Errorf("%w after %s", backlog.ErrHandlerTimeout, j.Options.Timeout)
	}
}
