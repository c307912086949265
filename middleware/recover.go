package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/backlog/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (res []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger, j, r)
				res, retErr = nil, panicError(j, r)
			}
		}()
		return next(ctx)
	}
}

func logPanic(logger *slog.Logger, j *job.Job, r any) {
	logger.Error("job handler panicked",
		slog.String("job_type", string(j.Type)),
		slog.String("job_id", j.ID.String()),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
}

func panicError(j *job.Job, r any) error {
	return fmt.Errorf("panic in job %s: %v", j.Type, r)
}
