package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Logging returns middleware that logs each attempt's start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		logger.Debug("job attempt started",
			slog.String("job_type", string(j.Type)),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job attempt failed",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job attempt succeeded",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res, err
	}
}
