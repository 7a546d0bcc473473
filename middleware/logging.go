package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobq/job"
)

// Logging returns middleware that logs each attempt and its outcome.
// Failures that will be retried log at warn, final failures at error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		attempt := j.AttemptsMade + 1
		logger.Debug("job attempt started",
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", attempt),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			logger.Info("job completed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
			)
		case !job.IsTerminal(err) && attempt < j.MaxAttempts:
			logger.Warn("job attempt failed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", j.MaxAttempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Error("job failed",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}
		return res, err
	}
}
