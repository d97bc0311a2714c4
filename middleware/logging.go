package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowable/jobservice/job"
)

// Logging returns middleware that logs job execution start, completion,
// and failure with structured attributes.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		logger.DebugContext(ctx, "job execution started",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", string(j.Kind)),
			slog.String("handler_type", j.HandlerType))

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.ErrorContext(ctx, "job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", string(j.Kind)),
				slog.String("handler_type", j.HandlerType),
				slog.Duration("elapsed", elapsed),
				slog.Int("retries_left", j.Retries),
				slog.String("error", err.Error()))
			return err
		}

		logger.InfoContext(ctx, "job execution completed",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", string(j.Kind)),
			slog.String("handler_type", j.HandlerType),
			slog.Duration("elapsed", elapsed))
		return nil
	}
}
