package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/flowable/jobservice/job"
)

// Recover returns middleware that converts handler panics into errors so
// a panicking handler moves through the normal retry and dead-letter
// path instead of crashing the worker.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.ErrorContext(ctx, "job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("handler_type", j.HandlerType),
					slog.Any("panic", r),
					slog.String("stack", string(stack)))
				err = fmt.Errorf("jobservice/middleware: handler panic: %v", r)
			}
		}()
		return next(ctx)
	}
}
