package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/jobq/job"
)

// PanicError is returned by Recover when a handler panics. It is an
// ordinary retryable failure.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Recover returns middleware that turns a handler panic into a
// *PanicError. A nil logger uses slog.Default.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (res []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				l := logger
				if l == nil {
					l = slog.Default()
				}
				l.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(stack)),
				)
				res, retErr = nil, &PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
