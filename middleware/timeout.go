package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/jobq/job"
)

// ErrTimeout is matched by the error of an attempt that outlived its
// job's Timeout.
var ErrTimeout = errors.New("job attempt timed out")

// Timeout returns middleware that enforces the job's per-attempt Timeout.
// The handler context is cancelled at the deadline. If the handler returns
// afterwards, with any error or none, the attempt fails with an error
// matching ErrTimeout and context.DeadlineExceeded.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeoutCause(ctx, j.Timeout, ErrTimeout)
		defer cancel()

		res, err := next(ctx)
		if errors.Is(context.Cause(ctx), ErrTimeout) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, j.Timeout, context.DeadlineExceeded)
		}
		return res, err
	}
}
