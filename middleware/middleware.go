package middleware

import (
	"context"

	"github.com/xraph/jobq/job"
)

// Handler runs one attempt of a job and returns its JSON-encoded result.
type Handler func(ctx context.Context) ([]byte, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) ([]byte, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, j, inner)
			}
		}
		return h(ctx)
	}
}

// Default is the chain the worker pool installs when none is configured:
// panics become retryable failures and per-job timeouts are enforced.
func Default() Middleware {
	return Chain(Recover(nil), Timeout())
}
