package job

import (
	"context"
	"fmt"
)

// ProgressFunc persists and announces a progress update for the job
// running under ctx.
type ProgressFunc func(ctx context.Context, progress float64) error

type (
	jobKey      struct{}
	progressKey struct{}
)

// WithJob returns a context carrying j. The executor sets it before calling
// a handler.
func WithJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// FromContext returns the job being executed under ctx.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(jobKey{}).(*Job)
	return j, ok
}

// WithProgressReporter returns a context that routes ReportProgress to fn.
func WithProgressReporter(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress records progress (0 to 100) for the job running under ctx.
// Outside a handler it is a no-op.
func ReportProgress(ctx context.Context, progress float64) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("job: progress %v out of range [0, 100]", progress)
	}
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok {
		return nil
	}
	return fn(ctx, progress)
}
