package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// hooked pairs a hook implementation with the extension name captured at
// registration time, so emitters never type-assert back to Extension.
type hooked[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobAdded        []hooked[JobAdded]
	jobWaiting      []hooked[JobWaiting]
	jobDelayed      []hooked[JobDelayed]
	jobActive       []hooked[JobActive]
	jobProgress     []hooked[JobProgress]
	jobCompleted    []hooked[JobCompleted]
	jobFailed       []hooked[JobFailed]
	jobRetrying     []hooked[JobRetrying]
	jobStalled      []hooked[JobStalled]
	jobRemoved      []hooked[JobRemoved]
	repeatScheduled []hooked[RepeatScheduled]
	shutdown        []hooked[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// cache appends e to list when it implements H.
func cache[H any](list []hooked[H], name string, e Extension) []hooked[H] {
	if h, ok := e.(H); ok {
		return append(list, hooked[H]{name: name, hook: h})
	}
	return list
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order. Register
// must not be called concurrently with the emitters.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobAdded = cache(r.jobAdded, name, e)
	r.jobWaiting = cache(r.jobWaiting, name, e)
	r.jobDelayed = cache(r.jobDelayed, name, e)
	r.jobActive = cache(r.jobActive, name, e)
	r.jobProgress = cache(r.jobProgress, name, e)
	r.jobCompleted = cache(r.jobCompleted, name, e)
	r.jobFailed = cache(r.jobFailed, name, e)
	r.jobRetrying = cache(r.jobRetrying, name, e)
	r.jobStalled = cache(r.jobStalled, name, e)
	r.jobRemoved = cache(r.jobRemoved, name, e)
	r.repeatScheduled = cache(r.repeatScheduled, name, e)
	r.shutdown = cache(r.shutdown, name, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobAdded notifies all extensions that implement JobAdded.
func (r *Registry) EmitJobAdded(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAdded {
		if err := e.hook.OnJobAdded(ctx, j); err != nil {
			r.logHookError("OnJobAdded", e.name, err)
		}
	}
}

// EmitJobWaiting notifies all extensions that implement JobWaiting.
func (r *Registry) EmitJobWaiting(ctx context.Context, j *job.Job) {
	for _, e := range r.jobWaiting {
		if err := e.hook.OnJobWaiting(ctx, j); err != nil {
			r.logHookError("OnJobWaiting", e.name, err)
		}
	}
}

// EmitJobDelayed notifies all extensions that implement JobDelayed.
func (r *Registry) EmitJobDelayed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDelayed {
		if err := e.hook.OnJobDelayed(ctx, j); err != nil {
			r.logHookError("OnJobDelayed", e.name, err)
		}
	}
}

// EmitJobQueued emits JobWaiting or JobDelayed to match the job's state.
func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job) {
	switch j.State {
	case job.StateWaiting:
		r.EmitJobWaiting(ctx, j)
	case job.StateDelayed:
		r.EmitJobDelayed(ctx, j)
	}
}

// EmitJobActive notifies all extensions that implement JobActive.
func (r *Registry) EmitJobActive(ctx context.Context, j *job.Job) {
	for _, e := range r.jobActive {
		if err := e.hook.OnJobActive(ctx, j); err != nil {
			r.logHookError("OnJobActive", e.name, err)
		}
	}
}

// EmitJobProgress notifies all extensions that implement JobProgress.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, progress float64) {
	for _, e := range r.jobProgress {
		if err := e.hook.OnJobProgress(ctx, j, progress); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, jobErr error, readyAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, jobErr, readyAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobStalled notifies all extensions that implement JobStalled.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStalled {
		if err := e.hook.OnJobStalled(ctx, j); err != nil {
			r.logHookError("OnJobStalled", e.name, err)
		}
	}
}

// EmitJobRemoved notifies all extensions that implement JobRemoved.
func (r *Registry) EmitJobRemoved(ctx context.Context, jobID id.JobID) {
	for _, e := range r.jobRemoved {
		if err := e.hook.OnJobRemoved(ctx, jobID); err != nil {
			r.logHookError("OnJobRemoved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRepeatScheduled notifies all extensions that implement
// RepeatScheduled.
func (r *Registry) EmitRepeatScheduled(ctx context.Context, prev, next *job.Job) {
	for _, e := range r.repeatScheduled {
		if err := e.hook.OnRepeatScheduled(ctx, prev, next); err != nil {
			r.logHookError("OnRepeatScheduled", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never reach the caller.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
