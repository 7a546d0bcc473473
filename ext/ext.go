package ext

import (
	"context"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobAdded is called after a submitted job is persisted.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobWaiting is called when a job becomes eligible: on submission without
// delay, on promotion from delayed or stalled, and on immediate retry.
type JobWaiting interface {
	OnJobWaiting(ctx context.Context, j *job.Job) error
}

// JobDelayed is called when a job is parked until its ReadyAt.
type JobDelayed interface {
	OnJobDelayed(ctx context.Context, j *job.Job) error
}

// JobActive is called after a slot claims a job and before its handler
// runs.
type JobActive interface {
	OnJobActive(ctx context.Context, j *job.Job) error
}

// JobProgress is called after a handler's progress report is stored.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress float64) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails permanently.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed attempt is rescheduled. readyAt is
// when the next attempt becomes eligible.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, readyAt time.Time) error
}

// JobStalled is called when the reaper takes a job away from an owner
// that stopped heartbeating.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// JobRemoved is called after a job is deleted by a producer.
type JobRemoved interface {
	OnJobRemoved(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RepeatScheduled is called when the next occurrence of a repeating job
// is enqueued.
type RepeatScheduled interface {
	OnRepeatScheduled(ctx context.Context, prev, next *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
