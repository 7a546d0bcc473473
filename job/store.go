package job

import (
	"context"
	"time"

	"github.com/xraph/jobq/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Claim identifies the owner taking a job.
type Claim struct {
	// Token is the lock token every owner-conditional write must present.
	Token string
	// WorkerID identifies the claiming dispatcher.
	WorkerID id.WorkerID
	// Now is recorded as ProcessedAt and the first heartbeat.
	Now time.Time
}

// Store defines the persistence contract for jobs. Every method is atomic
// with respect to concurrent claims, across processes sharing the backend.
type Store interface {
	// EnqueueJob persists a new job in its initial state (waiting or
	// delayed). Returns jobq.ErrJobAlreadyExists for a duplicate ID.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob moves the first waiting job of queue, ordered by priority
	// desc, ReadyAt asc and ID asc, to active under claim. It returns
	// (nil, nil) when nothing is waiting.
	ClaimJob(ctx context.Context, queue string, claim Claim) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs in state ordered by priority desc,
	// ReadyAt asc and ID asc.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob extends the lock of an active job. Returns
	// jobq.ErrLockLost when the job is no longer active under token.
	HeartbeatJob(ctx context.Context, jobID id.JobID, token string, now time.Time) error

	// UpdateProgress records progress of an active job owned by token.
	UpdateProgress(ctx context.Context, jobID id.JobID, token string, progress float64) error

	// FinishJob writes the outcome held in j (state completed, failed,
	// delayed or waiting plus the matching fields) if the job is still
	// active under token. Otherwise it returns jobq.ErrLockLost and
	// changes nothing.
	FinishJob(ctx context.Context, j *Job, token string) error

	// PromoteJobs moves up to limit delayed jobs with ReadyAt <= now, and
	// stalled jobs, to waiting. It returns the promoted jobs.
	PromoteJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ReapStalled moves active jobs whose last heartbeat is before cutoff
	// to stalled, incrementing StalledCount and clearing the lock. A job
	// whose StalledCount then exceeds maxStalled moves to failed instead.
	ReapStalled(ctx context.Context, cutoff time.Time, maxStalled int, now time.Time) ([]*Job, error)

	// RetryJob moves a failed job back to waiting and resets its attempt
	// accounting. Returns jobq.ErrInvalidState for any other state.
	RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// EvictJobs deletes jobs in a finished state whose FinishedAt is
	// before olderThan. It returns the number removed.
	EvictJobs(ctx context.Context, state State, olderThan time.Time) (int64, error)

	// TrimJobs deletes all but the newest keep jobs in a finished state.
	TrimJobs(ctx context.Context, state State, keep int) (int64, error)
}
