package job

import (
	"fmt"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible and waiting to be claimed.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes eligible at ReadyAt.
	StateDelayed State = "delayed"
	// StateActive means a worker owns the job and is executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateStalled means the owner stopped heartbeating and the job waits
	// to be returned to the waiting set.
	StateStalled State = "stalled"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed, StateStalled}

// ParseState validates s as a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("job: unknown state %q", s)
}

// IsFinished reports whether s is terminal (completed or failed).
func (s State) IsFinished() bool {
	return s == StateCompleted || s == StateFailed
}

// IsOutcome reports whether an active job may be finished into s.
func (s State) IsOutcome() bool {
	return s.IsFinished() || s == StateDelayed || s == StateWaiting
}

// MaxPriority is the highest accepted priority.
const MaxPriority = 2_097_152

// DefaultQueue is used when no queue is requested.
const DefaultQueue = "default"

// StalledReason is the failure reason of a job that exceeded the stall
// limit.
const StalledReason = "job stalled more than allowable limit"

// Job represents a unit of work to be processed by a worker.
type Job struct {
	jobq.Entity

	ID            id.JobID       `json:"id"`
	Name          string         `json:"name"`
	Queue         string         `json:"queue"`
	Payload       []byte         `json:"payload"`
	State         State          `json:"state"`
	Priority      int            `json:"priority"`
	AttemptsMade  int            `json:"attempts_made"`
	MaxAttempts   int            `json:"max_attempts"`
	Backoff       backoff.Policy `json:"backoff"`
	ReadyAt       time.Time      `json:"ready_at"`
	Repeat        *cron.Rule     `json:"repeat,omitempty"`
	RepeatID      id.RepeatID    `json:"repeat_id,omitempty"`
	RepeatCount   int            `json:"repeat_count,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Progress      float64        `json:"progress"`
	Result        []byte         `json:"result,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	StalledCount  int            `json:"stalled_count"`
	LockToken     string         `json:"-"`
	WorkerID      id.WorkerID    `json:"worker_id,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	HeartbeatAt   *time.Time     `json:"heartbeat_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.Payload = cloneBytes(j.Payload)
	c.Result = cloneBytes(j.Result)
	if j.Repeat != nil {
		r := *j.Repeat
		c.Repeat = &r
	}
	c.ProcessedAt = cloneTime(j.ProcessedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &c
}

// Less reports whether j is claimed before other: higher priority first,
// then earlier ReadyAt, then lower ID.
func (j *Job) Less(other *Job) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	if !j.ReadyAt.Equal(other.ReadyAt) {
		return j.ReadyAt.Before(other.ReadyAt)
	}
	return j.ID.Compare(other.ID) < 0
}

// CanRetry reports whether another attempt is allowed after the current
// failure has been counted.
func (j *Job) CanRetry() bool {
	return j.AttemptsMade < j.MaxAttempts
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
