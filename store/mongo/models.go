package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID            string         `bson:"_id"`
	Name          string         `bson:"name"`
	Queue         string         `bson:"queue"`
	Payload       []byte         `bson:"payload,omitempty"`
	State         string         `bson:"state"`
	Priority      int            `bson:"priority"`
	AttemptsMade  int            `bson:"attempts_made"`
	MaxAttempts   int            `bson:"max_attempts"`
	Backoff       backoff.Policy `bson:"backoff"`
	ReadyAt       time.Time      `bson:"ready_at"`
	Repeat        *cron.Rule     `bson:"repeat,omitempty"`
	RepeatID      string         `bson:"repeat_id,omitempty"`
	RepeatCount   int            `bson:"repeat_count"`
	Timeout       int64          `bson:"timeout"`
	Progress      float64        `bson:"progress"`
	Result        []byte         `bson:"result,omitempty"`
	FailureReason string         `bson:"failure_reason"`
	StalledCount  int            `bson:"stalled_count"`
	LockToken     string         `bson:"lock_token"`
	WorkerID      string         `bson:"worker_id,omitempty"`
	ProcessedAt   *time.Time     `bson:"processed_at,omitempty"`
	FinishedAt    *time.Time     `bson:"finished_at,omitempty"`
	HeartbeatAt   *time.Time     `bson:"heartbeat_at,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:            j.ID.String(),
		Name:          j.Name,
		Queue:         j.Queue,
		Payload:       j.Payload,
		State:         string(j.State),
		Priority:      j.Priority,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		Backoff:       j.Backoff,
		ReadyAt:       j.ReadyAt,
		Repeat:        j.Repeat,
		RepeatID:      j.RepeatID.String(),
		RepeatCount:   j.RepeatCount,
		Timeout:       j.Timeout.Nanoseconds(),
		Progress:      j.Progress,
		Result:        j.Result,
		FailureReason: j.FailureReason,
		StalledCount:  j.StalledCount,
		LockToken:     j.LockToken,
		WorkerID:      j.WorkerID.String(),
		ProcessedAt:   j.ProcessedAt,
		FinishedAt:    j.FinishedAt,
		HeartbeatAt:   j.HeartbeatAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: parse job id %q: %w", m.ID, err)
	}
	repeatID, err := id.ParseOptional(m.RepeatID, id.PrefixRepeat)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: parse repeat id %q: %w", m.RepeatID, err)
	}
	workerID, err := id.ParseOptional(m.WorkerID, id.PrefixWorker)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: parse worker id %q: %w", m.WorkerID, err)
	}

	return &job.Job{
		Entity: jobq.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		Name:          m.Name,
		Queue:         m.Queue,
		Payload:       m.Payload,
		State:         job.State(m.State),
		Priority:      m.Priority,
		AttemptsMade:  m.AttemptsMade,
		MaxAttempts:   m.MaxAttempts,
		Backoff:       m.Backoff,
		ReadyAt:       m.ReadyAt,
		Repeat:        m.Repeat,
		RepeatID:      repeatID,
		RepeatCount:   m.RepeatCount,
		Timeout:       time.Duration(m.Timeout),
		Progress:      m.Progress,
		Result:        m.Result,
		FailureReason: m.FailureReason,
		StalledCount:  m.StalledCount,
		LockToken:     m.LockToken,
		WorkerID:      workerID,
		ProcessedAt:   m.ProcessedAt,
		FinishedAt:    m.FinishedAt,
		HeartbeatAt:   m.HeartbeatAt,
	}, nil
}
