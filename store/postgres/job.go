package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, attempts_made, max_attempts,
	backoff, ready_at, repeat, repeat_id, repeat_count, timeout, progress,
	result, failure_reason, stalled_count, lock_token, worker_id,
	processed_at, finished_at, heartbeat_at, created_at, updated_at`

// claimOrder is the order of the claim index.
const claimOrder = `priority DESC, ready_at ASC, id ASC`

// EnqueueJob persists a new job in its initial state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobq_jobs (`+jobColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		j.ID, j.Name, j.Queue, j.Payload, string(j.State), j.Priority, j.AttemptsMade, j.MaxAttempts,
		j.Backoff, j.ReadyAt, j.Repeat, j.RepeatID, j.RepeatCount, j.Timeout.Nanoseconds(), j.Progress,
		j.Result, j.FailureReason, j.StalledCount, nullString(j.LockToken), j.WorkerID,
		j.ProcessedAt, j.FinishedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobq.ErrJobAlreadyExists
		}
		return s.wrap("enqueue job", err)
	}
	return nil
}

// ClaimJob locks the head of the queue's waiting set with SKIP LOCKED and
// moves it to active in the same statement.
func (s *Store) ClaimJob(ctx context.Context, queue string, claim job.Claim) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobq_jobs
		SET state = 'active', lock_token = $2, worker_id = $3,
		    processed_at = $4, heartbeat_at = $4, updated_at = $4
		WHERE id = (
			SELECT id FROM jobq_jobs
			WHERE state = 'waiting' AND queue = $1
			ORDER BY `+claimOrder+`
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queue, claim.Token, claim.WorkerID, claim.Now.UTC(),
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("claim job", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobq_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobq.ErrJobNotFound
		}
		return nil, s.wrap("get job", err)
	}
	return j, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_jobs WHERE id = $1`, jobID)
	if err != nil {
		return s.wrap("delete job", err)
	}
	if tag.RowsAffected() == 0 {
		return jobq.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state in claim order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobq_jobs
		WHERE state = $1 AND ($2 = '' OR queue = $2)
		ORDER BY `+claimOrder+`
		LIMIT $3 OFFSET $4`,
		string(state), opts.Queue, limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, s.wrap("list jobs", err)
	}
	return s.collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobq_jobs
		WHERE ($1 = '' OR queue = $1) AND ($2 = '' OR state = $2)`,
		opts.Queue, string(opts.State),
	).Scan(&count)
	if err != nil {
		return 0, s.wrap("count jobs", err)
	}
	return count, nil
}

// HeartbeatJob extends the lock of an owned active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, token string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET heartbeat_at = $3
		WHERE id = $1 AND state = 'active' AND lock_token = $2`,
		jobID, token, now.UTC(),
	)
	if err != nil {
		return s.wrap("heartbeat job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.lostOrMissing(ctx, jobID)
	}
	return nil
}

// UpdateProgress records progress of an owned active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, token string, progress float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET progress = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lock_token = $2`,
		jobID, token, progress,
	)
	if err != nil {
		return s.wrap("update progress", err)
	}
	if tag.RowsAffected() == 0 {
		return s.lostOrMissing(ctx, jobID)
	}
	return nil
}

// FinishJob writes the outcome in j if token still owns the job.
func (s *Store) FinishJob(ctx context.Context, j *job.Job, token string) error {
	if !j.State.IsOutcome() {
		return jobq.ErrInvalidState
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			state = $3, attempts_made = $4, ready_at = $5, progress = $6,
			result = $7, failure_reason = $8, finished_at = $9, updated_at = $10,
			lock_token = NULL
		WHERE id = $1 AND state = 'active' AND lock_token = $2`,
		j.ID, token, string(j.State), j.AttemptsMade, j.ReadyAt, j.Progress,
		j.Result, j.FailureReason, j.FinishedAt, j.UpdatedAt,
	)
	if err != nil {
		return s.wrap("finish job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.lostOrMissing(ctx, j.ID)
	}
	return nil
}

// PromoteJobs moves stalled jobs and due delayed jobs to waiting.
func (s *Store) PromoteJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobq_jobs SET state = 'waiting', updated_at = $1
		WHERE id IN (
			SELECT id FROM jobq_jobs
			WHERE state = 'stalled' OR (state = 'delayed' AND ready_at <= $1)
			ORDER BY ready_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now.UTC(), limitArg(limit),
	)
	if err != nil {
		return nil, s.wrap("promote jobs", err)
	}
	return s.collectJobs(rows)
}

// ReapStalled moves active jobs with a heartbeat older than cutoff to
// stalled, or to failed once their stall count passes maxStalled.
func (s *Store) ReapStalled(ctx context.Context, cutoff time.Time, maxStalled int, now time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobq_jobs SET
			stalled_count = stalled_count + 1,
			state = CASE WHEN stalled_count + 1 > $2 THEN 'failed' ELSE 'stalled' END,
			failure_reason = CASE WHEN stalled_count + 1 > $2 THEN $4 ELSE failure_reason END,
			finished_at = CASE WHEN stalled_count + 1 > $2 THEN $3 ELSE finished_at END,
			lock_token = NULL,
			updated_at = $3
		WHERE id IN (
			SELECT id FROM jobq_jobs
			WHERE state = 'active' AND heartbeat_at < $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		cutoff.UTC(), maxStalled, now.UTC(), job.StalledReason,
	)
	if err != nil {
		return nil, s.wrap("reap stalled", err)
	}
	return s.collectJobs(rows)
}

// RetryJob moves a failed job back to waiting.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobq_jobs SET
			state = 'waiting', attempts_made = 0, stalled_count = 0,
			failure_reason = '', result = NULL, progress = 0, finished_at = NULL,
			lock_token = NULL, ready_at = GREATEST(ready_at, $2), updated_at = $2
		WHERE id = $1 AND state = 'failed'
		RETURNING `+jobColumns,
		jobID, now.UTC(),
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, jobq.ErrInvalidState
	}
	if err != nil {
		return nil, s.wrap("retry job", err)
	}
	return j, nil
}

// EvictJobs deletes finished jobs whose FinishedAt is before olderThan.
func (s *Store) EvictJobs(ctx context.Context, state job.State, olderThan time.Time) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobq_jobs WHERE state = $1 AND finished_at < $2`,
		string(state), olderThan.UTC(),
	)
	if err != nil {
		return 0, s.wrap("evict jobs", err)
	}
	return tag.RowsAffected(), nil
}

// TrimJobs keeps the newest keep jobs in a finished state.
func (s *Store) TrimJobs(ctx context.Context, state job.State, keep int) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobq_jobs WHERE id IN (
			SELECT id FROM jobq_jobs WHERE state = $1
			ORDER BY finished_at DESC, id DESC
			OFFSET $2
		)`,
		string(state), keep,
	)
	if err != nil {
		return 0, s.wrap("trim jobs", err)
	}
	return tag.RowsAffected(), nil
}

// lostOrMissing resolves a zero-row owner-conditional update.
func (s *Store) lostOrMissing(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobq_jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return s.wrap("check job", err)
	}
	if !exists {
		return jobq.ErrJobNotFound
	}
	return jobq.ErrLockLost
}

// limitArg maps "no limit" to NULL, which Postgres reads as LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		state     string
		timeoutNs int64
		lockToken *string
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Queue, &j.Payload, &state, &j.Priority, &j.AttemptsMade, &j.MaxAttempts,
		&j.Backoff, &j.ReadyAt, &j.Repeat, &j.RepeatID, &j.RepeatCount, &timeoutNs, &j.Progress,
		&j.Result, &j.FailureReason, &j.StalledCount, &lockToken, &j.WorkerID,
		&j.ProcessedAt, &j.FinishedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(state)
	j.Timeout = time.Duration(timeoutNs)
	if lockToken != nil {
		j.LockToken = *lockToken
	}
	j.ReadyAt = j.ReadyAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func (s *Store) collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterate job rows", err)
	}
	return jobs, nil
}
