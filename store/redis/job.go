package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// EnqueueJob stores the job Hash and indexes it under its initial state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	r := rank(j)
	args := []any{s.prefix, jID, string(j.State), j.Queue, r, indexScore(j)}
	args = append(args, jobFields(j, r)...)

	n, err := enqueueScript.Run(ctx, s.client, []string{s.jobKey(jID)}, args...).Int()
	if err != nil {
		return s.wrap("enqueue job", err)
	}
	if n == 0 {
		return jobq.ErrJobAlreadyExists
	}
	return nil
}

// ClaimJob takes the head of the queue's waiting index.
func (s *Store) ClaimJob(ctx context.Context, queue string, claim job.Claim) (*job.Job, error) {
	now := claim.Now.UTC()
	res, err := claimScript.Run(ctx, s.client, nil,
		s.prefix, queue, claim.Token, claim.WorkerID.String(), millis(now), formatTime(now),
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("claim job", err)
	}
	return replyToJob(res)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(jobID.String())).Result()
	if err != nil {
		return nil, s.wrap("get job", err)
	}
	if len(vals) == 0 {
		return nil, jobq.ErrJobNotFound
	}
	return mapToJob(vals)
}

// DeleteJob removes a job and every index entry pointing at it.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	n, err := deleteScript.Run(ctx, s.client, nil, s.prefix, jobID.String()).Int()
	if err != nil {
		return s.wrap("delete job", err)
	}
	if n == 0 {
		return jobq.ErrJobNotFound
	}
	return nil
}

// ListJobsByState pages through the rank index of state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ranks, err := s.client.ZRange(ctx, s.indexKey(state, opts.Queue), start, stop).Result()
	if err != nil {
		return nil, s.wrap("list jobs", err)
	}
	if len(ranks) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ranks))
	for i, r := range ranks {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(rankID(r)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.wrap("list jobs", err)
	}

	jobs := make([]*job.Job, 0, len(cmds))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue // removed between the range and the read
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs sums the cardinality of the matching rank indexes.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	states := job.States
	if opts.State != "" {
		states = []job.State{opts.State}
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.IntCmd, len(states))
	for i, st := range states {
		cmds[i] = pipe.ZCard(ctx, s.indexKey(st, opts.Queue))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.wrap("count jobs", err)
	}

	var total int64
	for _, cmd := range cmds {
		total += cmd.Val()
	}
	return total, nil
}

// HeartbeatJob refreshes the lock of an owned active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, token string, now time.Time) error {
	jID := jobID.String()
	n, err := heartbeatScript.Run(ctx, s.client, []string{s.jobKey(jID)},
		s.prefix, jID, token, millis(now), formatTime(now.UTC()),
	).Int()
	if err != nil {
		return s.wrap("heartbeat job", err)
	}
	return ownership(n)
}

// UpdateProgress records progress of an owned active job.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, token string, progress float64) error {
	jID := jobID.String()
	n, err := progressScript.Run(ctx, s.client, []string{s.jobKey(jID)},
		s.prefix, jID, token, strconv.FormatFloat(progress, 'f', -1, 64), formatTime(time.Now().UTC()),
	).Int()
	if err != nil {
		return s.wrap("update progress", err)
	}
	return ownership(n)
}

// FinishJob writes the outcome in j if token still owns the job.
func (s *Store) FinishJob(ctx context.Context, j *job.Job, token string) error {
	if !j.State.IsOutcome() {
		return jobq.ErrInvalidState
	}
	out := j.Clone()
	out.LockToken = ""
	n, err := s.transition(ctx, out, token, job.StateActive)
	if err != nil {
		return s.wrap("finish job", err)
	}
	return ownership(n)
}

// RetryJob moves a failed job back to waiting.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateFailed {
		return nil, jobq.ErrInvalidState
	}

	now = now.UTC()
	j.State = job.StateWaiting
	j.AttemptsMade = 0
	j.StalledCount = 0
	j.FailureReason = ""
	j.Result = nil
	j.Progress = 0
	j.FinishedAt = nil
	j.LockToken = ""
	if now.After(j.ReadyAt) {
		j.ReadyAt = now
	}
	j.UpdatedAt = now

	n, err := s.transition(ctx, j, "", job.StateFailed)
	if err != nil {
		return nil, s.wrap("retry job", err)
	}
	switch n {
	case -1:
		return nil, jobq.ErrJobNotFound
	case 0:
		// Retried or removed concurrently.
		return nil, jobq.ErrInvalidState
	}
	return j, nil
}

// PromoteJobs moves stalled jobs and due delayed jobs to waiting.
func (s *Store) PromoteJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	res, err := promoteScript.Run(ctx, s.client, nil,
		s.prefix, millis(now), strconv.Itoa(limit), formatTime(now.UTC()), strconv.Itoa(limit-1),
	).Slice()
	if err != nil {
		return nil, s.wrap("promote jobs", err)
	}
	return replyToJobs(res)
}

// ReapStalled moves active jobs whose heartbeat is older than cutoff to
// stalled, or to failed past maxStalled.
func (s *Store) ReapStalled(ctx context.Context, cutoff time.Time, maxStalled int, now time.Time) ([]*job.Job, error) {
	res, err := reapScript.Run(ctx, s.client, nil,
		s.prefix, millis(cutoff), strconv.Itoa(maxStalled), millis(now), formatTime(now.UTC()), job.StalledReason,
	).Slice()
	if err != nil {
		return nil, s.wrap("reap stalled", err)
	}
	return replyToJobs(res)
}

// EvictJobs deletes finished jobs whose FinishedAt is before olderThan.
func (s *Store) EvictJobs(ctx context.Context, state job.State, olderThan time.Time) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	n, err := evictScript.Run(ctx, s.client, nil, s.prefix, string(state), millis(olderThan)).Int64()
	if err != nil {
		return 0, s.wrap("evict jobs", err)
	}
	return n, nil
}

// TrimJobs keeps the newest keep jobs in a finished state.
func (s *Store) TrimJobs(ctx context.Context, state job.State, keep int) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	n, err := trimScript.Run(ctx, s.client, nil, s.prefix, string(state), strconv.Itoa(-(keep + 1))).Int64()
	if err != nil {
		return 0, s.wrap("trim jobs", err)
	}
	return n, nil
}

// transition rewrites j under the expected state (and token, if set).
func (s *Store) transition(ctx context.Context, j *job.Job, token string, expect job.State) (int, error) {
	jID := j.ID.String()
	r := rank(j)
	args := []any{s.prefix, jID, token, string(expect), string(j.State), r, indexScore(j)}
	args = append(args, jobFields(j, r)...)
	return transitionScript.Run(ctx, s.client, []string{s.jobKey(jID)}, args...).Int()
}

func ownership(n int) error {
	switch n {
	case -1:
		return jobq.ErrJobNotFound
	case 0:
		return jobq.ErrLockLost
	}
	return nil
}

// ── codec ──

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(t.UTC())
}

// jobFields flattens j into Hash field/value pairs. Unset optional fields
// are written as empty strings so a rewrite clears them.
func jobFields(j *job.Job, r string) []any {
	bo, _ := json.Marshal(j.Backoff) //nolint:errcheck // plain struct
	repeat := ""
	if j.Repeat != nil {
		b, _ := json.Marshal(j.Repeat) //nolint:errcheck // plain struct
		repeat = string(b)
	}
	return []any{
		"id", j.ID.String(),
		"name", j.Name,
		"queue", j.Queue,
		"payload", string(j.Payload),
		"state", string(j.State),
		"rank", r,
		"priority", strconv.Itoa(j.Priority),
		"attempts_made", strconv.Itoa(j.AttemptsMade),
		"max_attempts", strconv.Itoa(j.MaxAttempts),
		"backoff", string(bo),
		"ready_at", formatTime(j.ReadyAt.UTC()),
		"repeat", repeat,
		"repeat_id", j.RepeatID.String(),
		"repeat_count", strconv.Itoa(j.RepeatCount),
		"timeout", strconv.FormatInt(int64(j.Timeout), 10),
		"progress", strconv.FormatFloat(j.Progress, 'f', -1, 64),
		"result", string(j.Result),
		"failure_reason", j.FailureReason,
		"stalled_count", strconv.Itoa(j.StalledCount),
		"lock_token", j.LockToken,
		"worker_id", j.WorkerID.String(),
		"processed_at", formatOptionalTime(j.ProcessedAt),
		"finished_at", formatOptionalTime(j.FinishedAt),
		"heartbeat_at", formatOptionalTime(j.HeartbeatAt),
		"created_at", formatTime(j.CreatedAt.UTC()),
		"updated_at", formatTime(j.UpdatedAt.UTC()),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: parse job id: %w", err)
	}

	j := &job.Job{
		ID:            jID,
		Name:          m["name"],
		Queue:         m["queue"],
		Payload:       optionalBytes(m["payload"]),
		State:         job.State(m["state"]),
		Result:        optionalBytes(m["result"]),
		FailureReason: m["failure_reason"],
		LockToken:     m["lock_token"],
	}
	j.Priority, _ = strconv.Atoi(m["priority"])          //nolint:errcheck // written by jobFields
	j.AttemptsMade, _ = strconv.Atoi(m["attempts_made"]) //nolint:errcheck // written by jobFields
	j.MaxAttempts, _ = strconv.Atoi(m["max_attempts"])   //nolint:errcheck // written by jobFields
	j.RepeatCount, _ = strconv.Atoi(m["repeat_count"])   //nolint:errcheck // written by jobFields
	j.StalledCount, _ = strconv.Atoi(m["stalled_count"]) //nolint:errcheck // written by jobFields
	j.Progress, _ = strconv.ParseFloat(m["progress"], 64) //nolint:errcheck // written by jobFields
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)  //nolint:errcheck // written by jobFields
	j.Timeout = time.Duration(timeout)

	j.ReadyAt, _ = time.Parse(time.RFC3339Nano, m["ready_at"])     //nolint:errcheck // written by jobFields
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // written by jobFields
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // written by jobFields
	j.ProcessedAt = parseOptionalTime(m["processed_at"])
	j.FinishedAt = parseOptionalTime(m["finished_at"])
	j.HeartbeatAt = parseOptionalTime(m["heartbeat_at"])

	var bo backoff.Policy
	if v := m["backoff"]; v != "" {
		if err := json.Unmarshal([]byte(v), &bo); err != nil {
			return nil, fmt.Errorf("jobq/redis: decode backoff: %w", err)
		}
	}
	j.Backoff = bo
	if v := m["repeat"]; v != "" {
		var rule cron.Rule
		if err := json.Unmarshal([]byte(v), &rule); err != nil {
			return nil, fmt.Errorf("jobq/redis: decode repeat: %w", err)
		}
		j.Repeat = &rule
	}
	if j.RepeatID, err = id.ParseOptional(m["repeat_id"], id.PrefixRepeat); err != nil {
		return nil, fmt.Errorf("jobq/redis: parse repeat id: %w", err)
	}
	if j.WorkerID, err = id.ParseOptional(m["worker_id"], id.PrefixWorker); err != nil {
		return nil, fmt.Errorf("jobq/redis: parse worker id: %w", err)
	}
	return j, nil
}

func optionalBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// replyToJob decodes an HGETALL reply returned by a script.
func replyToJob(v any) (*job.Job, error) {
	flat, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("jobq/redis: unexpected script reply %T", v)
	}
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)   //nolint:errcheck // bulk strings
		val, _ := flat[i+1].(string) //nolint:errcheck // bulk strings
		m[k] = val
	}
	return mapToJob(m)
}

func replyToJobs(res []any) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(res))
	for _, v := range res {
		j, err := replyToJob(v)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
