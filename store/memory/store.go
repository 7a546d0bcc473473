// Package memory is an in-memory job store for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store. Safe for
// concurrent access. Claims scan the queue linearly.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in its initial state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobq.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimJob moves the first waiting job of queue to active.
func (m *Store) ClaimJob(_ context.Context, queue string, claim job.Claim) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *job.Job
	for _, j := range m.jobs {
		if j.State != job.StateWaiting || j.Queue != queue {
			continue
		}
		if best == nil || j.Less(best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	now := claim.Now.UTC()
	best.State = job.StateActive
	best.LockToken = claim.Token
	best.WorkerID = claim.WorkerID
	best.ProcessedAt = &now
	hb := now
	best.HeartbeatAt = &hb
	best.UpdatedAt = now
	return best.Clone(), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs in state in claim order.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, j.Clone())
	}
	slices.SortFunc(result, compare)

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// owned returns the job if it is active under token, else ErrLockLost or
// ErrJobNotFound. Callers hold m.mu.
func (m *Store) owned(jobID id.JobID, token string) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	if j.State != job.StateActive || j.LockToken != token {
		return nil, jobq.ErrLockLost
	}
	return j, nil
}

// HeartbeatJob extends the lock of an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, token)
	if err != nil {
		return err
	}
	hb := now.UTC()
	j.HeartbeatAt = &hb
	return nil
}

// UpdateProgress records progress of an owned active job.
func (m *Store) UpdateProgress(_ context.Context, jobID id.JobID, token string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(jobID, token)
	if err != nil {
		return err
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// FinishJob writes the outcome in j if the caller still owns the job.
func (m *Store) FinishJob(_ context.Context, j *job.Job, token string) error {
	if !j.State.IsOutcome() {
		return jobq.ErrInvalidState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.owned(j.ID, token); err != nil {
		return err
	}
	cp := j.Clone()
	cp.LockToken = ""
	m.jobs[j.ID.String()] = cp
	return nil
}

// PromoteJobs moves due delayed jobs and stalled jobs to waiting.
func (m *Store) PromoteJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*job.Job
	for _, j := range m.jobs {
		switch {
		case j.State == job.StateStalled:
		case j.State == job.StateDelayed && !j.ReadyAt.After(now):
		default:
			continue
		}
		due = append(due, j)
	}
	slices.SortFunc(due, func(a, b *job.Job) int { return a.ReadyAt.Compare(b.ReadyAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*job.Job, 0, len(due))
	for _, j := range due {
		j.State = job.StateWaiting
		j.UpdatedAt = now.UTC()
		out = append(out, j.Clone())
	}
	return out, nil
}

// ReapStalled moves active jobs with an expired lock to stalled or failed.
func (m *Store) ReapStalled(_ context.Context, cutoff time.Time, maxStalled int, now time.Time) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	var out []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(cutoff) {
			continue
		}
		j.StalledCount++
		j.LockToken = ""
		j.UpdatedAt = now
		if j.StalledCount > maxStalled {
			j.State = job.StateFailed
			j.FailureReason = job.StalledReason
			fin := now
			j.FinishedAt = &fin
		} else {
			j.State = job.StateStalled
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

// RetryJob moves a failed job back to waiting.
func (m *Store) RetryJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
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
	if now.After(j.ReadyAt) {
		j.ReadyAt = now
	}
	j.UpdatedAt = now
	return j.Clone(), nil
}

// EvictJobs deletes finished jobs older than olderThan.
func (m *Store) EvictJobs(_ context.Context, state job.State, olderThan time.Time) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if j.State == state && j.FinishedAt != nil && j.FinishedAt.Before(olderThan) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// TrimJobs keeps the newest keep jobs in a finished state.
func (m *Store) TrimJobs(_ context.Context, state job.State, keep int) (int64, error) {
	if !state.IsFinished() {
		return 0, jobq.ErrInvalidState
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var finished []*job.Job
	for _, j := range m.jobs {
		if j.State == state {
			finished = append(finished, j)
		}
	}
	if len(finished) <= keep {
		return 0, nil
	}
	// Newest first.
	slices.SortFunc(finished, func(a, b *job.Job) int { return finishedAt(b).Compare(finishedAt(a)) })

	var n int64
	for _, j := range finished[keep:] {
		delete(m.jobs, j.ID.String())
		n++
	}
	return n, nil
}

func compare(a, b *job.Job) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func finishedAt(j *job.Job) time.Time {
	if j.FinishedAt == nil {
		return time.Time{}
	}
	return *j.FinishedAt
}
