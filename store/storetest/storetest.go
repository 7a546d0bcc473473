// Package storetest is the behavioral suite shared by every store backend.
// Each backend's tests call Run with a factory returning an empty store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store"
)

// Factory returns an empty, migrated store. Cleanup is the caller's job
// (typically t.Cleanup inside the factory).
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimOrder", testClaimOrder},
		{"ClaimSetsOwner", testClaimSetsOwner},
		{"ClaimIsExclusive", testClaimIsExclusive},
		{"HeartbeatOwnership", testHeartbeatOwnership},
		{"ProgressOwnership", testProgressOwnership},
		{"FinishCompleted", testFinishCompleted},
		{"FinishStaleTokenDiscarded", testFinishStaleTokenDiscarded},
		{"FinishToDelayedAndPromote", testFinishToDelayedAndPromote},
		{"PromoteRespectsReadyAt", testPromoteRespectsReadyAt},
		{"ReapStalledThenFail", testReapStalledThenFail},
		{"RetryFailed", testRetryFailed},
		{"ListAndCount", testListAndCount},
		{"Delete", testDelete},
		{"EvictAndTrim", testEvictAndTrim},
		{"RepeatRoundTrip", testRepeatRoundTrip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// base is the suite's reference time, truncated to what every backend
// stores losslessly.
func base() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newJob(t *testing.T, name string, now time.Time, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := job.New(name, []byte(`{"n":1}`), job.DefaultOptions().Apply(opts...), now)
	require.NoError(t, err)
	return j
}

func enqueue(t *testing.T, s store.Store, j *job.Job) *job.Job {
	t.Helper()
	require.NoError(t, s.EnqueueJob(context.Background(), j))
	return j
}

func claim(now time.Time) job.Claim {
	return job.Claim{Token: uuid.NewString(), WorkerID: id.NewWorkerID(), Now: now}
}

func mustClaim(t *testing.T, s store.Store, queue string, c job.Claim) *job.Job {
	t.Helper()
	j, err := s.ClaimJob(context.Background(), queue, c)
	require.NoError(t, err)
	require.NotNil(t, j, "expected a job to claim")
	return j
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	j := enqueue(t, s, newJob(t, "email", now, job.WithAttempts(3), job.WithPriority(7),
		job.WithBackoff(backoff.ExponentialPolicy(2*time.Second)), job.WithTimeout(time.Minute)))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "email", got.Name)
	assert.Equal(t, job.DefaultQueue, got.Queue)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, job.StateWaiting, got.State)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, backoff.ExponentialPolicy(2*time.Second), got.Backoff)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.True(t, got.ReadyAt.Equal(now), "ReadyAt %v != %v", got.ReadyAt, now)

	_, err = s.GetJob(ctx, id.NewJobID())
	assert.ErrorIs(t, err, jobq.ErrJobNotFound)
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	j := enqueue(t, s, newJob(t, "a", base()))
	err := s.EnqueueJob(context.Background(), j)
	assert.ErrorIs(t, err, jobq.ErrJobAlreadyExists)
}

func testClaimEmpty(t *testing.T, s store.Store) {
	now := base()
	enqueue(t, s, newJob(t, "a", now, job.WithQueue("other")))
	enqueue(t, s, newJob(t, "b", now, job.WithDelay(time.Hour)))

	j, err := s.ClaimJob(context.Background(), job.DefaultQueue, claim(now))
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testClaimOrder(t *testing.T, s store.Store) {
	now := base()
	low := enqueue(t, s, newJob(t, "low", now, job.WithPriority(1)))
	high := enqueue(t, s, newJob(t, "high", now, job.WithPriority(10)))
	older := enqueue(t, s, newJob(t, "older", now.Add(-time.Second), job.WithPriority(1)))

	// Same priority and ReadyAt: lower ID first.
	tieA := newJob(t, "tie-a", now, job.WithPriority(5))
	tieB := newJob(t, "tie-b", now, job.WithPriority(5))
	if tieB.ID.Compare(tieA.ID) < 0 {
		tieA, tieB = tieB, tieA
	}
	enqueue(t, s, tieB)
	enqueue(t, s, tieA)

	want := []id.JobID{high.ID, tieA.ID, tieB.ID, older.ID, low.ID}
	for i, w := range want {
		got := mustClaim(t, s, job.DefaultQueue, claim(now))
		assert.Equal(t, w.String(), got.ID.String(), "claim %d", i)
	}
}

func testClaimSetsOwner(t *testing.T, s store.Store) {
	now := base()
	j := enqueue(t, s, newJob(t, "a", now))
	c := claim(now.Add(time.Second))

	got := mustClaim(t, s, job.DefaultQueue, c)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StateActive, got.State)
	assert.Equal(t, c.Token, got.LockToken)
	assert.Equal(t, c.WorkerID, got.WorkerID)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, got.ProcessedAt.Equal(c.Now))
	require.NotNil(t, got.HeartbeatAt)

	again, err := s.ClaimJob(context.Background(), job.DefaultQueue, claim(now))
	require.NoError(t, err)
	assert.Nil(t, again, "an active job must not be claimed twice")
}

func testClaimIsExclusive(t *testing.T, s store.Store) {
	const jobs, workers = 100, 8
	now := base()
	for i := range jobs {
		enqueue(t, s, newJob(t, "bulk", now, job.WithPriority(i%3)))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimJob(context.Background(), job.DefaultQueue, claim(now))
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for jobID, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", jobID, n)
	}
}

func testHeartbeatOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now))
	c := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, c)

	require.NoError(t, s.HeartbeatJob(ctx, j.ID, c.Token, now.Add(5*time.Second)))
	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	assert.True(t, got.HeartbeatAt.Equal(now.Add(5*time.Second)))

	err = s.HeartbeatJob(ctx, j.ID, "not-the-owner", now)
	assert.ErrorIs(t, err, jobq.ErrLockLost)
}

func testProgressOwnership(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now))
	c := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, c)

	require.NoError(t, s.UpdateProgress(ctx, j.ID, c.Token, 42))
	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.InDelta(t, 42, got.Progress, 0.001)

	assert.ErrorIs(t, s.UpdateProgress(ctx, j.ID, "stale", 50), jobq.ErrLockLost)
}

func finish(j *job.Job, state job.State, at time.Time) *job.Job {
	out := j.Clone()
	out.State = state
	out.AttemptsMade++
	fin := at
	out.FinishedAt = &fin
	out.UpdatedAt = at
	return out
}

func testFinishCompleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now))
	c := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, c)

	done := finish(j, job.StateCompleted, now.Add(time.Second))
	done.Result = []byte(`{"ok":true}`)
	done.Progress = 100
	require.NoError(t, s.FinishJob(ctx, done, c.Token))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, got.State)
	assert.Equal(t, 1, got.AttemptsMade)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(now.Add(time.Second)))
	assert.Empty(t, got.LockToken)

	// Finishing twice is refused: the job is no longer active.
	assert.ErrorIs(t, s.FinishJob(ctx, done, c.Token), jobq.ErrLockLost)
}

func testFinishStaleTokenDiscarded(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now))
	first := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, first)

	// The first owner goes silent; the job is reaped and reclaimed.
	reaped, err := s.ReapStalled(ctx, now.Add(time.Minute), 5, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	_, err = s.PromoteJobs(ctx, now.Add(time.Minute), 100)
	require.NoError(t, err)
	second := claim(now.Add(time.Minute))
	mustClaim(t, s, job.DefaultQueue, second)

	// The original execution finishes late.
	stale := finish(j, job.StateCompleted, now.Add(2*time.Minute))
	assert.ErrorIs(t, s.FinishJob(ctx, stale, first.Token), jobq.ErrLockLost)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateActive, got.State)
	assert.Equal(t, second.Token, got.LockToken)
	assert.Equal(t, 1, got.StalledCount)
}

func testFinishToDelayedAndPromote(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now, job.WithAttempts(3)))
	c := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, c)

	retry := j.Clone()
	retry.State = job.StateDelayed
	retry.AttemptsMade = 1
	retry.FailureReason = "boom"
	retry.ReadyAt = now.Add(2 * time.Second)
	require.NoError(t, s.FinishJob(ctx, retry, c.Token))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateDelayed, got.State)
	assert.Equal(t, "boom", got.FailureReason)

	promoted, err := s.PromoteJobs(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, promoted, "not due yet")

	promoted, err = s.PromoteJobs(ctx, now.Add(2*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, job.StateWaiting, promoted[0].State)

	again := mustClaim(t, s, job.DefaultQueue, claim(now.Add(3*time.Second)))
	assert.Equal(t, j.ID, again.ID)
	assert.Equal(t, 1, again.AttemptsMade)
}

func testPromoteRespectsReadyAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	soon := enqueue(t, s, newJob(t, "soon", now, job.WithDelay(time.Second)))
	enqueue(t, s, newJob(t, "later", now, job.WithDelay(time.Hour)))

	promoted, err := s.PromoteJobs(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, soon.ID, promoted[0].ID)

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateDelayed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testReapStalledThenFail(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	j := enqueue(t, s, newJob(t, "a", now))
	const maxStalled = 1

	// Fresh heartbeat: nothing to reap.
	mustClaim(t, s, job.DefaultQueue, claim(now))
	reaped, err := s.ReapStalled(ctx, now, maxStalled, now)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	// First stall: back to waiting via stalled.
	at := now.Add(time.Minute)
	reaped, err = s.ReapStalled(ctx, at, maxStalled, at)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, job.StateStalled, reaped[0].State)
	assert.Equal(t, 1, reaped[0].StalledCount)

	promoted, err := s.PromoteJobs(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, job.StateWaiting, promoted[0].State)

	// Second stall exceeds the limit.
	mustClaim(t, s, job.DefaultQueue, claim(at))
	at2 := at.Add(time.Minute)
	reaped, err = s.ReapStalled(ctx, at2, maxStalled, at2)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, job.StateFailed, reaped[0].State)
	assert.Equal(t, job.StalledReason, reaped[0].FailureReason)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, got.State)
	assert.Equal(t, 2, got.StalledCount)
	require.NotNil(t, got.FinishedAt)
}

func testRetryFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	enqueue(t, s, newJob(t, "a", now, job.WithAttempts(2)))
	c := claim(now)
	j := mustClaim(t, s, job.DefaultQueue, c)

	failed := finish(j, job.StateFailed, now)
	failed.AttemptsMade = 2
	failed.FailureReason = "exhausted"
	require.NoError(t, s.FinishJob(ctx, failed, c.Token))

	later := now.Add(time.Minute)
	got, err := s.RetryJob(ctx, j.ID, later)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, got.State)
	assert.Equal(t, 0, got.AttemptsMade)
	assert.Empty(t, got.FailureReason)
	assert.Nil(t, got.FinishedAt)
	assert.False(t, got.ReadyAt.Before(j.ReadyAt), "ReadyAt must not go backwards")

	_, err = s.RetryJob(ctx, j.ID, later)
	assert.ErrorIs(t, err, jobq.ErrInvalidState)

	_, err = s.RetryJob(ctx, id.NewJobID(), later)
	assert.ErrorIs(t, err, jobq.ErrJobNotFound)
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	a := enqueue(t, s, newJob(t, "a", now, job.WithPriority(1)))
	b := enqueue(t, s, newJob(t, "b", now, job.WithPriority(10)))
	c := enqueue(t, s, newJob(t, "c", now.Add(-time.Second), job.WithPriority(1)))
	enqueue(t, s, newJob(t, "d", now, job.WithQueue("other")))
	enqueue(t, s, newJob(t, "e", now, job.WithDelay(time.Hour)))

	list, err := s.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{Queue: job.DefaultQueue})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{b.ID.String(), c.ID.String(), a.ID.String()},
		[]string{list[0].ID.String(), list[1].ID.String(), list[2].ID.String()})

	page, err := s.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{Queue: job.DefaultQueue, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, c.ID, page[0].ID)

	all, err := s.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	counts := []struct {
		opts job.CountOpts
		want int64
	}{
		{job.CountOpts{}, 5},
		{job.CountOpts{State: job.StateWaiting}, 4},
		{job.CountOpts{State: job.StateDelayed}, 1},
		{job.CountOpts{Queue: "other"}, 1},
		{job.CountOpts{Queue: job.DefaultQueue, State: job.StateWaiting}, 3},
		{job.CountOpts{State: job.StateFailed}, 0},
	}
	for _, tc := range counts {
		n, err := s.CountJobs(ctx, tc.opts)
		require.NoError(t, err)
		assert.Equal(t, tc.want, n, "CountJobs(%+v)", tc.opts)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	j := enqueue(t, s, newJob(t, "a", now))
	d := enqueue(t, s, newJob(t, "b", now, job.WithDelay(time.Hour)))

	require.NoError(t, s.DeleteJob(ctx, j.ID))
	require.NoError(t, s.DeleteJob(ctx, d.ID))
	_, err := s.GetJob(ctx, j.ID)
	assert.ErrorIs(t, err, jobq.ErrJobNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, j.ID), jobq.ErrJobNotFound)

	got, err := s.ClaimJob(ctx, job.DefaultQueue, claim(now))
	require.NoError(t, err)
	assert.Nil(t, got, "deleted jobs must not be claimable")
	promoted, err := s.PromoteJobs(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func testEvictAndTrim(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()

	complete := func(at time.Time) *job.Job {
		j := enqueue(t, s, newJob(t, "a", now))
		c := claim(now)
		claimed := mustClaim(t, s, job.DefaultQueue, c)
		require.Equal(t, j.ID, claimed.ID)
		require.NoError(t, s.FinishJob(ctx, finish(claimed, job.StateCompleted, at), c.Token))
		return j
	}
	oldest := complete(now.Add(-3 * time.Hour))
	old := complete(now.Add(-2 * time.Hour))
	recent := complete(now.Add(-time.Minute))
	newest := complete(now)

	n, err := s.EvictJobs(ctx, job.StateCompleted, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	for _, gone := range []*job.Job{oldest, old} {
		_, err := s.GetJob(ctx, gone.ID)
		assert.ErrorIs(t, err, jobq.ErrJobNotFound)
	}

	n, err = s.TrimJobs(ctx, job.StateCompleted, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetJob(ctx, recent.ID)
	assert.ErrorIs(t, err, jobq.ErrJobNotFound)
	_, err = s.GetJob(ctx, newest.ID)
	assert.NoError(t, err)

	_, err = s.EvictJobs(ctx, job.StateWaiting, now)
	assert.ErrorIs(t, err, jobq.ErrInvalidState)
}

func testRepeatRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base()
	end := now.Add(24 * time.Hour)
	j := enqueue(t, s, newJob(t, "tick", now,
		job.WithRepeat(cron.Rule{Pattern: "*/5 * * * * *", TZ: "Europe/Berlin", Limit: 10, EndDate: &end})))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Repeat)
	assert.Equal(t, "*/5 * * * * *", got.Repeat.Pattern)
	assert.Equal(t, "Europe/Berlin", got.Repeat.TZ)
	assert.Equal(t, 10, got.Repeat.Limit)
	require.NotNil(t, got.Repeat.EndDate)
	assert.True(t, got.Repeat.EndDate.Equal(end))
	assert.Equal(t, j.RepeatID, got.RepeatID)
	assert.Equal(t, 1, got.RepeatCount)
	assert.Equal(t, job.StateDelayed, got.State)
}
