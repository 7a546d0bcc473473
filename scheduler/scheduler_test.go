package scheduler_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/scheduler"
	"github.com/xraph/jobq/store/memory"
)

// recorder captures emitted events by name.
type recorder struct {
	mu     sync.Mutex
	events []string
	woken  []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) EmitJobAdded(_ context.Context, _ *job.Job)   { r.add("added") }
func (r *recorder) EmitJobWaiting(_ context.Context, _ *job.Job) { r.add("waiting") }
func (r *recorder) EmitJobQueued(_ context.Context, j *job.Job)  { r.add("queued:" + string(j.State)) }
func (r *recorder) EmitRepeatScheduled(_ context.Context, _, _ *job.Job) {
	r.add("repeat")
}

func (r *recorder) wake(queue string) {
	r.mu.Lock()
	r.woken = append(r.woken, queue)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]string(nil), r.woken...)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func enqueue(t *testing.T, s *memory.Store, o job.Options) *job.Job {
	t.Helper()
	j, err := job.New("report", []byte(`{}`), o, base)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueJob(context.Background(), j))
	return j
}

func TestTickPromotesDueDelayedJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &recorder{}

	due := enqueue(t, s, job.DefaultOptions().Apply(job.WithDelay(time.Second), job.WithQueue("reports")))
	later := enqueue(t, s, job.DefaultOptions().Apply(job.WithDelay(time.Hour)))

	sched := scheduler.New(s, rec, slog.Default(),
		scheduler.WithClock(fixed(base.Add(2*time.Second))),
		scheduler.WithWaker(rec.wake),
	)
	n, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetJob(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, got.State)

	got, err = s.GetJob(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateDelayed, got.State)

	events, woken := rec.snapshot()
	assert.Equal(t, []string{"waiting"}, events)
	assert.Equal(t, []string{"reports"}, woken)
}

func TestTickPromotesStalledJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	j := enqueue(t, s, job.DefaultOptions())

	_, err := s.ClaimJob(ctx, job.DefaultQueue, job.Claim{Token: "gone", WorkerID: id.NewWorkerID(), Now: base})
	require.NoError(t, err)
	reaped, err := s.ReapStalled(ctx, base.Add(time.Minute), 1, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, reaped, 1)

	sched := scheduler.New(s, &recorder{}, slog.Default(), scheduler.WithClock(fixed(base.Add(time.Minute))))
	n, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, got.State)
	assert.Equal(t, 1, got.StalledCount)
}

func TestTickDrainsInBatches(t *testing.T) {
	s := memory.New()
	for range 5 {
		enqueue(t, s, job.DefaultOptions().Apply(job.WithDelay(time.Second)))
	}

	sched := scheduler.New(s, &recorder{}, slog.Default(),
		scheduler.WithClock(fixed(base.Add(time.Minute))),
		scheduler.WithBatchSize(2),
	)
	n, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	waiting, err := s.CountJobs(context.Background(), job.CountOpts{State: job.StateWaiting})
	require.NoError(t, err)
	assert.Equal(t, int64(5), waiting)
}

func TestScheduleNextCreatesSibling(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &recorder{}

	prev := enqueue(t, s, job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Minute, Limit: 3})))
	require.Equal(t, 1, prev.RepeatCount)

	sched := scheduler.New(s, rec, slog.Default(), scheduler.WithClock(fixed(prev.ReadyAt)))
	next, err := sched.ScheduleNext(ctx, prev)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.NotEqual(t, prev.ID, next.ID)
	assert.Equal(t, prev.RepeatID, next.RepeatID)
	assert.Equal(t, 2, next.RepeatCount)
	assert.Equal(t, prev.ReadyAt.Add(time.Minute), next.ReadyAt)
	assert.Equal(t, job.StateDelayed, next.State)

	stored, err := s.GetJob(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, next.ReadyAt, stored.ReadyAt)

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"added", "queued:delayed", "repeat"}, events)
}

func TestScheduleNextSkipsMissedFires(t *testing.T) {
	s := memory.New()
	prev := enqueue(t, s, job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Minute})))

	now := prev.ReadyAt.Add(5*time.Minute + 30*time.Second)
	sched := scheduler.New(s, &recorder{}, slog.Default(), scheduler.WithClock(fixed(now)))
	next, err := sched.ScheduleNext(context.Background(), prev)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.Equal(t, now.Add(time.Minute), next.ReadyAt)
	assert.Equal(t, 2, next.RepeatCount)
}

func TestScheduleNextStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &recorder{}
	prev := enqueue(t, s, job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Minute, Limit: 2})))
	prev.RepeatCount = 2

	sched := scheduler.New(s, rec, slog.Default(), scheduler.WithClock(fixed(prev.ReadyAt)))
	next, err := sched.ScheduleNext(ctx, prev)
	require.NoError(t, err)
	assert.Nil(t, next)

	total, err := s.CountJobs(ctx, job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	events, _ := rec.snapshot()
	assert.Empty(t, events)
}

func TestScheduleNextIgnoresOneOffJobs(t *testing.T) {
	s := memory.New()
	j := enqueue(t, s, job.DefaultOptions())

	next, err := scheduler.New(s, &recorder{}, slog.Default()).ScheduleNext(context.Background(), j)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestStartPromotesOnTick(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	j, err := job.New("report", nil, job.DefaultOptions().Apply(job.WithDelay(30*time.Millisecond)), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.EnqueueJob(ctx, j))

	sched := scheduler.New(s, &recorder{}, slog.Default(), scheduler.WithInterval(10*time.Millisecond))
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() { _ = sched.Stop(ctx) })

	require.Eventually(t, func() bool {
		got, err := s.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateWaiting
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleNextOncePerOccurrence(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec := &recorder{}
	first := enqueue(t, s, job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Hour})))

	sched := scheduler.New(s, rec, slog.Default(), scheduler.WithClock(fixed(base)))
	next, err := sched.ScheduleNext(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, next)

	again, err := sched.ScheduleNext(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, again)

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateDelayed})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "first occurrence and one sibling")

	events, _ := rec.snapshot()
	assert.Equal(t, []string{"added", "queued:delayed", "repeat"}, events)
}
