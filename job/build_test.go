package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/cron"
	"github.com/xraph/jobq/job"
)

func TestNew_InitialState(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	j, err := job.New("a", nil, job.DefaultOptions(), now)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, j.State)
	assert.Equal(t, now, j.ReadyAt)
	assert.Equal(t, 1, j.MaxAttempts)
	assert.Equal(t, job.DefaultQueue, j.Queue)

	j, err = job.New("a", nil, job.DefaultOptions().Apply(job.WithDelay(time.Minute)), now)
	require.NoError(t, err)
	assert.Equal(t, job.StateDelayed, j.State)
	assert.Equal(t, now.Add(time.Minute), j.ReadyAt)
}

func TestNew_RejectsInvalid(t *testing.T) {
	_, err := job.New("", nil, job.DefaultOptions(), time.Now())
	assert.ErrorIs(t, err, jobq.ErrValidation)

	_, err = job.New("a", nil, job.DefaultOptions().Apply(job.WithDelay(-1)), time.Now())
	assert.ErrorIs(t, err, jobq.ErrValidation)
}

func TestNew_RepeatStartsDelayedAtFirstFire(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	opts := job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Second}))

	j, err := job.New("tick", nil, opts, now)
	require.NoError(t, err)
	assert.Equal(t, job.StateDelayed, j.State)
	assert.Equal(t, now.Add(time.Second), j.ReadyAt)
	assert.False(t, j.RepeatID.IsNil())
	assert.Equal(t, 1, j.RepeatCount)
}

func TestNew_RepeatWithoutFutureOccurrence(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(-time.Hour)
	opts := job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Second, EndDate: &end}))

	_, err := job.New("tick", nil, opts, now)
	assert.ErrorIs(t, err, jobq.ErrValidation)
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	opts := job.DefaultOptions().Apply(job.WithRepeat(cron.Rule{Every: time.Second, Limit: 2}), job.WithPriority(3))

	first, err := job.New("tick", []byte(`{"n":1}`), opts, now)
	require.NoError(t, err)

	second, ok, err := first.NextOccurrence(first.ReadyAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.RepeatID, second.RepeatID)
	assert.Equal(t, 2, second.RepeatCount)
	assert.Equal(t, first.ReadyAt.Add(time.Second), second.ReadyAt)
	assert.Equal(t, 3, second.Priority)
	assert.Equal(t, job.StateDelayed, second.State)

	again, ok, err := first.NextOccurrence(first.ReadyAt.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, again.ID, "one ID per occurrence of a series")

	_, ok, err = second.NextOccurrence(second.ReadyAt)
	require.NoError(t, err)
	assert.False(t, ok, "limit of 2 occurrences reached")
}

func TestLessOrdersByPriorityReadyAtID(t *testing.T) {
	now := time.Now()
	low, _ := job.New("a", nil, job.DefaultOptions().Apply(job.WithPriority(1)), now)
	high, _ := job.New("b", nil, job.DefaultOptions().Apply(job.WithPriority(10)), now)
	assert.True(t, high.Less(low))
	assert.False(t, low.Less(high))

	early, _ := job.New("c", nil, job.DefaultOptions(), now)
	late, _ := job.New("d", nil, job.DefaultOptions(), now.Add(time.Second))
	assert.True(t, early.Less(late))
}

func TestTerminalAndRetryable(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, job.IsTerminal(job.Terminal(base)))
	assert.ErrorIs(t, job.Terminal(base), base)
	assert.False(t, job.IsTerminal(job.Retryable(base)))
	assert.False(t, job.IsTerminal(base))
	assert.NoError(t, job.Terminal(nil))
	assert.NoError(t, job.Retryable(nil))
}

func TestReportProgress(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, job.ReportProgress(ctx, 50), "no reporter is a no-op")

	var got float64
	ctx = job.WithProgressReporter(ctx, func(_ context.Context, p float64) error {
		got = p
		return nil
	})
	require.NoError(t, job.ReportProgress(ctx, 42.5))
	assert.InDelta(t, 42.5, got, 0.0001)

	assert.Error(t, job.ReportProgress(ctx, 101))
	assert.Error(t, job.ReportProgress(ctx, -1))
}
