package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/jobq/ext"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return e.record("OnJobAdded")
}

func (e *allHooksExt) OnJobWaiting(_ context.Context, _ *job.Job) error {
	return e.record("OnJobWaiting")
}

func (e *allHooksExt) OnJobDelayed(_ context.Context, _ *job.Job) error {
	return e.record("OnJobDelayed")
}

func (e *allHooksExt) OnJobActive(_ context.Context, _ *job.Job) error {
	return e.record("OnJobActive")
}

func (e *allHooksExt) OnJobProgress(_ context.Context, _ *job.Job, _ float64) error {
	return e.record("OnJobProgress")
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	return e.record("OnJobCompleted")
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	return e.record("OnJobFailed")
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ error, _ time.Time) error {
	return e.record("OnJobRetrying")
}

func (e *allHooksExt) OnJobStalled(_ context.Context, _ *job.Job) error {
	return e.record("OnJobStalled")
}

func (e *allHooksExt) OnJobRemoved(_ context.Context, _ id.JobID) error {
	return e.record("OnJobRemoved")
}

func (e *allHooksExt) OnRepeatScheduled(_ context.Context, _, _ *job.Job) error {
	return e.record("OnRepeatScheduled")
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	return e.record("OnShutdown")
}

// jobOnlyExt only implements a couple of job hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobAdded" {
		t.Fatalf("all: expected [OnJobAdded], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobAdded" {
		t.Fatalf("jo: expected [OnJobAdded], got %v", jo.calls)
	}

	r.EmitJobActive(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobActive" {
		t.Fatalf("all: expected OnJobActive as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	r.EmitJobWaiting(ctx, j)
	r.EmitJobDelayed(ctx, j)
	r.EmitJobActive(ctx, j)
	r.EmitJobProgress(ctx, j, 50)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobRetrying(ctx, j, errors.New("again"), time.Now())
	r.EmitJobStalled(ctx, j)
	r.EmitJobRemoved(ctx, id.NewJobID())
	r.EmitRepeatScheduled(ctx, j, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobAdded", "OnJobWaiting", "OnJobDelayed", "OnJobActive",
		"OnJobProgress", "OnJobCompleted", "OnJobFailed", "OnJobRetrying",
		"OnJobStalled", "OnJobRemoved", "OnRepeatScheduled", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_EmitJobQueuedFollowsState(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitJobQueued(ctx, &job.Job{State: job.StateWaiting})
	r.EmitJobQueued(ctx, &job.Job{State: job.StateDelayed})
	r.EmitJobQueued(ctx, &job.Job{State: job.StateActive})

	if len(all.calls) != 2 {
		t.Fatalf("expected 2 calls, got %v", all.calls)
	}
	if all.calls[0] != "OnJobWaiting" || all.calls[1] != "OnJobDelayed" {
		t.Fatalf("unexpected calls %v", all.calls)
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobAdded(ctx, &job.Job{Name: "test-job"})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnJobAdded" || all.calls[1] != "OnShutdown" {
		t.Fatalf("all: expected hooks despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobAdded(ctx, &job.Job{})
	r.EmitJobQueued(ctx, &job.Job{State: job.StateWaiting})
	r.EmitJobActive(ctx, &job.Job{})
	r.EmitJobProgress(ctx, &job.Job{}, 1)
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobRetrying(ctx, &job.Job{}, errors.New("x"), time.Now())
	r.EmitJobStalled(ctx, &job.Job{})
	r.EmitJobRemoved(ctx, id.NewJobID())
	r.EmitRepeatScheduled(ctx, &job.Job{}, &job.Job{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitJobStalled(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnJobStalled(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
