package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw1-before")
		res, err := next(ctx)
		order = append(order, "mw1-after")
		return res, err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw2-before")
		res, err := next(ctx)
		order = append(order, "mw2-after")
		return res, err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Name: "test", ID: id.NewJobID()}
	res, err := chain(context.Background(), j, func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte(`1`), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != "1" {
		t.Errorf("result = %s, want 1", res)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	_, err := middleware.Chain()(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		return next(ctx)
	}
	want := errors.New("handler error")

	_, err := middleware.Chain(pass)(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	m := middleware.Recover(slog.Default())
	j := &job.Job{Name: "panicky", ID: id.NewJobID()}

	res, err := m(context.Background(), j, func(_ context.Context) ([]byte, error) {
		panic("test panic")
	})
	if res != nil {
		t.Errorf("expected nil result, got %s", res)
	}

	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if got := err.Error(); got != "panic: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
	if len(pe.Stack) == 0 {
		t.Error("expected a stack trace")
	}
	if job.IsTerminal(err) {
		t.Error("a panic must stay retryable")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	m := middleware.Recover(nil)
	j := &job.Job{Name: "normal", ID: id.NewJobID()}

	res, err := m(context.Background(), j, ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"done"` {
		t.Fatalf("result = %s", res)
	}
}

func TestTimeout_NoTimeoutPassesThrough(t *testing.T) {
	m := middleware.Timeout()
	j := &job.Job{Name: "unbounded", ID: id.NewJobID()}

	_, err := m(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		if _, has := ctx.Deadline(); has {
			t.Error("unexpected deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_CancelsSlowAttempt(t *testing.T) {
	m := middleware.Timeout()
	j := &job.Job{Name: "slow", ID: id.NewJobID(), Timeout: 20 * time.Millisecond}

	_, err := m(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return []byte(`"late"`), nil
	})
	if !errors.Is(err, middleware.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_FastAttemptKeepsResult(t *testing.T) {
	m := middleware.Timeout()
	j := &job.Job{Name: "fast", ID: id.NewJobID(), Timeout: time.Second}

	res, err := m(context.Background(), j, ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"done"` {
		t.Fatalf("result = %s", res)
	}
}

func TestTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	m := middleware.Timeout()
	j := &job.Job{Name: "shutdown", ID: id.NewJobID(), Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m(ctx, j, func(ctx context.Context) ([]byte, error) {
		return nil, ctx.Err()
	})
	if errors.Is(err, middleware.ErrTimeout) {
		t.Fatal("parent cancellation reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogging_PassesResultAndError(t *testing.T) {
	m := middleware.Logging(slog.Default())
	j := &job.Job{Name: "log-test", ID: id.NewJobID(), Queue: "default", MaxAttempts: 2}

	res, err := m(context.Background(), j, ok)
	if err != nil || string(res) != `"done"` {
		t.Fatalf("unexpected (%s, %v)", res, err)
	}

	want := errors.New("fail")
	_, err = m(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestDefault_RecoversAndTimesOut(t *testing.T) {
	m := middleware.Default()
	j := &job.Job{Name: "default", ID: id.NewJobID(), Timeout: 10 * time.Millisecond}

	_, err := m(context.Background(), j, func(_ context.Context) ([]byte, error) {
		panic("boom")
	})
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}

	_, err = m(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, middleware.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
