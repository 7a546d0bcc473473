package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/xraph/jobq/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type emailResult struct {
	MessageID string `json:"message_id"`
}

func noop(_ context.Context, _ struct{}) (struct{}, error) { return struct{}{}, nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) (emailResult, error) {
		got = p
		return emailResult{MessageID: "m-1"}, nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("send-email")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(emailPayload{To: "alice@example.com", Subject: "Hello"})
	out, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if string(out) != `{"message_id":"m-1"}` {
		t.Errorf("result = %s, want encoded emailResult", out)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("job-a", noop))
	job.RegisterDefinition(r, job.NewDefinition("job-b", noop))
	job.RegisterDefinition(r, job.NewDefinition("job-c", noop))

	names := r.Names()
	sort.Strings(names)
	expected := []string{"job-a", "job-b", "job-c"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d names, got %d", len(expected), len(names))
	}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("reports", noop, job.WithQueue("reports"), job.WithAttempts(5)))

	got := r.Defaults("reports")
	if got.Queue != "reports" || got.Attempts != 5 {
		t.Errorf("Defaults = %+v, want queue reports and 5 attempts", got)
	}
	if unknown := r.Defaults("missing"); unknown.Queue != job.DefaultQueue || unknown.Attempts != 1 {
		t.Errorf("Defaults(missing) = %+v, want DefaultOptions", unknown)
	}
}

func TestRegistry_InvalidJSONIsTerminal(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-job", func(_ context.Context, _ emailPayload) (struct{}, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return struct{}{}, nil
	}))

	h, _ := r.Get("typed-job")
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !job.IsTerminal(err) {
		t.Errorf("expected a terminal error, got %v", err)
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-payload", func(_ context.Context, _ struct{}) (struct{}, error) {
		called = true
		return struct{}{}, nil
	}))

	h, _ := r.Get("no-payload")
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, want
	}))

	h, _ := r.Get("failing")
	_, err := h(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if job.IsTerminal(err) {
		t.Error("plain handler errors must be retryable")
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("old")
	}))
	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("new")
	}))

	h, _ := r.Get("overwrite")
	_, err := h(context.Background(), nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}
