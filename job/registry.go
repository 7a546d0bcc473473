package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts a raw JSON payload
// and returns a raw JSON result. Definition[T, R] is converted to a
// HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job names to type-erased handler functions and their
// default options. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// RegisterDefinition registers a typed job definition. The payload is
// JSON-decoded into T before the handler runs and the result is
// JSON-encoded. A payload that cannot be decoded fails the job
// permanently.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, Terminal(fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err))
			}
		}
		res, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, Terminal(fmt.Errorf("marshal result for job %q: %w", def.Name, err))
		}
		return out, nil
	}

	r.Register(def.Name, handler, def.Opts)
}

// Register stores a raw handler and its default options under name.
func (r *Registry) Register(name string, h HandlerFunc, defaults Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{handler: h, opts: defaults}
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// Defaults returns the registered default options for name, or
// DefaultOptions when name is unknown.
func (r *Registry) Defaults(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.opts
	}
	return DefaultOptions()
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
