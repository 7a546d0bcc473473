package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler processes the payload and returns the job's result.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts are the defaults for jobs of this type. Per-submission options
	// are applied on top.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](name string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	return &Definition[T, R]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions().Apply(opts...),
	}
}
