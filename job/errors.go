package job

import "errors"

// TerminalError marks a handler failure that must not be retried. The job
// moves straight to failed regardless of remaining attempts.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// RetryableError marks a transient handler failure. Any error that is not
// a TerminalError is retried, so wrapping is only needed for clarity.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Terminal wraps err so the job fails permanently. Returns nil for nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// Retryable wraps err as an explicitly transient failure. Returns nil for
// nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsTerminal reports whether err carries a TerminalError.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}
