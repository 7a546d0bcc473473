package jobq

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore          = errors.New("jobq: no store configured")
	ErrStoreClosed      = errors.New("jobq: store closed")
	ErrMigrationFailed  = errors.New("jobq: migration failed")
	ErrStoreUnavailable = errors.New("jobq: store unavailable")

	// Not found errors.
	ErrJobNotFound    = errors.New("jobq: job not found")
	ErrUnknownJobType = errors.New("jobq: no handler registered for job type")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobq: job already exists")

	// State errors.
	ErrInvalidState = errors.New("jobq: invalid state transition")
	ErrLockLost     = errors.New("jobq: job lock lost")

	// Submission errors.
	ErrValidation = errors.New("jobq: validation failed")
)

// ValidationError reports a rejected submission parameter. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "jobq: invalid submission: " + e.Reason
	}
	return fmt.Sprintf("jobq: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// unavailableError marks a connectivity failure of the backing store.
type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("jobq: store unavailable during %s: %v", e.op, e.err)
}

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds
// while the original cause stays reachable through errors.Unwrap. It
// returns nil for a nil err.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &unavailableError{op: op, err: err}
}
