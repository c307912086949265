package backlog

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore          = errors.New("backlog: no store configured")
	ErrStoreClosed      = errors.New("backlog: store closed")
	ErrStoreUnavailable = errors.New("backlog: store unavailable")
	ErrMigrationFailed  = errors.New("backlog: migration failed")

	// Not found errors.
	ErrJobNotFound       = errors.New("backlog: job not found")
	ErrRecurringNotFound = errors.New("backlog: recurring definition not found")
	ErrHandlerNotFound   = errors.New("backlog: no handler registered for type")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("backlog: job already exists")
	ErrJobMoved         = errors.New("backlog: job not in expected index")

	// State errors.
	ErrInvalidTransition = errors.New("backlog: invalid state transition")
	ErrInvalidJob        = errors.New("backlog: invalid job")
	ErrInvalidSchedule   = errors.New("backlog: invalid schedule")
	ErrEngineStopped     = errors.New("backlog: engine stopped")

	// Execution errors.
	ErrHandlerTimeout = errors.New("backlog: handler timed out")

	// Invalidation errors.
	ErrNoInvalidator = errors.New("backlog: no invalidator configured")
)

// StoreError reports a failure of the durable store itself, as opposed to
// a missing record or a lost move race.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

// NewStoreError wraps err as a StoreError. It returns nil for a nil err.
func NewStoreError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Backend: backend, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("backlog/%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes every StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
