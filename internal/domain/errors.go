package domain

import (
	"errors"
	"fmt"
)

// ErrNoWork means the cycle found no unprocessed observations. It is not a failure.
var ErrNoWork = errors.New("no unprocessed observations")

// ErrCycleBusy means another process holds the cycle lock.
var ErrCycleBusy = errors.New("another cycle is in progress")

// Row failure stages.
const (
	StageValidate = "validate"
	StageScore    = "score"
	StageWrite    = "write"
)

// RowError is a failure confined to one observation. The observation stays
// unhandled and is retried on a later cycle.
type RowError struct {
	ObservationID int64
	Stage         string
	Cause         error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("observation %d: %s: %v", e.ObservationID, e.Stage, e.Cause)
}

func (e *RowError) Unwrap() error { return e.Cause }

// CycleError aborts a whole batch cycle. Uncommitted work is rolled back and
// the scheduler retries after its cooldown.
type CycleError struct {
	Stage string
	Cause error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle aborted during %s: %v", e.Stage, e.Cause)
}

func (e *CycleError) Unwrap() error { return e.Cause }

// IsCycleFailure reports whether err aborted a cycle.
func IsCycleFailure(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
