package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an expected-version precondition
	// does not match the committed version. Callers must re-read and
	// retry; the store never overwrites on a stale precondition.
	ErrConflict = errors.New("version conflict")
	// ErrAlreadyExists is returned for an insert whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotOpen is returned when the store has not been opened.
	ErrNotOpen = errors.New("store not opened; call store.Open first")
)

// InitError marks a fatal startup failure (unwritable volume path or an
// incompatible on-disk schema). The process must not serve traffic.
type InitError struct {
	Reason string
	Err    error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store init: %s: %v", e.Reason, e.Err)
	}
	return "store init: " + e.Reason
}

func (e *InitError) Unwrap() error { return e.Err }
