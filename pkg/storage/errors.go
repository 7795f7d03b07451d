package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches every failure to reach or execute against
	// the database. Callers test for it with errors.Is.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotInitialized = errors.New("store not initialized")
)

// OpError wraps a driver failure for a store operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrStoreUnavailable and the driver error.
func (e *OpError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
