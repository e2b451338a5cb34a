// Package errs defines the error values shared by the index packages.
// The root package re-exports them.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for unknown modes and out-of-range parameters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnimplemented is returned for recognised but unsupported modes.
	ErrUnimplemented = errors.New("unimplemented")
	// ErrConfigurationInconsistent is returned when parameters contradict each other.
	ErrConfigurationInconsistent = errors.New("configuration inconsistent")
	// ErrPreconditionNotMet is returned when an operation runs before its inputs exist.
	ErrPreconditionNotMet = errors.New("precondition not met")
	// ErrIncompleteAssignment is returned when an item is not assigned exactly once.
	ErrIncompleteAssignment = errors.New("incomplete assignment")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
	// ErrNotFound is returned when a persisted index or array does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when persisted data fails validation.
	ErrCorrupt = errors.New("corrupt data")
)

// DimensionMismatch reports a vector whose length differs from the index dimension.
type DimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDim returns a *DimensionMismatch when got != want.
func CheckDim(want, got int) error {
	if want != got {
		return &DimensionMismatch{Expected: want, Actual: got}
	}
	return nil
}
