package ecp

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ecp/internal/errs"
)

var (
	// ErrInvalidArgument is returned for unknown modes and out-of-range parameters.
	ErrInvalidArgument = errs.ErrInvalidArgument
	// ErrUnimplemented is returned for the dissimilar selection mode.
	ErrUnimplemented = errs.ErrUnimplemented
	// ErrConfigurationInconsistent is returned when parameters contradict each other.
	ErrConfigurationInconsistent = errs.ErrConfigurationInconsistent
	// ErrPreconditionNotMet is returned when a build step runs out of order.
	ErrPreconditionNotMet = errs.ErrPreconditionNotMet
	// ErrIncompleteAssignment is returned when an item is not assigned exactly once.
	ErrIncompleteAssignment = errs.ErrIncompleteAssignment
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errs.ErrInvalidK
	// ErrNotFound is returned when no index has been committed to a store.
	ErrNotFound = errs.ErrNotFound
	// ErrCorrupt is returned when persisted data fails validation.
	ErrCorrupt = errs.ErrCorrupt
	// ErrClosed is returned when an Index is used after Close.
	ErrClosed = errors.New("index closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *errs.DimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
