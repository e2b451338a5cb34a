package manifest

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ecp/internal/errs"
)

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no manifest has been committed.
	ErrNotFound = fmt.Errorf("manifest %w", errs.ErrNotFound)
)
