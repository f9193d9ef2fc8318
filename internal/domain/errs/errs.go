package errs

import (
	"errors"
	"fmt"
)

// ErrValidation marks a request rejected before any state change
// (non-positive amount, amount over limit, missing field).
var ErrValidation = errors.New("validation failed")

// ErrInvalidOperation marks an operation that is not legal for the
// aggregate's current status.
var ErrInvalidOperation = errors.New("invalid operation for current status")

// ErrNotFound marks a missing aggregate.
var ErrNotFound = errors.New("not found")

// Validationf builds a validation error with a formatted reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds a state-conflict error surfacing the current status.
func Conflictf(op, status string) error {
	return fmt.Errorf("%w: cannot %s while status is %s", ErrInvalidOperation, op, status)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether err is a state-conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsNotFound reports whether err is a missing-aggregate error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
