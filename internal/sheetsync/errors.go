package sheetsync

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed or incomplete input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingField is returned when a required field is absent or
	// unusable in its source cell.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidPairing is returned when a task mutation arrives without
	// its owning epic context.
	ErrInvalidPairing = errors.New("task mutation without epic context")
	// ErrRetryExhausted is returned when a write-back still fails after
	// the final attempt.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrBackendUnavailable is returned when a storage backend cannot be
	// reached or prepared.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// MissingFieldError identifies the field and the cell it was expected in.
type MissingFieldError struct {
	Field string
	Cell  string
}

func (e *MissingFieldError) Error() string {
	if e.Cell == "" {
		return fmt.Sprintf("field %q is missing", e.Field)
	}
	return fmt.Sprintf("field %q is missing (expected in cell %s)", e.Field, e.Cell)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// RelayError reports a relay endpoint rejecting a mutation.
type RelayError struct {
	Kind       MutationKind
	URL        string
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s to %s failed: status=%d body=%s", e.Kind, e.URL, e.StatusCode, e.Body)
}

// ConflictError reports a create colliding with an existing record.
type ConflictError struct {
	Kind string
	Key  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Key)
}
