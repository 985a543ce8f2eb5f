package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an incident id does not exist.
	ErrNotFound = errors.New("incident not found")
	// ErrAlreadyResolved is returned when resolving an incident that is already terminal.
	ErrAlreadyResolved = errors.New("incident already resolved")
	// ErrConcurrentModification is returned when an optimistic write lost against another writer.
	ErrConcurrentModification = errors.New("incident modified concurrently")
	// ErrStoreUnavailable is returned when the underlying persistence cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError describes a malformed log entry or resolve request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
