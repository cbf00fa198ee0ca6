package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks input that is malformed or outside its valid domain.
// Record-level validation failures abort only the affected record; coordinate
// validation at pipeline entry aborts the whole call.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// ErrNoSource reports that no registered source covers the requested crop.
// Callers treat it as an explicit not-found outcome rather than a failure.
var ErrNoSource = errors.New("no source registered for crop")
