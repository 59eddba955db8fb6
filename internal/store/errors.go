package store

import (
	"fmt"
	"strings"
)

// ValidationError reports every field rule an event violated. Commands that
// fail validation apply no mutation.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "event validation failed: " + strings.Join(e.Errors, "; ")
}

// NotFoundError reports a command that targeted a nonexistent event id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %q not found", e.ID)
}
