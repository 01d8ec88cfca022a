package ingest

import (
	"errors"
	"fmt"
)

// ErrInconsistentTime marks a post whose date_time is not its epoch rendered
// in UTC.
var ErrInconsistentTime = errors.New("date_time does not match epoch")

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	PostID  uint64
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: post %d: %s: %s (value=%q)", e.PostID, e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }
