package timeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for extraction faults.
var (
	ErrMissingElement   = errors.New("missing element")
	ErrMissingAttribute = errors.New("missing attribute")
	ErrMalformedValue   = errors.New("malformed value")
)

// FieldError reports which field of which post container could not be
// resolved. PostID is zero when the identifier had not been resolved yet.
type FieldError struct {
	Index  int
	PostID uint64
	Field  Field
	Detail string
	Err    error
}

func (e *FieldError) Error() string {
	where := fmt.Sprintf("container %d", e.Index)
	if e.PostID != 0 {
		where = fmt.Sprintf("container %d (id %d)", e.Index, e.PostID)
	}
	if e.Detail == "" {
		return fmt.Sprintf("extract: %s: %s: %s", where, e.Field, e.Err)
	}
	return fmt.Sprintf("extract: %s: %s: %s: %s", where, e.Field, e.Err, e.Detail)
}

func (e *FieldError) Unwrap() error { return e.Err }
