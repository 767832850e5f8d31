package ingest

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the Coordinator is an *Error whose
// kind can be checked with errors.Is.
var (
	// ErrValidation marks a malformed or unsafe request. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrExtraction marks a filesystem failure. Retryable.
	ErrExtraction = errors.New("extraction error")

	// ErrStore marks a metadata store failure or conflict. Retryable.
	ErrStore = errors.New("store error")

	// ErrSlugConflict marks a create-only upload to a slug that is taken.
	ErrSlugConflict = errors.New("slug conflict")

	// ErrLockTimeout marks contention on the per-slug lock. Retryable after backoff.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrNotFound marks an operation on an unknown project or version.
	ErrNotFound = errors.New("not found")
)

// Error is a typed coordinator failure.
type Error struct {
	Kind error
	Op   string
	Slug string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Slug, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Slug, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, slug string, err error) *Error {
	return &Error{Kind: kind, Op: op, Slug: slug, Err: err}
}

// Retryable reports whether err may succeed if the operation is re-invoked.
func Retryable(err error) bool {
	return errors.Is(err, ErrExtraction) ||
		errors.Is(err, ErrStore) ||
		errors.Is(err, ErrLockTimeout)
}

// Outcome returns a short label for err, used for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSlugConflict):
		return "conflict"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "error"
	}
}
