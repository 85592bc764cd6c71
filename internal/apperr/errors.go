// Package apperr holds the error values shared by every layer of the engine.
// Lower layers wrap these with fmt.Errorf("...: %w", err) so callers can
// classify failures with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidParent     = errors.New("invalid parent comment")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflictRetryable = errors.New("conflict, retry")
	ErrTransient         = errors.New("transient failure")
)

// Retryable reports whether err is worth retrying at the call site.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflictRetryable)
}
