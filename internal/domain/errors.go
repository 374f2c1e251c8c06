package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: unknown place or source id/slug.
	ErrNotFound = errors.New("not found")
	// ErrConflict: mutation blocked by existing references.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: storage I/O failure that survived internal retries.
	ErrUnavailable = errors.New("store unavailable")
	// ErrValidation: malformed or out-of-domain input. Never retried.
	ErrValidation = errors.New("validation")
)

// Invalidf wraps ErrValidation with a caller-facing reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
