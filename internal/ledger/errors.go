package ledger

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine. Callers test them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVersionConflict     = errors.New("version conflict")
	ErrStoreUnavailable    = errors.New("store unavailable")

	// ErrPartiallyApplied reports a commit that failed midway and could not
	// be rolled back. It is never retried; Reconcile repairs the owner.
	ErrPartiallyApplied = fmt.Errorf("partially applied: %w", ErrStoreUnavailable)

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
