// Package apperr defines the error taxonomy shared by services and handlers.
// Services return these values; the HTTP layer translates them to status
// codes and response bodies. Anything outside the taxonomy is surfaced to the
// caller as an opaque internal error while the full detail goes to logs.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken covers forged, expired, and superseded tokens alike.
	// The distinction is deliberately not exposed to the caller.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials rejects a login without revealing whether the
	// email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNotFound indicates an unknown token or user on verification paths.
	ErrNotFound = errors.New("not found")

	// ErrDependencyUnavailable indicates a hard-down mandatory dependency
	// (e.g. the record store itself). Surfaced as a 5xx-class condition.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// ValidationError reports malformed or rejected input, keyed by field.
// Recoverable by the caller correcting the input.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.Fields))
}

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field string, messages ...string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: messages}}
}

// ConflictError reports a uniqueness or reservation conflict on one field.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Field, e.Message)
}

// RateLimitedError reports sliding-window rejection with a retry hint.
type RateLimitedError struct {
	RetryAfter int // seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfter)
}
