package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// ErrDuplicateEmail and ErrDuplicateUsername identify which account field
// collided. Both unwrap to ErrDuplicate.
var (
	ErrDuplicateEmail    = duplicateError{field: "email"}
	ErrDuplicateUsername = duplicateError{field: "username"}
)

type duplicateError struct {
	field string
}

func (e duplicateError) Error() string { return e.field + " already exists" }

func (e duplicateError) Unwrap() error { return ErrDuplicate }

// Field reports the account field that collided.
func (e duplicateError) Field() string { return e.field }

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a postgres unique-constraint
// violation and, when it is, the constraint name.
func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
