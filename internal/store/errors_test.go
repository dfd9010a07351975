package store

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	constraint, ok := isUniqueViolation(&pq.Error{Code: "23505", Constraint: "uq_auth_users_email"})
	assert.True(t, ok)
	assert.Equal(t, "uq_auth_users_email", constraint)

	_, ok = isUniqueViolation(&pq.Error{Code: "23503"})
	assert.False(t, ok)

	_, ok = isUniqueViolation(errors.New("plain"))
	assert.False(t, ok)
}

func TestDuplicateErrorsUnwrap(t *testing.T) {
	assert.ErrorIs(t, ErrDuplicateEmail, ErrDuplicate)
	assert.ErrorIs(t, ErrDuplicateUsername, ErrDuplicate)
	assert.NotErrorIs(t, ErrDuplicateEmail, ErrDuplicateUsername)
}
