package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/types"
)

func newVerificationFixture(t *testing.T) (*VerificationService, *fakeVerificationRepo, *fakeUserRepo) {
	t.Helper()
	tokens := newFakeVerificationRepo()
	users := newFakeUserRepo()
	return NewVerificationService(tokens, users, zerolog.Nop()), tokens, users
}

func TestVerifyEmailMarksAccountVerified(t *testing.T) {
	svc, tokens, users := newVerificationFixture(t)
	user, err := users.Create(context.Background(), types.User{Email: "a@example.com", Username: "alice"})
	require.NoError(t, err)

	tok, err := svc.GenerateToken(context.Background(), user.AuthID)
	require.NoError(t, err)
	assert.Len(t, tok, 64) // 32 random bytes hex encoded

	require.NoError(t, svc.VerifyEmail(context.Background(), tok))
	assert.True(t, users.byID[user.AuthID].EmailVerified)
	// single use
	assert.Empty(t, tokens.byToken)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	svc, _, _ := newVerificationFixture(t)

	err := svc.VerifyEmail(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVerifyEmailExpiredTokenIsConsumed(t *testing.T) {
	svc, tokens, users := newVerificationFixture(t)
	user, err := users.Create(context.Background(), types.User{Email: "a@example.com", Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, tokens.Create(context.Background(), user.AuthID, "expired-token", time.Now().Add(-time.Minute)))

	err = svc.VerifyEmail(context.Background(), "expired-token")
	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "token")
	assert.Empty(t, tokens.byToken)
	assert.False(t, users.byID[user.AuthID].EmailVerified)
}

func TestVerifyEmailAlreadyVerified(t *testing.T) {
	svc, tokens, users := newVerificationFixture(t)
	user, err := users.Create(context.Background(), types.User{Email: "a@example.com", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, users.MarkEmailVerified(context.Background(), user.AuthID))

	require.NoError(t, tokens.Create(context.Background(), user.AuthID, "tok", time.Now().Add(time.Hour)))

	err = svc.VerifyEmail(context.Background(), "tok")
	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, tokens.byToken)
}
