package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/internal/store"
)

const verificationTokenTTL = 24 * time.Hour

// VerificationService issues and consumes single-use email verification
// tokens.
type VerificationService struct {
	tokens VerificationTokenRepository
	users  UserRepository
	logger zerolog.Logger
}

func NewVerificationService(tokens VerificationTokenRepository, users UserRepository, logger zerolog.Logger) *VerificationService {
	return &VerificationService{
		tokens: tokens,
		users:  users,
		logger: logger.With().Str("component", "verification").Logger(),
	}
}

// GenerateToken mints an opaque random token bound to the account.
func (s *VerificationService) GenerateToken(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	if err := s.tokens.Create(ctx, userID, token, time.Now().Add(verificationTokenTTL)); err != nil {
		return "", err
	}
	return token, nil
}

// VerifyEmail consumes a token, marking the account's email verified.
// Consuming or discovering expiry both destroy the token.
func (s *VerificationService) VerifyEmail(ctx context.Context, token string) error {
	rec, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = s.tokens.Delete(ctx, rec.ID)
		return apperr.NewValidationError("token", "verification token has expired")
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}

	if user.EmailVerified {
		_ = s.tokens.Delete(ctx, rec.ID)
		return apperr.NewValidationError("token", "email already verified")
	}

	if err := s.users.MarkEmailVerified(ctx, user.AuthID); err != nil {
		return err
	}
	if err := s.tokens.Delete(ctx, rec.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.AuthID).Msg("failed to delete consumed verification token")
	}

	s.logger.Info().Str("user_id", user.AuthID).Msg("email verified")
	return nil
}
