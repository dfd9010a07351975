package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/internal/metrics"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
	"github.com/reeltask/authserver/types"
)

// LoginInput carries credentials and request metadata for one login attempt.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// TokenPair is the response for login and refresh: a short-lived access token
// and a long-lived refresh token. ExpiresIn is the access token lifetime in
// seconds.
type TokenPair struct {
	User         types.User `json:"user"`
	AccessToken  string     `json:"token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int        `json:"expires_in"`
}

// AuthService authenticates credentials and rotates refresh tokens.
type AuthService struct {
	users  UserRepository
	tokens *token.Manager
	audit  *AuditService
	pepper string
	logger zerolog.Logger
	now    func() time.Time
}

func NewAuthService(users UserRepository, tokens *token.Manager, audit *AuditService, pepper string, logger zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		audit:  audit,
		pepper: pepper,
		logger: logger.With().Str("component", "auth").Logger(),
		now:    time.Now,
	}
}

// Login verifies credentials and issues a fresh token pair. An unknown email,
// a wrong password, and a deactivated account are indistinguishable to the
// caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (TokenPair, error) {
	start := s.now()
	pair, reason, err := s.login(ctx, in)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.LoginAttempts.WithLabelValues(outcome, reason).Inc()
	metrics.LoginDuration.WithLabelValues(outcome).Observe(s.now().Sub(start).Seconds())
	return pair, err
}

func (s *AuthService) login(ctx context.Context, in LoginInput) (TokenPair, string, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, "unknown_email", apperr.ErrInvalidCredentials
		}
		return TokenPair{}, "store", apperr.ErrDependencyUnavailable
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password+s.pepper)) != nil {
		s.audit.Append(ctx, types.AuditEntry{
			UserID:    user.AuthID,
			Action:    "USER_LOGIN",
			Outcome:   "failure",
			IP:        in.IP,
			UserAgent: in.UserAgent,
		})
		return TokenPair{}, "bad_password", apperr.ErrInvalidCredentials
	}

	if !user.IsActive {
		return TokenPair{}, "inactive", apperr.ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return TokenPair{}, "token", err
	}

	digest, err := s.tokens.Digest(pair.RefreshToken)
	if err != nil {
		return TokenPair{}, "token", err
	}
	if err := s.users.RecordLogin(ctx, user.AuthID, digest, s.now()); err != nil {
		return TokenPair{}, "store", apperr.ErrDependencyUnavailable
	}

	s.audit.Append(ctx, types.AuditEntry{
		UserID:    user.AuthID,
		Action:    "USER_LOGIN",
		Outcome:   "success",
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
	s.logger.Info().Str("user_id", user.AuthID).Msg("user logged in")
	return pair, "", nil
}

// Refresh exchanges a valid refresh token for a new pair and rotates the
// stored digest, invalidating the presented token. All failure modes collapse
// into ErrInvalidToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := s.tokens.Verify(refreshToken, token.Refresh)
	if err != nil {
		return TokenPair{}, apperr.ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, apperr.ErrInvalidToken
		}
		return TokenPair{}, apperr.ErrDependencyUnavailable
	}

	// Only the most recently issued refresh token matches the stored digest.
	// A superseded or revoked token fails here even though its signature and
	// expiry are fine.
	if !user.IsActive || user.HashedRefreshToken == "" || !s.tokens.Matches(refreshToken, user.HashedRefreshToken) {
		return TokenPair{}, apperr.ErrInvalidToken
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return TokenPair{}, err
	}

	digest, err := s.tokens.Digest(pair.RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.users.SaveRefreshDigest(ctx, user.AuthID, digest); err != nil {
		return TokenPair{}, apperr.ErrDependencyUnavailable
	}

	s.logger.Info().Str("user_id", user.AuthID).Msg("refresh token rotated")
	return pair, nil
}

// GetUser loads the account behind an authenticated subject.
func (s *AuthService) GetUser(ctx context.Context, authID string) (types.User, error) {
	user, err := s.users.GetByID(ctx, authID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.ErrNotFound
		}
		return types.User{}, apperr.ErrDependencyUnavailable
	}
	return user, nil
}

func (s *AuthService) issuePair(user types.User) (TokenPair, error) {
	payload := token.Payload{Subject: user.AuthID, Email: user.Email, Username: user.Username}

	access, err := s.tokens.IssueAccessToken(payload)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(payload)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
	}, nil
}
