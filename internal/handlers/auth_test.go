package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeltask/authserver/config"
	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/internal/services"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
	"github.com/reeltask/authserver/types"
)

type stubUserRepo struct {
	user types.User
}

func (r *stubUserRepo) GetByID(ctx context.Context, authID string) (types.User, error) {
	if authID == r.user.AuthID {
		return r.user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *stubUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func (r *stubUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func (r *stubUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	return user, nil
}

func (r *stubUserRepo) SaveRefreshDigest(ctx context.Context, authID, digest string) error {
	return nil
}

func (r *stubUserRepo) RecordLogin(ctx context.Context, authID, digest string, at time.Time) error {
	return nil
}

func (r *stubUserRepo) MarkEmailVerified(ctx context.Context, authID string) error { return nil }

type noopAuditRepo struct{}

func (noopAuditRepo) Append(ctx context.Context, entry types.AuditEntry) error { return nil }

func testHandler(t *testing.T) (*AuthHandler, *token.Manager) {
	t.Helper()
	tokens, err := token.NewManager(config.JWTConfig{
		AccessSecret:    "access-test-secret",
		RefreshSecret:   "refresh-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)

	logger := zerolog.Nop()
	repo := &stubUserRepo{user: types.User{AuthID: "user-1", Email: "a@example.com", Username: "alice", IsActive: true}}
	auth := services.NewAuthService(repo, tokens, services.NewAuditService(noopAuditRepo{}, logger), "", logger)
	return NewAuthHandler(nil, auth, nil, tokens, logger), tokens
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	h, _ := testHandler(t)
	protected := h.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer garbage",
		"empty bearer": "Bearer ",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestMeReturnsAuthenticatedUser(t *testing.T) {
	h, tokens := testHandler(t)

	access, err := tokens.IssueAccessToken(token.Payload{Subject: "user-1", Email: "a@example.com", Username: "alice"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	h.RequireAuth(http.HandlerFunc(h.Me)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var user types.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "alice", user.Username)
	// sensitive fields never serialize
	assert.NotContains(t, rec.Body.String(), "password_hash")
	assert.NotContains(t, rec.Body.String(), "hashed_refresh_token")
}

func TestMeRejectsRefreshToken(t *testing.T) {
	h, tokens := testHandler(t)

	refresh, err := tokens.IssueRefreshToken(token.Payload{Subject: "user-1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	h.RequireAuth(http.HandlerFunc(h.Me)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteAppErrorMapping(t *testing.T) {
	logger := zerolog.Nop()
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperr.NewValidationError("email", "bad"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"conflict", &apperr.ConflictError{Field: "email", Message: "taken"}, http.StatusConflict, "CONFLICT"},
		{"rate limited", &apperr.RateLimitedError{RetryAfter: 30}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"bad credentials", apperr.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"bad token", apperr.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"not found", apperr.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"dependency down", apperr.ErrDependencyUnavailable, http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAppError(rec, logger, tc.err)
			assert.Equal(t, tc.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestClientIPHandlesIPv6(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(req))

	req.RemoteAddr = "10.0.0.2"
	assert.Equal(t, "10.0.0.2", clientIP(req))
}

func TestWriteAppErrorSetsRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAppError(rec, zerolog.Nop(), &apperr.RateLimitedError{RetryAfter: 42})
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}
