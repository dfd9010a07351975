package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/internal/services"
	"github.com/reeltask/authserver/internal/token"
)

// AuthHandler provides the registration and authentication endpoints.
type AuthHandler struct {
	registration *services.RegistrationService
	auth         *services.AuthService
	verification *services.VerificationService
	tokens       *token.Manager
	logger       zerolog.Logger
}

func NewAuthHandler(
	registration *services.RegistrationService,
	auth *services.AuthService,
	verification *services.VerificationService,
	tokens *token.Manager,
	logger zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		auth:         auth,
		verification: verification,
		tokens:       tokens,
		logger:       logger.With().Str("component", "auth_handler").Logger(),
	}
}

// AuthRouter registers auth routes on the given router. The rate limiting
// middlewares are supplied by the caller so the server controls the window.
func AuthRouter(r chi.Router, h *AuthHandler, limitSensitive, limitRegister func(http.Handler) http.Handler) {
	r.With(limitRegister).Post("/register", h.Register)
	r.With(limitSensitive).Post("/login", h.Login)
	r.With(limitSensitive).Post("/refresh", h.Refresh)
	r.Get("/verify-email", h.VerifyEmail)
	r.With(h.RequireAuth).Get("/me", h.Me)
}

// RequireAuth enforces a bearer access token and injects the subject into
// context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		payload, err := h.tokens.Verify(tokenString, token.Access)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, payload.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates an account. The Idempotency-Key header is mandatory; a
// replay with the same key and email returns the original result.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in services.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	in.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	in.IP = clientIP(r)
	in.UserAgent = r.UserAgent()
	in.CorrelationID = middleware.GetReqID(r.Context())

	result, err := h.registration.Register(r.Context(), in)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	in.IP = clientIP(r)
	in.UserAgent = r.UserAgent()

	pair, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Refresh rotates a refresh token into a new pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "missing refresh token")
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// VerifyEmail consumes the token from the verification link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	verifyToken := strings.TrimSpace(r.URL.Query().Get("token"))
	if verifyToken == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := h.verification.VerifyEmail(r.Context(), verifyToken); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.auth.GetUser(r.Context(), subject)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", errors.New("invalid authorization")
	}
	return tok, nil
}

func clientIP(r *http.Request) string {
	// RealIP middleware has already rewritten RemoteAddr when a proxy header
	// is present.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
