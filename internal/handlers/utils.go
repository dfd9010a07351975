package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/internal/apperr"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is the uniform error body. Fields is only present on
// validation failures.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code,omitempty"`
	Field  string              `json:"field,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func subjectFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeAppError translates the service error taxonomy to HTTP. Anything
// outside the taxonomy is logged in full and surfaced as an opaque 500.
func writeAppError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var validation *apperr.ValidationError
	var conflict *apperr.ConflictError
	var limited *apperr.RateLimitedError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   "VALIDATION_FAILED",
			Fields: validation.Fields,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: conflict.Message,
			Code:  "CONFLICT",
			Field: conflict.Field,
		})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "too many requests",
			Code:  "RATE_LIMITED",
		})
	case errors.Is(err, apperr.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid email or password", Code: "INVALID_CREDENTIALS"})
	case errors.Is(err, apperr.ErrInvalidToken):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "INVALID_TOKEN"})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "NOT_FOUND"})
	case errors.Is(err, apperr.ErrDependencyUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "service temporarily unavailable", Code: "DEPENDENCY_UNAVAILABLE"})
	default:
		logger.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
