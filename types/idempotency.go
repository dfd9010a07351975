package types

import "time"

// IdempotencyRecord maps a (normalized email, client-supplied key) pair to the
// result of a previously completed registration so a replay within the window
// returns the original outcome instead of re-executing side effects.
type IdempotencyRecord struct {
	ID string `json:"id" db:"id"`

	// Email is the normalized email the key is scoped to.
	Email string `json:"email" db:"email"`

	// Key is the client-supplied Idempotency-Key value.
	// (email, key) is unique.
	Key string `json:"key" db:"key"`

	// UserID is the account id produced by the original attempt.
	UserID string `json:"user_id" db:"user_id"`

	// ResponseToken is the access token issued by the original attempt.
	ResponseToken string `json:"-" db:"response_token"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// ExpiresAt bounds the replay window. A lookup at or after this instant
	// treats the record as absent.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// EmailVerificationToken is an opaque single-use token bound to one account.
// Consuming it or reaching ExpiresAt invalidates it.
type EmailVerificationToken struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Token     string    `json:"-" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// AuditEntry is a write-only record of a security-relevant action.
type AuditEntry struct {
	ID        string            `json:"id" db:"id"`
	UserID    string            `json:"user_id,omitempty" db:"user_id"`
	Action    string            `json:"action" db:"action"`
	Outcome   string            `json:"outcome" db:"outcome"`
	IP        string            `json:"ip,omitempty" db:"ip"`
	UserAgent string            `json:"user_agent,omitempty" db:"user_agent"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
