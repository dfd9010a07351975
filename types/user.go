package types

import "time"

// User represents an identity record in the auth store.
// It contains credentials, status flags, and audit metadata.
type User struct {
	// AuthID is the unique identifier of the account.
	AuthID string `json:"user_id" db:"auth_id"`

	// Email is the normalized (trimmed, lowercased) address. Globally unique.
	Email string `json:"email" db:"email"`

	// Username is the unique handle chosen by the user.
	Username string `json:"username" db:"username"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"last_name" db:"last_name"`

	// PasswordHash stores the salted and peppered bcrypt digest of the
	// password. This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsActive indicates whether the account may authenticate.
	IsActive bool `json:"is_active" db:"is_active"`

	// EmailVerified is set once the verification token has been consumed.
	EmailVerified bool `json:"email_verified" db:"email_verified"`

	// HashedRefreshToken holds the bcrypt digest of the most recently issued
	// refresh token, or empty when the user has never logged in (or was
	// revoked). Only the digest is ever persisted.
	HashedRefreshToken string `json:"-" db:"hashed_refresh_token"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// LastLogin is the timestamp of the most recent successful login,
	// or zero when the user has never logged in.
	LastLogin time.Time `json:"last_login,omitempty" db:"last_login"`
}
