package types

import "time"

// ProvisioningJob is a compensation task enqueued when synchronous profile
// provisioning in the downstream user service fails permanently. The
// downstream treats profile creation as idempotent, so redelivery is safe.
type ProvisioningJob struct {
	// UserID is the account the profile belongs to.
	UserID string `json:"user_id"`

	// Username is forwarded to the downstream service unchanged.
	Username string `json:"username"`

	// CorrelationID is the request id of the registration that spawned the
	// job, propagated end to end for tracing.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Attempt counts consumer-side delivery attempts, starting at 0.
	// Monotonically non-decreasing across redeliveries.
	Attempt int `json:"attempt"`

	// NotBefore delays processing of a redelivered job until the retry
	// backoff has elapsed. Zero means process immediately.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// ProvisioningFailure is a terminal dead-letter row written after a job has
// exhausted its retry budget. The account itself is never deleted; the row
// exists for manual operator intervention.
type ProvisioningFailure struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Username      string    `json:"username" db:"username"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	Attempts      int       `json:"attempts" db:"attempts"`
	LastError     string    `json:"last_error" db:"last_error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
