package services

import (
	"context"
	"time"

	"github.com/reeltask/authserver/types"
)

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	GetByID(ctx context.Context, authID string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SaveRefreshDigest(ctx context.Context, authID, digest string) error
	RecordLogin(ctx context.Context, authID, digest string, at time.Time) error
	MarkEmailVerified(ctx context.Context, authID string) error
}

// IdempotencyRepository defines persistence for the registration ledger.
type IdempotencyRepository interface {
	Get(ctx context.Context, email, key string, now time.Time) (types.IdempotencyRecord, error)
	Create(ctx context.Context, rec types.IdempotencyRecord) error
}

// VerificationTokenRepository defines persistence for email verification
// tokens.
type VerificationTokenRepository interface {
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetByToken(ctx context.Context, token string) (types.EmailVerificationToken, error)
	Delete(ctx context.Context, id string) error
}

// Provisioner is the synchronous downstream provisioning capability.
type Provisioner interface {
	Provision(ctx context.Context, userID, username, correlationID string) bool
}

// JobEnqueuer hands a compensation job to the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job types.ProvisioningJob) error
}
