package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/reeltask/authserver/types"
)

// ProvisioningFailureRepository records jobs that exhausted their retry
// budget. Rows here are dead letters awaiting operator intervention; the
// corresponding accounts are never deleted.
type ProvisioningFailureRepository struct {
	db *sql.DB
}

func NewProvisioningFailureRepository(db *sql.DB) *ProvisioningFailureRepository {
	return &ProvisioningFailureRepository{db: db}
}

func (r *ProvisioningFailureRepository) Create(ctx context.Context, failure types.ProvisioningFailure) error {
	const query = `
		INSERT INTO provisioning_failures (id, user_id, username, correlation_id, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		uuid.NewString(),
		failure.UserID,
		failure.Username,
		failure.CorrelationID,
		failure.Attempts,
		failure.LastError,
		time.Now().UTC(),
	)
	return err
}
