package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/reeltask/authserver/types"
)

// IdempotencyRepository persists the registration idempotency ledger.
type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the non-expired record for (email, key) or ErrNotFound.
// Rows at or past their expiry are treated as absent; physical deletion is a
// housekeeping concern outside this service.
func (r *IdempotencyRepository) Get(ctx context.Context, email, key string, now time.Time) (types.IdempotencyRecord, error) {
	const query = `
		SELECT id, email, key, user_id, response_token, created_at, expires_at
		FROM idempotency_keys
		WHERE email = $1 AND key = $2 AND expires_at > $3`
	var rec types.IdempotencyRecord
	err := r.db.QueryRowContext(ctx, query, email, key, now).Scan(
		&rec.ID,
		&rec.Email,
		&rec.Key,
		&rec.UserID,
		&rec.ResponseToken,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.IdempotencyRecord{}, ErrNotFound
		}
		return types.IdempotencyRecord{}, err
	}
	return rec, nil
}

// Create inserts a ledger row and returns ErrDuplicate when a concurrent
// writer already stored one for the same (email, key). The caller must then
// re-fetch and serve the winner's result.
func (r *IdempotencyRepository) Create(ctx context.Context, rec types.IdempotencyRecord) error {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO idempotency_keys (id, email, key, user_id, response_token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.Email,
		rec.Key,
		rec.UserID,
		rec.ResponseToken,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
