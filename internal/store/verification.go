package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/reeltask/authserver/types"
)

// VerificationTokenRepository persists single-use email verification tokens.
type VerificationTokenRepository struct {
	db *sql.DB
}

func NewVerificationTokenRepository(db *sql.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

func (r *VerificationTokenRepository) Create(ctx context.Context, userID, token string, expiresAt time.Time) error {
	const query = `
		INSERT INTO email_verification_tokens (id, user_id, token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, token, time.Now().UTC(), expiresAt)
	return err
}

func (r *VerificationTokenRepository) GetByToken(ctx context.Context, token string) (types.EmailVerificationToken, error) {
	const query = `
		SELECT id, user_id, token, created_at, expires_at
		FROM email_verification_tokens
		WHERE token = $1`
	var rec types.EmailVerificationToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Token,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EmailVerificationToken{}, ErrNotFound
		}
		return types.EmailVerificationToken{}, err
	}
	return rec, nil
}

func (r *VerificationTokenRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM email_verification_tokens WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
