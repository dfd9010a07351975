package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reeltask/authserver/types"
)

// UserRepository handles persistence for auth users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `auth_id, email, username, first_name, last_name, password_hash,
		is_active, email_verified, hashed_refresh_token, created_at, last_login`

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	var refreshDigest sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.AuthID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsActive,
		&user.EmailVerified,
		&refreshDigest,
		&user.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.HashedRefreshToken = refreshDigest.String
	user.LastLogin = lastLogin.Time
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, authID string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM auth_users WHERE auth_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, authID))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM auth_users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM auth_users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts a new account. A concurrent registration racing on the same
// email or username loses here with ErrDuplicateEmail/ErrDuplicateUsername;
// the unique constraints are the only cross-request ordering guarantee.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.AuthID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO auth_users (auth_id, email, username, first_name, last_name,
			password_hash, is_active, email_verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.AuthID,
		user.Email,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
		user.EmailVerified,
		user.CreatedAt,
	)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if strings.Contains(constraint, "username") {
				return types.User{}, ErrDuplicateUsername
			}
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return user, nil
}

// SaveRefreshDigest persists the digest of a newly issued refresh token,
// superseding any previous one (rotation).
func (r *UserRepository) SaveRefreshDigest(ctx context.Context, authID, digest string) error {
	const query = `UPDATE auth_users SET hashed_refresh_token = $1 WHERE auth_id = $2`
	return r.exec(ctx, query, digest, authID)
}

// RecordLogin stores the refresh digest and last-login timestamp together.
func (r *UserRepository) RecordLogin(ctx context.Context, authID, digest string, at time.Time) error {
	const query = `UPDATE auth_users SET hashed_refresh_token = $1, last_login = $2 WHERE auth_id = $3`
	return r.exec(ctx, query, digest, at, authID)
}

// MarkEmailVerified flips the verified flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, authID string) error {
	const query = `UPDATE auth_users SET email_verified = TRUE WHERE auth_id = $1`
	return r.exec(ctx, query, authID)
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
