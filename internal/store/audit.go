package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/reeltask/authserver/types"
)

// AuditRepository appends to the write-only audit log.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry types.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	const query = `
		INSERT INTO audit_log (id, user_id, action, outcome, ip, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(
		ctx,
		query,
		uuid.NewString(),
		nullString(entry.UserID),
		entry.Action,
		entry.Outcome,
		entry.IP,
		entry.UserAgent,
		metadata,
		time.Now().UTC(),
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
