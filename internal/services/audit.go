package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/reeltask/authserver/types"
)

// AuditRepository persists audit entries.
type AuditRepository interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

// AuditService appends to the audit log. It is fire-and-forget: persistence
// failures are logged and swallowed so auditing never breaks the flow that
// produced the event.
type AuditService struct {
	repo   AuditRepository
	logger zerolog.Logger
}

func NewAuditService(repo AuditRepository, logger zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger.With().Str("component", "audit").Logger()}
}

func (s *AuditService) Append(ctx context.Context, entry types.AuditEntry) {
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Error().
			Err(err).
			Str("action", entry.Action).
			Str("outcome", entry.Outcome).
			Msg("failed to write audit log")
	}
}
