package provision

import (
	"context"

	"github.com/rs/zerolog"
)

// FallbackTransport tries the primary transport and, on any transport-level
// failure, retries the same call once on the secondary. The fallback happens
// once per attempt; the retry loop above it sees a single Transport.
type FallbackTransport struct {
	primary   Transport
	secondary Transport
	logger    zerolog.Logger
}

func NewFallbackTransport(primary, secondary Transport, logger zerolog.Logger) *FallbackTransport {
	return &FallbackTransport{primary: primary, secondary: secondary, logger: logger}
}

func (t *FallbackTransport) CreateProfile(ctx context.Context, req Request) (Outcome, error) {
	outcome, err := t.primary.CreateProfile(ctx, req)
	if err == nil {
		return outcome, nil
	}
	if ctx.Err() != nil {
		// Deadline already spent; the secondary would only inherit it.
		return 0, err
	}

	t.logger.Warn().
		Err(err).
		Str("user_id", req.UserID).
		Msg("primary transport failed, falling back to http")
	return t.secondary.CreateProfile(ctx, req)
}
