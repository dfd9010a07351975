// Package provision wraps the downstream user service's profile-creation
// call with circuit breaking, bounded retry with exponential backoff, a
// gRPC-to-HTTP transport fallback, and an asynchronous compensation queue
// for permanent failures.
package provision

import "context"

// Outcome classifies a successful downstream response.
type Outcome int

const (
	// OutcomeCreated means the profile was created by this call.
	OutcomeCreated Outcome = iota

	// OutcomeConflict means the profile already existed. The downstream is
	// idempotent, so callers treat this as success.
	OutcomeConflict
)

// Request carries the profile-creation arguments. CorrelationID is
// propagated to the downstream as x-request-id.
type Request struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	CorrelationID string `json:"request_id,omitempty"`
}

// Transport performs one profile-creation call against the downstream user
// service. Implementations must honor ctx cancellation; a cancelled call is
// an error, never a success.
type Transport interface {
	CreateProfile(ctx context.Context, req Request) (Outcome, error)
}
