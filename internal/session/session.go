package session

import (
	"context"

	"github.com/attunehealth/attune/models"
)

// Store persists per-session policy-graph state. It is the one piece of
// genuinely mutable shared state in the system; callers serialize writes
// per session, never globally.
type Store interface {
	// Ensure returns the state for id, creating a fresh one at ingress when
	// none exists. Empty id means a new session.
	Ensure(ctx context.Context, id string) (models.PolicyGraphState, error)
	// Get returns the state for id or models.ErrSessionNotFound.
	Get(ctx context.Context, id string) (models.PolicyGraphState, error)
	// Save persists the advanced state.
	Save(ctx context.Context, st models.PolicyGraphState) error
	// End discards the session, keeping nothing beyond the audit trail
	// written elsewhere.
	End(ctx context.Context, id string) error
}
