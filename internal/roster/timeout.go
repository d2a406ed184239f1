package roster

import (
	"context"
	"time"

	"github.com/DoyleJ11/matchstate/internal/engine"
)

// WithTimeout bounds every lookup made through next. The reconciler treats a
// timed-out lookup like any other failure.
func WithTimeout(next engine.RosterLookup, d time.Duration) engine.RosterLookup {
	if next == nil || d <= 0 {
		return next
	}
	return engine.RosterLookupFunc(func(ctx context.Context, gameID string, ownerIDs []string) (engine.Roster, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.LookupRoster(ctx, gameID, ownerIDs)
	})
}
