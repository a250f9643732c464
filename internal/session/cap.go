package session

import (
	"context"
	"fmt"
)

// EnforceCap invalidates a user's oldest valid sessions until at most max
// remain, and returns how many were evicted. Eviction is FIFO by creation
// time. Concurrent logins may briefly exceed the cap; each later call
// converges it again.
func EnforceCap(ctx context.Context, store Store, userID string, max int) (int, error) {
	if max < 1 {
		max = DefaultMaxPerUser
	}

	active, err := store.ListActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	if len(active) <= max {
		return 0, nil
	}

	// ListActive is newest first, so the excess is the tail.
	evicted := 0
	for _, s := range active[max:] {
		if err := store.InvalidateByID(ctx, s.ID, ReasonCapEvicted); err != nil {
			return evicted, fmt.Errorf("evicting session %s: %w", s.ID, err)
		}
		evicted++
	}
	return evicted, nil
}
