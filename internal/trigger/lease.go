package trigger

import (
	"context"
	"time"

	"trading-core/internal/statestore"
)

// acquireLease implements the exactly-one-leader-per-symbol-partition rule
// (spec.md §5): a lease in the state store, renewed periodically, gates
// which replica is allowed to scan a given symbol's trigger indexes. The
// replica that already holds the lease keeps it: its claim succeeds again
// and renews the TTL.
func acquireLease(ctx context.Context, state *statestore.Store, symbol, holder string, ttl time.Duration) (bool, error) {
	ok, err := state.SetNX(ctx, statestore.TriggerLeaseKey(symbol), holder, ttl)
	if err != nil || ok {
		return ok, err
	}
	current, err := state.Get(ctx, statestore.TriggerLeaseKey(symbol))
	if err != nil {
		if statestore.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if current != holder {
		return false, nil
	}
	return true, renewLease(ctx, state, symbol, ttl)
}

// renewLease re-asserts an already-held lease's TTL. Called by acquireLease
// each time the holder claims the symbol again, so a leader that keeps
// scanning keeps its leadership.
func renewLease(ctx context.Context, state *statestore.Store, symbol string, ttl time.Duration) error {
	return state.Expire(ctx, statestore.TriggerLeaseKey(symbol), ttl)
}
