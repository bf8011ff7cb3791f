package order

import (
	"context"
	"encoding/json"
	"time"

	"trading-core/internal/statestore"
)

// idempotencyPlaceholder marks a reservation with no final response yet.
const idempotencyPlaceholder = "__pending__"

// Response is the canonical client-facing response for an
// execute_instant_order call, the value replayed back verbatim on a
// duplicate request with the same idempotency key (spec.md §4.5 step 1,
// §8 testable property 3).
type Response struct {
	OK          bool    `json:"ok"`
	OrderID     string  `json:"order_id,omitempty"`
	OrderStatus string  `json:"order_status,omitempty"`
	Flow        string  `json:"flow,omitempty"` // local | provider
	ExecPrice   string  `json:"exec_price,omitempty"`
	MarginUSD   string  `json:"margin_usd,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// reserveIdempotency implements the SET NX EX reservation. It returns:
//   - (response, true, nil)  if a final response already exists: replay it.
//   - (zero, false, nil)     if this call now owns the reservation: proceed.
//   - (zero, false, ErrIdempotencyInProgress) if another call owns it.
func reserveIdempotency(ctx context.Context, store *statestore.Store, userType, userID, key string, ttl time.Duration) (Response, bool, error) {
	fullKey := statestore.IdempotencyKey(userType, userID, key)

	created, err := store.SetNX(ctx, fullKey, idempotencyPlaceholder, ttl)
	if err != nil {
		return Response{}, false, err
	}
	if created {
		return Response{}, false, nil
	}

	existing, err := store.Get(ctx, fullKey)
	if err != nil {
		if statestore.IsNotFound(err) {
			// Reservation expired between our failed SETNX and this GET;
			// treat as a fresh attempt by the caller (rare race, safe to retry).
			return Response{}, false, nil
		}
		return Response{}, false, err
	}
	if existing == idempotencyPlaceholder {
		return Response{}, false, ErrIdempotencyInProgress
	}

	var resp Response
	if err := json.Unmarshal([]byte(existing), &resp); err != nil {
		return Response{}, false, err
	}
	return resp, true, nil
}

// finalizeIdempotency stores the final response under the reservation,
// overwriting the placeholder, keeping the original TTL window.
func finalizeIdempotency(ctx context.Context, store *statestore.Store, userType, userID, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return store.Set(ctx, statestore.IdempotencyKey(userType, userID, key), string(data), ttl)
}
