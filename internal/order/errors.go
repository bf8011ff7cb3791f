package order

import "errors"

// Sentinel errors the executor can return distinct from a rejection
// Response (which is itself a normal, non-error return carrying a stable
// reason code; the HTTP layer maps it to a 4xx/503 status). These are
// reserved for conditions that are not themselves client-facing reasons.
var (
	ErrIdempotencyInProgress = errors.New("order: idempotency reservation in progress")
)
