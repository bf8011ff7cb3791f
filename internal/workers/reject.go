package workers

import (
	"context"
	"fmt"

	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// RejectWorker transitions a QUEUED order that the provider refused into
// REJECTED and frees the provisional margin reservation C5 made at creation
// time (spec.md §4.6 "QUEUED×REJECTED → reject_queue"; §4.7 "Reject worker
// transitions QUEUED → REJECTED and frees the provisional margin
// reservation"). A rejected order was never OPEN, so there is no holdings
// or trigger state to unwind.
type RejectWorker struct{ d deps }

func NewRejectWorker(s Set) *RejectWorker { return &RejectWorker{d: s.deps()} }

func (w *RejectWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.RejectQueue, prefetch, w.handle)
}

func (w *RejectWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("reject worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("reject worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("reject worker: order %s not found", msg.OrderID)
	}
	if o.Status.IsTerminal() {
		return nil // idempotent replay
	}

	o.Status = order.StatusRejected
	o.RedisStatus = order.RedisStatusRejected
	o.ClosedTS = msg.Ts
	if msg.TsMs != 0 {
		o.ClosedTS = msg.TsMs / 1000
	}

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("reject worker: write order %s: %w", o.OrderID, err)
	}
	if err := removeFromUserOrders(ctx, w.d.state, o); err != nil {
		return fmt.Errorf("reject worker: remove user-orders entry %s: %w", o.OrderID, err)
	}

	if existing, uerr := loadUsedMargin(ctx, w.d.state, o.UserType, o.UserID); uerr == nil {
		if serr := storeUsedMargin(ctx, w.d.state, o.UserType, o.UserID, existing.Sub(o.MarginUSD)); serr != nil {
			return fmt.Errorf("reject worker: update used-margin snapshot for %s: %w", o.OrderID, serr)
		}
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("reject worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}
	return nil
}
