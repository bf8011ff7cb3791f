package workers

import (
	"context"
	"fmt"

	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// CancelWorker confirms a PENDING order's cancellation into CANCELLED and
// frees its provisional margin reservation (spec.md §4.6 "PENDING×CANCELED
// → cancel_queue"; §4.7 "Cancel worker transitions PENDING → CANCELLED").
// Unlike Open/Close, a cancelled pending order was never filled, so there
// is no holdings state to unwind — only the reservation C5 made at
// creation time and any stop-loss/take-profit trigger entries it carries.
type CancelWorker struct{ d deps }

func NewCancelWorker(s Set) *CancelWorker { return &CancelWorker{d: s.deps()} }

func (w *CancelWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.CancelQueue, prefetch, w.handle)
}

func (w *CancelWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("cancel worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("cancel worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("cancel worker: order %s not found", msg.OrderID)
	}
	if o.Status.IsTerminal() {
		return nil // idempotent replay or raced with another terminal transition
	}

	o.Status = order.StatusCancelled
	o.RedisStatus = order.RedisStatusCancelled
	o.CloseReason = attributeCloseReason(ctx, w.d.state, o.OrderID)
	o.ClosedTS = msg.Ts
	if msg.TsMs != 0 {
		o.ClosedTS = msg.TsMs / 1000
	}

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("cancel worker: write order %s: %w", o.OrderID, err)
	}
	if err := removeFromUserOrders(ctx, w.d.state, o); err != nil {
		return fmt.Errorf("cancel worker: remove user-orders entry %s: %w", o.OrderID, err)
	}

	// A pending order never reached UserHoldings/SymbolHolders (spec.md §4.5
	// only admits OPEN orders there), so only the used-margin reservation
	// needs unwinding.
	if existing, uerr := loadUsedMargin(ctx, w.d.state, o.UserType, o.UserID); uerr == nil {
		if serr := storeUsedMargin(ctx, w.d.state, o.UserType, o.UserID, existing.Sub(o.MarginUSD)); serr != nil {
			return fmt.Errorf("cancel worker: update used-margin snapshot for %s: %w", o.OrderID, serr)
		}
	}

	if w.d.triggers != nil && (o.HasStopLoss || o.HasTakeProfit) {
		if err := w.d.triggers.Disarm(ctx, o.OrderID, o.Symbol, o.Side, o.HasStopLoss, o.HasTakeProfit); err != nil {
			return fmt.Errorf("cancel worker: disarm triggers for %s: %w", o.OrderID, err)
		}
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("cancel worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}
	return nil
}
