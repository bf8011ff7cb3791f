package workers

import (
	"context"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// StopLossCancelWorker confirms a provider-side stop-loss cancellation,
// clearing only the stop-loss half of the order's trigger state and
// restoring RedisStatus to OPEN (spec.md §4.6 "SL_PENDING×CANCELED →
// stoploss_cancel_queue"; §4.7 "remove only the relevant half of the
// trigger state, never both"). The order itself stays OPEN throughout —
// this only concerns the SL/TP sub-state of an already-filled order.
type StopLossCancelWorker struct{ d deps }

func NewStopLossCancelWorker(s Set) *StopLossCancelWorker { return &StopLossCancelWorker{d: s.deps()} }

func (w *StopLossCancelWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.StopLossCancelQueue, prefetch, w.handle)
}

func (w *StopLossCancelWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("stoploss cancel worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("stoploss cancel worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("stoploss cancel worker: order %s not found", msg.OrderID)
	}
	if o.Status.IsTerminal() {
		return nil // order already finalized some other way; nothing left to disarm
	}
	if !o.HasStopLoss {
		return nil // idempotent replay
	}

	if w.d.triggers != nil {
		if err := w.d.triggers.DisarmStopLoss(ctx, o.OrderID, o.Symbol, o.Side); err != nil {
			return fmt.Errorf("stoploss cancel worker: disarm sl for %s: %w", o.OrderID, err)
		}
	}

	o.HasStopLoss = false
	o.StopLoss = money.Zero
	if o.RedisStatus == order.RedisStatusSLPending {
		o.RedisStatus = order.RedisStatusOpen
	}

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("stoploss cancel worker: write order %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HDel(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), "stop_loss"); err != nil {
		return fmt.Errorf("stoploss cancel worker: clear stop_loss field for %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HSet(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("stoploss cancel worker: write holdings %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HDel(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), "stop_loss"); err != nil {
		return fmt.Errorf("stoploss cancel worker: clear holdings stop_loss field for %s: %w", o.OrderID, err)
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("stoploss cancel worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}
	return nil
}
