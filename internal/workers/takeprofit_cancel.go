package workers

import (
	"context"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// TakeProfitCancelWorker confirms a provider-side take-profit cancellation,
// clearing only the take-profit half of the order's trigger state (spec.md
// §4.6 "TP_PENDING×CANCELED → takeprofit_cancel_queue"; §4.7 "remove only
// the relevant half of the trigger state, never both"). Mirrors
// StopLossCancelWorker with SL/TP swapped.
type TakeProfitCancelWorker struct{ d deps }

func NewTakeProfitCancelWorker(s Set) *TakeProfitCancelWorker {
	return &TakeProfitCancelWorker{d: s.deps()}
}

func (w *TakeProfitCancelWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.TakeProfitCancelQueue, prefetch, w.handle)
}

func (w *TakeProfitCancelWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("takeprofit cancel worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("takeprofit cancel worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("takeprofit cancel worker: order %s not found", msg.OrderID)
	}
	if o.Status.IsTerminal() {
		return nil
	}
	if !o.HasTakeProfit {
		return nil // idempotent replay
	}

	if w.d.triggers != nil {
		if err := w.d.triggers.DisarmTakeProfit(ctx, o.OrderID, o.Symbol, o.Side); err != nil {
			return fmt.Errorf("takeprofit cancel worker: disarm tp for %s: %w", o.OrderID, err)
		}
	}

	o.HasTakeProfit = false
	o.TakeProfit = money.Zero
	if o.RedisStatus == order.RedisStatusTPPending {
		o.RedisStatus = order.RedisStatusOpen
	}

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("takeprofit cancel worker: write order %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HDel(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), "take_profit"); err != nil {
		return fmt.Errorf("takeprofit cancel worker: clear take_profit field for %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HSet(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("takeprofit cancel worker: write holdings %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HDel(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), "take_profit"); err != nil {
		return fmt.Errorf("takeprofit cancel worker: clear holdings take_profit field for %s: %w", o.OrderID, err)
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("takeprofit cancel worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}
	return nil
}
