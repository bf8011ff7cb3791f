package workers

import (
	"context"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/pricing"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// CloseWorker confirms an OPEN (or CLOSING) order into CLOSED, recomputing
// exit commission and realized P&L against the fill/trigger price, and
// attributes close_reason from the CloseContext the initiator wrote
// (spec.md §4.6 "OPEN×EXECUTED / CLOSING×EXECUTED → close_queue"; §4.7
// "Close worker additionally recomputes exit commission and realized P&L").
type CloseWorker struct{ d deps }

func NewCloseWorker(s Set) *CloseWorker { return &CloseWorker{d: s.deps()} }

func (w *CloseWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.CloseQueue, prefetch, w.handle)
}

func (w *CloseWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("close worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("close worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("close worker: order %s not found", msg.OrderID)
	}
	if o.Status == order.StatusClosed {
		return nil // idempotent replay
	}
	if o.Status.IsTerminal() {
		return nil // already finalized some other way
	}

	closePrice := o.EntryPrice
	switch {
	case msg.AvgPx != "":
		if p, perr := money.Parse(msg.AvgPx); perr == nil {
			closePrice = p
		}
	case msg.TriggerPx != "":
		if p, perr := money.Parse(msg.TriggerPx); perr == nil {
			closePrice = p
		}
	}

	account, err := w.d.accounts.Get(ctx, o.UserType, o.UserID)
	if err != nil {
		return fmt.Errorf("close worker: load user config for %s: %w", o.OrderID, err)
	}
	cfg, err := w.d.groups.Get(ctx, account.Group, o.Symbol)
	if err != nil {
		return fmt.Errorf("close worker: load group config for %s: %w", o.OrderID, err)
	}

	if exitCommission, ok := w.d.margin.ExitCommission(cfg, o.Quantity, closePrice, cfg.CommissionType); ok {
		o.CommissionExit = exitCommission
	}

	pnlUSD, ok := w.d.margin.RealizedPnL(ctx, cfg, pricing.Side(o.Side), o.Quantity, o.EntryPrice, closePrice)
	if !ok {
		return fmt.Errorf("close worker: realized pnl conversion unavailable for %s", o.OrderID)
	}

	o.ClosePrice = closePrice
	o.RealizedPnLUSD = pnlUSD
	o.Status = order.StatusClosed
	o.RedisStatus = order.RedisStatusClosed
	o.CloseReason = attributeCloseReason(ctx, w.d.state, o.OrderID)
	o.ClosedTS = msg.Ts
	if msg.TsMs != 0 {
		o.ClosedTS = msg.TsMs / 1000
	}

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("close worker: write order %s: %w", o.OrderID, err)
	}
	if err := removeHoldings(ctx, w.d.state, o); err != nil {
		return fmt.Errorf("close worker: remove holdings %s: %w", o.OrderID, err)
	}
	if w.d.triggers != nil {
		if err := w.d.triggers.Disarm(ctx, o.OrderID, o.Symbol, o.Side, o.HasStopLoss, o.HasTakeProfit); err != nil {
			return fmt.Errorf("close worker: disarm triggers for %s: %w", o.OrderID, err)
		}
	}

	if existing, uerr := loadUsedMargin(ctx, w.d.state, o.UserType, o.UserID); uerr == nil {
		if serr := storeUsedMargin(ctx, w.d.state, o.UserType, o.UserID, existing.Sub(o.MarginUSD)); serr != nil {
			return fmt.Errorf("close worker: update used-margin snapshot for %s: %w", o.OrderID, serr)
		}
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("close worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}

	return nil
}
