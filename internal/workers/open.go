package workers

import (
	"context"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// OpenWorker confirms a QUEUED order (or a PENDING one on activation) into
// OPEN, recomputing entry commission against the provider's actual fill
// price (spec.md §4.6 "QUEUED×EXECUTED → open_queue", "PENDING×EXECUTED →
// open_queue (pending activation)"; §4.7 "Open worker additionally
// recomputes commission (entry) using the actual fill price").
type OpenWorker struct{ d deps }

func NewOpenWorker(s Set) *OpenWorker { return &OpenWorker{d: s.deps()} }

func (w *OpenWorker) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	return runLoop(ctx, w.d, queue.OpenQueue, prefetch, w.handle)
}

func (w *OpenWorker) handle(ctx context.Context, msg inbound) error {
	userType, userID, err := loadOwner(ctx, w.d.state, msg.OrderID)
	if err != nil {
		return fmt.Errorf("open worker: resolve owner for %s: %w", msg.OrderID, err)
	}

	o, found, err := loadOrder(ctx, w.d.state, userType, userID, msg.OrderID)
	if err != nil {
		return fmt.Errorf("open worker: load order %s: %w", msg.OrderID, err)
	}
	if !found {
		return fmt.Errorf("open worker: order %s not found", msg.OrderID)
	}
	if o.Status == order.StatusOpen {
		return nil // idempotent replay
	}
	if o.Status.IsTerminal() {
		return nil // raced with a cancel/reject; nothing to do
	}

	fillPrice := o.EntryPrice
	if msg.AvgPx != "" {
		if p, perr := money.Parse(msg.AvgPx); perr == nil {
			fillPrice = p
		}
	}

	account, err := w.d.accounts.Get(ctx, o.UserType, o.UserID)
	if err != nil {
		return fmt.Errorf("open worker: load user config for %s: %w", o.OrderID, err)
	}
	cfg, err := w.d.groups.Get(ctx, account.Group, o.Symbol)
	if err != nil {
		return fmt.Errorf("open worker: load group config for %s: %w", o.OrderID, err)
	}

	marginResult, err := w.d.margin.OrderMargin(ctx, cfg, o.Quantity, fillPrice, account.Leverage, cfg.CommissionType)
	if err != nil {
		return fmt.Errorf("open worker: recompute margin for %s: %w", o.OrderID, err)
	}

	previousMarginUSD := o.MarginUSD
	o.EntryPrice = fillPrice
	if marginResult.OK {
		o.MarginUSD = marginResult.MarginUSD
		o.CommissionEntry = marginResult.CommissionUSD
	}
	o.Status = order.StatusOpen
	o.RedisStatus = order.RedisStatusOpen

	if err := w.d.state.HSet(ctx, statestore.OrderKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("open worker: write order %s: %w", o.OrderID, err)
	}
	if err := w.d.state.HSet(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID), o.ToFields()); err != nil {
		return fmt.Errorf("open worker: write holdings %s: %w", o.OrderID, err)
	}
	if err := w.d.state.SAdd(ctx, statestore.UserSymbolOrdersKey(o.UserType, o.UserID, o.Symbol), o.OrderID); err != nil {
		return fmt.Errorf("open worker: track symbol order %s: %w", o.OrderID, err)
	}
	if err := w.d.state.SAdd(ctx, statestore.SymbolHoldersKey(o.Symbol, o.UserType), o.UserType+":"+o.UserID); err != nil {
		return fmt.Errorf("open worker: add symbol holder %s: %w", o.OrderID, err)
	}

	// Reconcile the provisional used-margin reservation C5 made at QUEUED
	// time against the now-known actual margin.
	if existing, uerr := loadUsedMargin(ctx, w.d.state, o.UserType, o.UserID); uerr == nil {
		adjusted := existing.Sub(previousMarginUSD).Add(o.MarginUSD)
		if serr := storeUsedMargin(ctx, w.d.state, o.UserType, o.UserID, adjusted); serr != nil {
			return fmt.Errorf("open worker: update used-margin snapshot for %s: %w", o.OrderID, serr)
		}
	}

	if (o.HasStopLoss || o.HasTakeProfit) && w.d.triggers != nil {
		if err := w.d.triggers.Register(ctx, o.OrderID, o.Symbol, o.Side, o.StopLoss, o.HasStopLoss, o.TakeProfit, o.HasTakeProfit); err != nil {
			return fmt.Errorf("open worker: register triggers for %s: %w", o.OrderID, err)
		}
	}

	if w.d.persist != nil {
		if err := w.d.persist.PublishOrderUpdate(ctx, o); err != nil {
			return fmt.Errorf("open worker: publish post-image for %s: %w", o.OrderID, err)
		}
	}
	return nil
}
