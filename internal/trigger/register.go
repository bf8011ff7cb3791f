package trigger

import (
	"context"
	"fmt"

	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/statestore"
)

// Register implements order.TriggerRegistrar: arming an order's stop-loss
// and/or take-profit into the sorted trigger indexes (spec.md §3 Trigger
// Indexes invariant — exactly one sl_index entry per armed SL, ditto TP).
func (e *Engine) Register(ctx context.Context, orderID, symbol string, side order.Side, stopLoss money.D, hasSL bool, takeProfit money.D, hasTP bool) error {
	meta := map[string]string{
		"order_id": orderID,
		"symbol":   symbol,
		"side":     string(side),
	}
	if hasSL {
		meta["stop_loss"] = stopLoss.String()
	}
	if hasTP {
		meta["take_profit"] = takeProfit.String()
	}
	if err := e.state.HSet(ctx, statestore.OrderTriggersKey(orderID), meta); err != nil {
		return fmt.Errorf("trigger: write order_triggers for %s: %w", orderID, err)
	}

	if hasSL {
		score, _ := stopLoss.Float64()
		if err := e.state.ZAdd(ctx, statestore.SLIndexKey(symbol, string(side)), score, orderID); err != nil {
			return fmt.Errorf("trigger: arm sl for %s: %w", orderID, err)
		}
	}
	if hasTP {
		score, _ := takeProfit.Float64()
		if err := e.state.ZAdd(ctx, statestore.TPIndexKey(symbol, string(side)), score, orderID); err != nil {
			return fmt.Errorf("trigger: arm tp for %s: %w", orderID, err)
		}
	}
	return nil
}

// Disarm removes an order from both trigger indexes and deletes its
// order_triggers metadata. Called by C7's close/cancel workers so a
// terminal order never lingers in a sorted index (spec.md §8 testable
// property 2).
func (e *Engine) Disarm(ctx context.Context, orderID, symbol string, side order.Side, hadSL, hadTP bool) error {
	if hadSL {
		if err := e.state.ZRem(ctx, statestore.SLIndexKey(symbol, string(side)), orderID); err != nil {
			return fmt.Errorf("trigger: disarm sl for %s: %w", orderID, err)
		}
	}
	if hadTP {
		if err := e.state.ZRem(ctx, statestore.TPIndexKey(symbol, string(side)), orderID); err != nil {
			return fmt.Errorf("trigger: disarm tp for %s: %w", orderID, err)
		}
	}
	return e.state.HDel(ctx, statestore.OrderTriggersKey(orderID), "order_id", "symbol", "side", "stop_loss", "take_profit")
}

// DisarmStopLoss removes only the stop-loss half of an order's trigger
// state, leaving any armed take-profit untouched. Used by the stop-loss
// cancel worker (spec.md §4.7 "Stop-loss/take-profit-cancel workers remove
// only the relevant half of the trigger state, never both").
func (e *Engine) DisarmStopLoss(ctx context.Context, orderID, symbol string, side order.Side) error {
	if err := e.state.ZRem(ctx, statestore.SLIndexKey(symbol, string(side)), orderID); err != nil {
		return fmt.Errorf("trigger: disarm sl for %s: %w", orderID, err)
	}
	return e.state.HDel(ctx, statestore.OrderTriggersKey(orderID), "stop_loss")
}

// DisarmTakeProfit removes only the take-profit half of an order's trigger
// state, leaving any armed stop-loss untouched.
func (e *Engine) DisarmTakeProfit(ctx context.Context, orderID, symbol string, side order.Side) error {
	if err := e.state.ZRem(ctx, statestore.TPIndexKey(symbol, string(side)), orderID); err != nil {
		return fmt.Errorf("trigger: disarm tp for %s: %w", orderID, err)
	}
	return e.state.HDel(ctx, statestore.OrderTriggersKey(orderID), "take_profit")
}
