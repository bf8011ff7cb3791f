package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// autocutoffLeaseTTL bounds how long one replica holds exclusive
// liquidation rights for a user after a cutoff trip, long enough to cover
// the write-context-then-enqueue sequence below.
const autocutoffLeaseTTL = 3 * time.Second

// closeIntent mirrors trigger.CloseIntent's wire shape (spec.md §4.8/§4.9:
// autocutoff "enqueues forced closes identical to a user-initiated close",
// i.e. the same synthetic message C8 already produces). Declared locally
// rather than imported so C9 doesn't take a dependency on C8 for a single
// JSON struct; the lifecycle workers' inbound type already parses either
// shape interchangeably.
type closeIntent struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	TriggerKind string `json:"trigger_kind"`
	TriggerPx   string `json:"trigger_price,omitempty"`
	Ts          int64  `json:"ts"`
}

// checkAutocutoff inspects a freshly computed Snapshot and, if the user's
// margin level has dropped under the configured cutoff, liquidates the
// largest loser (spec.md §4.9 "when margin_level = equity/used_margin <
// cutoff_pct, it picks liquidation candidates (largest-loss-first), writes
// an AUTOCUTOFF CloseContext, and enqueues forced closes").
func (r *Recalculator) checkAutocutoff(ctx context.Context, snap Snapshot, legs []leg) {
	if snap.UsedMarginUSD.IsZero() {
		return // no leveraged exposure, margin_level is undefined/infinite
	}
	cutoff := r.cfg.CutoffPct
	if cutoff.IsZero() {
		cutoff = money.MustParse("0.20")
	}
	if !snap.MarginLevel.LessThan(cutoff) {
		return
	}

	candidate, ok := largestLoser(legs)
	if !ok {
		// Margin level is under water but every open leg is currently
		// flat or in profit (can happen right after a favorable tick);
		// nothing to liquidate this pass.
		return
	}

	leaseKey := statestore.AutocutoffLeaseKey(snap.UserType, snap.UserID)
	acquired, err := r.state.SetNX(ctx, leaseKey, r.cfg.WorkerID, autocutoffLeaseTTL)
	if err != nil {
		log.Printf("portfolio: autocutoff lease acquire failed for %s/%s: %v", snap.UserType, snap.UserID, err)
		return
	}
	if !acquired {
		return // another replica already owns this user's liquidation this tick
	}

	if err := r.liquidate(ctx, candidate); err != nil {
		log.Printf("portfolio: autocutoff liquidation failed for order %s (%s/%s): %v",
			candidate.order.OrderID, snap.UserType, snap.UserID, err)
	}
}

// largestLoser returns the OPEN leg with the most negative unrealized P&L.
// A leg with no live P&L (mark-to-market unavailable this pass) or a
// non-negative P&L is never a candidate.
func largestLoser(legs []leg) (leg, bool) {
	var worst leg
	found := false
	for _, l := range legs {
		if !l.hasLivePnL || !l.pnlUSD.IsNegative() {
			continue
		}
		if !found || l.pnlUSD.LessThan(worst.pnlUSD) {
			worst = l
			found = true
		}
	}
	return worst, found
}

// liquidate writes the durable AUTOCUTOFF CloseContext and enqueues the
// forced close before returning, so a crash between the two never loses
// the liquidation: a replayed context with no matching close is harmless
// (the 5-minute TTL expires it), but an enqueued close with no context
// would misattribute close_reason, so the context is written first
// (spec.md §4.9 "the context key and the enqueued close request are
// durable before the operation reports success").
func (r *Recalculator) liquidate(ctx context.Context, l leg) error {
	o := l.order
	if err := r.writeCloseContext(ctx, o.OrderID); err != nil {
		return fmt.Errorf("write close context: %w", err)
	}

	t, err := r.readTick(ctx, o.Symbol)
	triggerPx := ""
	if err == nil {
		if o.Side == order.SideBuy && t.hasBid {
			triggerPx = t.bid.String()
		} else if o.Side == order.SideSell && t.hasAsk {
			triggerPx = t.ask.String()
		}
	}

	intent := closeIntent{
		OrderID: o.OrderID, Symbol: o.Symbol, Side: string(o.Side),
		TriggerKind: string(order.CloseReasonAutocutoff), TriggerPx: triggerPx,
		Ts: time.Now().Unix(),
	}
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal close intent: %w", err)
	}
	if r.broker == nil {
		return nil
	}
	if err := r.broker.Publish(ctx, queue.CloseQueue, body); err != nil {
		return fmt.Errorf("enqueue forced close: %w", err)
	}
	log.Printf("portfolio: autocutoff order=%s user=%s:%s pnl=%s", o.OrderID, o.UserType, o.UserID, l.pnlUSD.String())
	if r.bus != nil {
		r.bus.Publish(events.EventRiskAlert, fmt.Sprintf(
			"autocutoff liquidated order %s for %s:%s (pnl %s)", o.OrderID, o.UserType, o.UserID, l.pnlUSD.String()))
	}
	return nil
}

func (r *Recalculator) writeCloseContext(ctx context.Context, orderID string) error {
	fields := map[string]string{
		"context":   string(order.CloseReasonAutocutoff),
		"initiator": "portfolio_recalculator",
		"ts":        fmt.Sprintf("%d", time.Now().Unix()),
	}
	key := statestore.CloseContextKey(orderID)
	if err := r.state.HSet(ctx, key, fields); err != nil {
		return err
	}
	return r.state.Expire(ctx, key, 5*time.Minute)
}
