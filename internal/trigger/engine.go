// Package trigger implements C8: the price-driven monitor that scans
// sorted stop-loss / take-profit / pending-activation indexes on every
// symbol move and fires crossings (spec.md §4.8).
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// Config tunes the per-symbol leadership lease.
type Config struct {
	LeaseTTL time.Duration
	WorkerID string // identifies this replica as a lease holder
}

// DefaultConfig returns sane defaults (5s lease, renewed by its holder on
// every scan it runs).
func DefaultConfig(workerID string) Config {
	return Config{LeaseTTL: 5 * time.Second, WorkerID: workerID}
}

// CloseIntent is the synthetic message C8 enqueues in place of a provider
// execution report, consumed by C7's close/open workers identically to a
// real one (spec.md §4.8 "enqueue ... exactly as if a provider report had
// arrived").
type CloseIntent struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	TriggerKind string `json:"trigger_kind"` // STOPLOSS_HIT | TAKEPROFIT_HIT | AUTOCUTOFF | pending activation
	TriggerPx   string `json:"trigger_price,omitempty"`
	Ts          int64  `json:"ts"`
}

// Engine is C8, the Trigger Engine.
type Engine struct {
	state  *statestore.Store
	bus    *events.Bus
	broker *queue.Broker
	cfg    Config
}

// NewEngine builds a trigger Engine.
func NewEngine(state *statestore.Store, bus *events.Bus, broker *queue.Broker, cfg Config) *Engine {
	return &Engine{state: state, bus: bus, broker: broker, cfg: cfg}
}

// Run subscribes to symbol-moved notifications and scans crossings for as
// long as ctx is live. Intended to run as its own goroutine/task; safe to
// run on multiple replicas simultaneously, since per-symbol leadership is
// arbitrated by acquireLease.
func (e *Engine) Run(ctx context.Context) {
	ch, unsub := e.bus.Subscribe(events.EventSymbolMoved, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			symbol, ok := payload.(string)
			if !ok {
				continue
			}
			e.handleSymbolMoved(ctx, symbol)
		}
	}
}

func (e *Engine) handleSymbolMoved(ctx context.Context, symbol string) {
	leader, err := acquireLease(ctx, e.state, symbol, e.cfg.WorkerID, e.cfg.LeaseTTL)
	if err != nil {
		log.Printf("trigger: lease acquire failed for %s: %v", symbol, err)
		return
	}
	if !leader {
		// Another replica holds leadership for this symbol.
		return
	}

	tick, err := e.readTick(ctx, symbol)
	if err != nil {
		log.Printf("trigger: read tick failed for %s: %v", symbol, err)
		return
	}

	e.scanSide(ctx, symbol, order.SideBuy, tick)
	e.scanSide(ctx, symbol, order.SideSell, tick)
}

type rawTick struct {
	bid, ask       float64
	hasBid, hasAsk bool
}

func (e *Engine) readTick(ctx context.Context, symbol string) (rawTick, error) {
	fields, err := e.state.HGetAll(ctx, statestore.MarketTickKey(symbol))
	if err != nil {
		return rawTick{}, err
	}
	var t rawTick
	if v, ok := fields["bid"]; ok && v != "" {
		fmt.Sscanf(v, "%f", &t.bid)
		t.hasBid = true
	}
	if v, ok := fields["ask"]; ok && v != "" {
		fmt.Sscanf(v, "%f", &t.ask)
		t.hasAsk = true
	}
	return t, nil
}

// scoreGE/scoreLE select which half of the index is a crossing candidate;
// the chosen half is also the tie-break order (spec.md §4.8: "ascending
// score order for SL_BUY/TP_SELL and descending for SL_SELL/TP_BUY" — the
// closest order to the crossing point fires first).
const (
	scoreGE = "score_ge" // candidates have score >= threshold, fire ascending
	scoreLE = "score_le" // candidates have score <= threshold, fire descending
)

// scanSide scans SL, TP and pending indexes for one entry side of one
// symbol, applying the crossing rules of spec.md §4.8.
func (e *Engine) scanSide(ctx context.Context, symbol string, side order.Side, tick rawTick) {
	// Stop-loss: BUY triggers on bid <= score i.e. score >= bid, ascending;
	// SELL triggers on ask >= score i.e. score <= ask, descending.
	if side == order.SideBuy && tick.hasBid {
		e.fireCrossed(ctx, statestore.SLIndexKey(symbol, string(side)), symbol, side,
			tick.bid, scoreGE, order.CloseReasonStopLossHit, queue.CloseQueue)
	}
	if side == order.SideSell && tick.hasAsk {
		e.fireCrossed(ctx, statestore.SLIndexKey(symbol, string(side)), symbol, side,
			tick.ask, scoreLE, order.CloseReasonStopLossHit, queue.CloseQueue)
	}

	// Take-profit: inverted — BUY triggers on bid >= score i.e. score <=
	// bid, descending; SELL triggers on ask <= score i.e. score >= ask,
	// ascending.
	if side == order.SideBuy && tick.hasBid {
		e.fireCrossed(ctx, statestore.TPIndexKey(symbol, string(side)), symbol, side,
			tick.bid, scoreLE, order.CloseReasonTakeProfitHit, queue.CloseQueue)
	}
	if side == order.SideSell && tick.hasAsk {
		e.fireCrossed(ctx, statestore.TPIndexKey(symbol, string(side)), symbol, side,
			tick.ask, scoreGE, order.CloseReasonTakeProfitHit, queue.CloseQueue)
	}

	// Pending activation: same "raw price crossed stored level" rule,
	// mirrored off the side that would execute the order on activation —
	// BUY checks ask (the price a BUY would fill at), SELL checks bid
	// (spec.md §4.8, §9 open question: gap-vs-touch both treated as a
	// trigger).
	if side == order.SideBuy && tick.hasAsk {
		e.fireCrossed(ctx, statestore.PendingIndexKey(symbol, string(side)), symbol, side,
			tick.ask, scoreGE, "", queue.OpenQueue)
	}
	if side == order.SideSell && tick.hasBid {
		e.fireCrossed(ctx, statestore.PendingIndexKey(symbol, string(side)), symbol, side,
			tick.bid, scoreLE, "", queue.OpenQueue)
	}
}

// fireCrossed scans one index for one crossing direction, removes every
// crossed member, and enqueues its close/activate intent.
func (e *Engine) fireCrossed(ctx context.Context, indexKey, symbol string, side order.Side, threshold float64, mode string, reason order.CloseReason, destQueue string) {
	const farBound = 1e12
	var members []string
	var err error
	if mode == scoreGE {
		members, err = e.state.ZRangeByScoreAsc(ctx, indexKey, threshold, farBound)
	} else {
		members, err = e.state.ZRangeByScoreDesc(ctx, indexKey, -farBound, threshold)
	}
	if err != nil {
		log.Printf("trigger: scan %s failed: %v", indexKey, err)
		return
	}

	for _, orderID := range members {
		if err := e.state.ZRem(ctx, indexKey, orderID); err != nil {
			log.Printf("trigger: zrem %s from %s failed: %v", orderID, indexKey, err)
			continue
		}
		if err := e.writeCloseContext(ctx, orderID, string(reason)); err != nil {
			log.Printf("trigger: close context write failed for %s: %v", orderID, err)
		}
		if err := e.enqueueIntent(ctx, destQueue, CloseIntent{
			OrderID: orderID, Symbol: symbol, Side: string(side),
			TriggerKind: string(reason), TriggerPx: fmt.Sprintf("%v", threshold),
			Ts: time.Now().Unix(),
		}); err != nil {
			log.Printf("trigger: enqueue failed for %s: %v", orderID, err)
		}
	}
}

func (e *Engine) writeCloseContext(ctx context.Context, orderID, triggerKind string) error {
	fields := map[string]string{
		"context":   triggerKind,
		"initiator": "trigger_engine",
		"ts":        fmt.Sprintf("%d", time.Now().Unix()),
	}
	if err := e.state.HSet(ctx, statestore.CloseContextKey(orderID), fields); err != nil {
		return err
	}
	return e.state.Expire(ctx, statestore.CloseContextKey(orderID), 5*time.Minute)
}

func (e *Engine) enqueueIntent(ctx context.Context, destQueue string, intent CloseIntent) error {
	if e.broker == nil {
		return nil
	}
	body, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return e.broker.Publish(ctx, destQueue, body)
}
