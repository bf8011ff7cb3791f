package portfolio

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/events"
	"trading-core/internal/instrument"
	"trading-core/internal/margin"
	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/pricing"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// Recalculator is C9's dirty-user tracker and periodic flush loop.
type Recalculator struct {
	state    *statestore.Store
	accounts *account.Store
	groups   *instrument.Store
	margin   *margin.Engine
	bus      *events.Bus
	broker   *queue.Broker
	cfg      Config

	mu    sync.Mutex
	dirty map[string]struct{} // "user_type:user_id"
}

// NewRecalculator builds C9.
func NewRecalculator(state *statestore.Store, accounts *account.Store, groups *instrument.Store, marginEngine *margin.Engine, bus *events.Bus, broker *queue.Broker, cfg Config) *Recalculator {
	return &Recalculator{
		state: state, accounts: accounts, groups: groups, margin: marginEngine,
		bus: bus, broker: broker, cfg: cfg, dirty: make(map[string]struct{}),
	}
}

// Run subscribes to symbol-moved notifications and flushes dirty users on
// a ticker for as long as ctx is live. Safe to run on multiple replicas;
// recompute itself is an idempotent overwrite, and liquidation is guarded
// by AutocutoffLeaseKey.
func (r *Recalculator) Run(ctx context.Context) {
	ch, unsub := r.bus.Subscribe(events.EventSymbolMoved, 256)
	defer unsub()

	interval := r.cfg.FlushInterval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

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
			r.markDirty(ctx, symbol)
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// markDirty unions symbol_holders:{SYMBOL}:live|demo into the dirty set
// (spec.md §4.9 "looks up symbol_holders:SYMBOL:* and unions the resulting
// uids into the dirty set, deduplicating").
func (r *Recalculator) markDirty(ctx context.Context, symbol string) {
	for _, ut := range userTypes {
		members, err := r.state.SMembers(ctx, statestore.SymbolHoldersKey(symbol, ut))
		if err != nil {
			log.Printf("portfolio: symbol holders scan failed for %s/%s: %v", symbol, ut, err)
			continue
		}
		r.mu.Lock()
		for _, m := range members {
			r.dirty[m] = struct{}{}
		}
		r.mu.Unlock()
	}
}

// flush drains the dirty set and recomputes+persists a snapshot per user,
// then runs the autocutoff check against each fresh snapshot.
func (r *Recalculator) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.dirty) == 0 {
		r.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		batch = append(batch, k)
	}
	r.dirty = make(map[string]struct{})
	r.mu.Unlock()

	for _, key := range batch {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			log.Printf("portfolio: malformed dirty-set entry %q, dropping", key)
			continue
		}
		userType, userID := parts[0], parts[1]
		snap, candidates, err := r.recompute(ctx, userType, userID)
		if err != nil {
			log.Printf("portfolio: recompute failed for %s/%s: %v", userType, userID, err)
			continue
		}
		r.checkAutocutoff(ctx, snap, candidates)
	}
}

// leg pairs an order's margin contribution with the live unrealized P&L
// computed against its current mark, kept alongside the PositionLeg for
// the autocutoff watcher's largest-loss-first candidate selection.
type leg struct {
	order      order.Order
	pnlUSD     money.D
	hasLivePnL bool
}

// recompute rebuilds a user's total margin, equity and free margin from
// every order in UserOrdersKey, persists the resulting Snapshot, and
// authoritatively overwrites UsedMarginKey (spec.md §4.9 "computes fresh
// total margin and free margin per user, and persists a portfolio
// snapshot"). Returns the OPEN legs too, so the caller can pick an
// autocutoff candidate without a second HGETALL pass.
func (r *Recalculator) recompute(ctx context.Context, userType, userID string) (Snapshot, []leg, error) {
	acc, err := r.accounts.Get(ctx, userType, userID)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("portfolio: load account %s/%s: %w", userType, userID, err)
	}

	orderIDs, err := r.state.SMembers(ctx, statestore.UserOrdersKey(userType, userID))
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("portfolio: list orders for %s/%s: %w", userType, userID, err)
	}

	bySymbol := make(map[string][]margin.PositionLeg, len(orderIDs))
	legs := make([]leg, 0, len(orderIDs))
	unrealizedPL := money.Zero

	for _, orderID := range orderIDs {
		o, found, err := r.loadOrder(ctx, userType, userID, orderID)
		if err != nil {
			log.Printf("portfolio: load order %s failed: %v", orderID, err)
			continue
		}
		if !found || o.Status.IsTerminal() {
			// Stale index entry racing a terminal transition; the owning
			// worker's removeFromUserOrders call will catch up shortly.
			continue
		}

		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], margin.PositionLeg{
			Side:      pricing.Side(o.Side),
			Qty:       o.Quantity,
			MarginUSD: o.MarginUSD,
		})

		l := leg{order: o}
		if o.Status == order.StatusOpen {
			if pnl, ok := r.markToMarket(ctx, acc.Group, o); ok {
				l.pnlUSD = pnl
				l.hasLivePnL = true
				unrealizedPL = unrealizedPL.Add(pnl)
			}
		}
		legs = append(legs, l)
	}

	usedMargin := margin.TotalUserMargin(bySymbol)
	equity := money.RoundCurrency(acc.WalletBalance.Add(unrealizedPL))
	freeMargin := margin.FreeMargin(acc.WalletBalance, unrealizedPL, usedMargin)

	marginLevel := money.Zero
	if !usedMargin.IsZero() {
		marginLevel = equity.Div(usedMargin)
	}

	snap := Snapshot{
		UserType: userType, UserID: userID,
		Equity: equity, UsedMarginUSD: usedMargin, FreeMarginUSD: freeMargin,
		MarginLevel: marginLevel,
	}

	if err := r.persist(ctx, snap, usedMargin); err != nil {
		return Snapshot{}, nil, err
	}
	return snap, legs, nil
}

// markToMarket computes an OPEN order's live unrealized P&L against the
// current market tick, mirroring entry at the opposite side's quote (a
// BUY unwinds at the bid, a SELL unwinds at the ask — the same close-side
// convention as the close worker applies to a real exit).
func (r *Recalculator) markToMarket(ctx context.Context, group string, o order.Order) (money.D, bool) {
	cfg, err := r.groups.Get(ctx, group, o.Symbol)
	if err != nil {
		return money.Zero, false
	}
	t, err := r.readTick(ctx, o.Symbol)
	if err != nil {
		return money.Zero, false
	}
	var mark money.D
	var ok bool
	if o.Side == order.SideBuy {
		mark, ok = t.bid, t.hasBid
	} else {
		mark, ok = t.ask, t.hasAsk
	}
	if !ok {
		return money.Zero, false
	}
	pnl, convOK := r.margin.RealizedPnL(ctx, cfg, pricing.Side(o.Side), o.Quantity, o.EntryPrice, mark)
	if !convOK {
		return money.Zero, false
	}
	return pnl, true
}

type tick struct {
	bid, ask       money.D
	hasBid, hasAsk bool
}

// readTick mirrors trigger.Engine.readTick but in decimal, since P&L needs
// exact precision where the trigger scan only needed a float64 comparison.
func (r *Recalculator) readTick(ctx context.Context, symbol string) (tick, error) {
	fields, err := r.state.HGetAll(ctx, statestore.MarketTickKey(symbol))
	if err != nil {
		return tick{}, err
	}
	var t tick
	if v, ok := fields["bid"]; ok && v != "" {
		if p, perr := money.Parse(v); perr == nil {
			t.bid, t.hasBid = p, true
		}
	}
	if v, ok := fields["ask"]; ok && v != "" {
		if p, perr := money.Parse(v); perr == nil {
			t.ask, t.hasAsk = p, true
		}
	}
	return t, nil
}

func (r *Recalculator) persist(ctx context.Context, snap Snapshot, usedMargin money.D) error {
	fields := map[string]string{
		"equity":          snap.Equity.String(),
		"used_margin_usd": snap.UsedMarginUSD.String(),
		"free_margin_usd": snap.FreeMarginUSD.String(),
		"margin_level":    snap.MarginLevel.String(),
		"ts":              fmt.Sprintf("%d", time.Now().Unix()),
	}
	if err := r.state.HSet(ctx, statestore.PortfolioSnapshotKey(snap.UserType, snap.UserID), fields); err != nil {
		return fmt.Errorf("portfolio: persist snapshot for %s/%s: %w", snap.UserType, snap.UserID, err)
	}
	used := money.RoundCurrency(usedMargin)
	if used.IsNegative() {
		used = money.Zero
	}
	if err := r.state.Set(ctx, statestore.UsedMarginKey(snap.UserType, snap.UserID), used.String(), 0); err != nil {
		return fmt.Errorf("portfolio: overwrite used-margin snapshot for %s/%s: %w", snap.UserType, snap.UserID, err)
	}
	return nil
}

// loadOrder duplicates internal/workers' order-fetch shape rather than
// importing it, to avoid portfolio depending on workers for anything but
// its types (same rationale as workers' own loadUsedMargin/storeUsedMargin
// duplication of internal/order's executor helpers).
func (r *Recalculator) loadOrder(ctx context.Context, userType, userID, orderID string) (order.Order, bool, error) {
	fields, err := r.state.HGetAll(ctx, statestore.OrderKey(userType, userID, orderID))
	if err != nil {
		return order.Order{}, false, err
	}
	if len(fields) == 0 {
		return order.Order{}, false, nil
	}
	return order.FromFields(orderID, fields), true, nil
}
