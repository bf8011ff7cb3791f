// Package market implements C2, the Market Cache: the in-memory snapshot
// of the latest bid/ask per symbol, backed by the state store and fanned
// out over the event bus on every accepted tick (spec.md §4.2).
package market

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/money"
	"trading-core/internal/statestore"
)

// Tick is a market snapshot for one symbol. Bid and Ask are independently
// optional — a partial update carries only the side that changed.
type Tick struct {
	Symbol    string
	Bid       money.D
	Ask       money.D
	HasBid    bool
	HasAsk    bool
	SourceTS  time.Time
	Warmup    bool // true if this tick was synthesized by the warmup/emergency path
}

// RawTick is what a transport decoder hands the cache: a partial update.
type RawTick struct {
	Symbol   string
	Bid      *money.D
	Ask      *money.D
	SourceTS time.Time
}

// Cache is the in-memory market snapshot, mirrored into the state store
// under market:SYMBOL and fanned out on events.EventSymbolMoved.
type Cache struct {
	mu      sync.RWMutex
	ticks   map[string]Tick
	state   *statestore.Store
	bus     *events.Bus
}

// NewCache builds a Cache. bus may be nil in tests that don't need fan-out.
func NewCache(state *statestore.Store, bus *events.Bus) *Cache {
	return &Cache{ticks: make(map[string]Tick), state: state, bus: bus}
}

// Get returns the current snapshot for symbol.
func (c *Cache) Get(symbol string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	return t, ok
}

// KnownSymbols returns every symbol the cache currently tracks.
func (c *Cache) KnownSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.ticks))
	for s := range c.ticks {
		out = append(out, s)
	}
	return out
}

// Accept merges a raw tick into the cache, persists the merged snapshot,
// then publishes the symbol on the "moved" channel. The publish happens
// strictly after the write so a subscriber reading the snapshot on
// notification always observes at least this tick (spec.md §4.2, §5).
func (c *Cache) Accept(ctx context.Context, raw RawTick) error {
	merged := c.merge(raw)

	if c.state != nil {
		if err := c.persist(ctx, merged); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.ticks[merged.Symbol] = merged
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.EventSymbolMoved, merged.Symbol)
	}
	return nil
}

func (c *Cache) merge(raw RawTick) Tick {
	c.mu.RLock()
	prior, ok := c.ticks[raw.Symbol]
	c.mu.RUnlock()

	merged := Tick{Symbol: raw.Symbol, SourceTS: raw.SourceTS}
	if ok {
		merged.Bid, merged.HasBid = prior.Bid, prior.HasBid
		merged.Ask, merged.HasAsk = prior.Ask, prior.HasAsk
	}
	if raw.Bid != nil {
		merged.Bid, merged.HasBid = *raw.Bid, true
	}
	if raw.Ask != nil {
		merged.Ask, merged.HasAsk = *raw.Ask, true
	}
	return merged
}

func (c *Cache) persist(ctx context.Context, t Tick) error {
	fields := map[string]string{
		"source_ts": t.SourceTS.Format(time.RFC3339Nano),
	}
	if t.HasBid {
		fields["bid"] = t.Bid.String()
	}
	if t.HasAsk {
		fields["ask"] = t.Ask.String()
	}
	if t.Warmup {
		fields["source"] = "warmup_fallback"
	}
	if err := c.state.HSet(ctx, statestore.MarketTickKey(t.Symbol), fields); err != nil {
		log.Printf("market: persist %s failed: %v", t.Symbol, err)
		return err
	}
	return nil
}
