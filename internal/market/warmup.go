package market

import (
	"context"
	"time"

	"trading-core/internal/events"
)

// WarmupConfig tunes the reconnect-time staleness protection described in
// spec.md §4.2 and supplemented from original_source's market warmup
// worker (default freshness/grace windows).
type WarmupConfig struct {
	FreshnessThreshold time.Duration // ticks older than this are considered stale on reconnect
	EmergencyGrace     time.Duration // transport downtime after which every symbol is force-refreshed
}

// DefaultWarmupConfig matches original_source's defaults.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{FreshnessThreshold: 5 * time.Second, EmergencyGrace: 60 * time.Second}
}

// WarmupOnReconnect scans every known symbol; any whose stored timestamp is
// older than cfg.FreshnessThreshold is overwritten with a fallback tick
// tagged Warmup=true, carrying forward the last known price so downstream
// execution never reads a hole in the cache.
func (c *Cache) WarmupOnReconnect(ctx context.Context, cfg WarmupConfig, now time.Time) []string {
	stale := make([]string, 0)
	for _, symbol := range c.KnownSymbols() {
		c.mu.RLock()
		t := c.ticks[symbol]
		c.mu.RUnlock()
		if now.Sub(t.SourceTS) <= cfg.FreshnessThreshold {
			continue
		}
		c.forceRefresh(ctx, symbol, t, now)
		stale = append(stale, symbol)
	}
	return stale
}

// EmergencyPopulate overrides every known symbol unconditionally; invoked
// when the transport has been down longer than cfg.EmergencyGrace.
func (c *Cache) EmergencyPopulate(ctx context.Context, now time.Time) []string {
	symbols := c.KnownSymbols()
	for _, symbol := range symbols {
		c.mu.RLock()
		t := c.ticks[symbol]
		c.mu.RUnlock()
		c.forceRefresh(ctx, symbol, t, now)
	}
	return symbols
}

func (c *Cache) forceRefresh(ctx context.Context, symbol string, prior Tick, now time.Time) {
	refreshed := Tick{
		Symbol:   symbol,
		Bid:      prior.Bid,
		Ask:      prior.Ask,
		HasBid:   prior.HasBid,
		HasAsk:   prior.HasAsk,
		SourceTS: now,
		Warmup:   true,
	}

	if c.state != nil {
		_ = c.persist(ctx, refreshed)
	}
	c.mu.Lock()
	c.ticks[symbol] = refreshed
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.EventSymbolMoved, symbol)
	}
}
