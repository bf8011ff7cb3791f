package market

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/money"
)

func ptr(d money.D) *money.D { return &d }

func TestCache_AcceptAndGet(t *testing.T) {
	c := NewCache(nil, nil)
	err := c.Accept(context.Background(), RawTick{
		Symbol: "EURUSD", Bid: ptr(money.MustParse("1.0800")), Ask: ptr(money.MustParse("1.0802")),
		SourceTS: time.Unix(0, 0),
	})
	if err != nil {
		t.Fatalf("Accept error = %v", err)
	}

	tick, ok := c.Get("EURUSD")
	if !ok {
		t.Fatalf("expected EURUSD to be present after Accept")
	}
	if !tick.HasBid || !tick.HasAsk {
		t.Fatalf("expected both sides set, got %+v", tick)
	}
	if !tick.Bid.Equal(money.MustParse("1.0800")) || !tick.Ask.Equal(money.MustParse("1.0802")) {
		t.Fatalf("unexpected tick values: %+v", tick)
	}
}

func TestCache_Get_UnknownSymbolMisses(t *testing.T) {
	c := NewCache(nil, nil)
	if _, ok := c.Get("GBPUSD"); ok {
		t.Fatalf("expected a miss for a symbol never accepted")
	}
}

func TestCache_PartialUpdatePreservesOtherSide(t *testing.T) {
	c := NewCache(nil, nil)
	ctx := context.Background()
	c.Accept(ctx, RawTick{Symbol: "EURUSD", Bid: ptr(money.MustParse("1.0800")), Ask: ptr(money.MustParse("1.0802"))})

	// A bid-only update must not clobber the previously known ask.
	c.Accept(ctx, RawTick{Symbol: "EURUSD", Bid: ptr(money.MustParse("1.0810"))})

	tick, _ := c.Get("EURUSD")
	if !tick.Bid.Equal(money.MustParse("1.0810")) {
		t.Fatalf("expected updated bid 1.0810, got %s", tick.Bid)
	}
	if !tick.Ask.Equal(money.MustParse("1.0802")) {
		t.Fatalf("expected ask to survive the partial update, got %s", tick.Ask)
	}
}

func TestCache_KnownSymbols(t *testing.T) {
	c := NewCache(nil, nil)
	ctx := context.Background()
	c.Accept(ctx, RawTick{Symbol: "EURUSD", Bid: ptr(money.MustParse("1.08"))})
	c.Accept(ctx, RawTick{Symbol: "GBPUSD", Bid: ptr(money.MustParse("1.27"))})

	got := c.KnownSymbols()
	if len(got) != 2 {
		t.Fatalf("KnownSymbols() = %v, want 2 entries", got)
	}
}
