package pricing

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/market"
	"trading-core/internal/money"
)

func ptr(d money.D) *money.D { return &d }

func newMarketWithTick(t *testing.T, symbol string, bid, ask string) *market.Cache {
	t.Helper()
	mkt := market.NewCache(nil, nil)
	if err := mkt.Accept(context.Background(), market.RawTick{
		Symbol: symbol, Bid: ptr(money.MustParse(bid)), Ask: ptr(money.MustParse(ask)), SourceTS: time.Unix(0, 0),
	}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return mkt
}

func TestConvertToUSD_USDIsNoOp(t *testing.T) {
	p := NewPricer(nil, market.NewCache(nil, nil))
	got, ok := p.ConvertToUSD(money.MustParse("100"), "USD", true)
	if !ok || !got.Equal(money.MustParse("100")) {
		t.Fatalf("ConvertToUSD(USD) = %s, %v", got, ok)
	}
}

func TestConvertToUSD_EmptyCurrencyIsNoOp(t *testing.T) {
	p := NewPricer(nil, market.NewCache(nil, nil))
	got, ok := p.ConvertToUSD(money.MustParse("50"), "", true)
	if !ok || !got.Equal(money.MustParse("50")) {
		t.Fatalf("ConvertToUSD(\"\") = %s, %v", got, ok)
	}
}

func TestConvertToUSD_DirectPairMultipliesByAsk(t *testing.T) {
	mkt := newMarketWithTick(t, "EURUSD", "1.0800", "1.0802")
	p := NewPricer(nil, mkt)

	got, ok := p.ConvertToUSD(money.MustParse("100"), "EUR", true)
	if !ok {
		t.Fatalf("expected a hit via EURUSD")
	}
	want := money.MustParse("100").Mul(money.MustParse("1.0802"))
	if !got.Equal(want) {
		t.Fatalf("ConvertToUSD(EUR) = %s, want %s", got, want)
	}
}

func TestConvertToUSD_InversePairDivides(t *testing.T) {
	mkt := newMarketWithTick(t, "USDJPY", "154.00", "154.05")
	p := NewPricer(nil, mkt)

	got, ok := p.ConvertToUSD(money.MustParse("1000"), "JPY", true)
	if !ok {
		t.Fatalf("expected a hit via the inverse USDJPY pair")
	}
	want := money.MustParse("1000").Div(money.MustParse("154.05"))
	if !got.Equal(want) {
		t.Fatalf("ConvertToUSD(JPY) = %s, want %s", got, want)
	}
}

func TestConvertToUSD_StrictMissReturnsNotOK(t *testing.T) {
	p := NewPricer(nil, market.NewCache(nil, nil))
	_, ok := p.ConvertToUSD(money.MustParse("10"), "XYZ", true)
	if ok {
		t.Fatalf("expected a strict miss for an unknown currency")
	}
}

func TestConvertToUSD_NonStrictMissReturnsAmountUnchanged(t *testing.T) {
	p := NewPricer(nil, market.NewCache(nil, nil))
	got, ok := p.ConvertToUSD(money.MustParse("10"), "XYZ", false)
	if !ok || !got.Equal(money.MustParse("10")) {
		t.Fatalf("non-strict miss should pass amount through unchanged, got %s, %v", got, ok)
	}
}
