package margin

import (
	"testing"

	"trading-core/internal/money"
	"trading-core/internal/pricing"
)

func leg(side pricing.Side, qty, marginUSD string) PositionLeg {
	return PositionLeg{Side: side, Qty: money.MustParse(qty), MarginUSD: money.MustParse(marginUSD)}
}

func TestSymbolContribution_HedgedNetting(t *testing.T) {
	// 2 lots BUY with $100 total margin ($50/lot), 1 lot SELL with $120 margin ($120/lot):
	// net_qty = max(2,1) = 2, per_lot_max = max(50, 120) = 120, contribution = 240.
	legs := []PositionLeg{
		leg(pricing.Buy, "2", "100"),
		leg(pricing.Sell, "1", "120"),
	}
	got := SymbolContribution(legs)
	want := money.MustParse("240")
	if !got.Equal(want) {
		t.Fatalf("SymbolContribution = %s, want %s", got, want)
	}
}

func TestSymbolContribution_SingleSideEqualsSum(t *testing.T) {
	// With only one side present, hedging doesn't reduce anything:
	// net_qty = qty, per_lot_max = margin/qty, contribution = margin.
	legs := []PositionLeg{leg(pricing.Buy, "3", "90")}
	got := SymbolContribution(legs)
	want := money.MustParse("90")
	if !got.Equal(want) {
		t.Fatalf("SymbolContribution = %s, want %s", got, want)
	}
}

func TestSymbolContribution_ZeroQtyLegIgnored(t *testing.T) {
	legs := []PositionLeg{
		leg(pricing.Buy, "0", "0"),
		leg(pricing.Sell, "1", "50"),
	}
	got := SymbolContribution(legs)
	want := money.MustParse("50")
	if !got.Equal(want) {
		t.Fatalf("SymbolContribution = %s, want %s", got, want)
	}
}

func TestTotalUserMargin_SumsAcrossSymbols(t *testing.T) {
	bySymbol := map[string][]PositionLeg{
		"EURUSD": {leg(pricing.Buy, "1", "100")},
		"GBPUSD": {leg(pricing.Sell, "2", "60")},
	}
	got := TotalUserMargin(bySymbol)
	// EURUSD: single BUY leg, contribution = 100.
	// GBPUSD: single SELL leg of qty 2, per_lot = 60/2 = 30, contribution = 30*2 = 60.
	want := money.MustParse("160")
	if !got.Equal(want) {
		t.Fatalf("TotalUserMargin = %s, want %s", got, want)
	}
}

func TestFreeMargin(t *testing.T) {
	got := FreeMargin(money.MustParse("1000"), money.MustParse("-50"), money.MustParse("200"))
	want := money.MustParse("750")
	if !got.Equal(want) {
		t.Fatalf("FreeMargin = %s, want %s", got, want)
	}
}

func TestAdmitOrder_AllowsWhenFreeMarginStaysNonNegative(t *testing.T) {
	ok, after := AdmitOrder(money.MustParse("1000"), money.Zero, money.MustParse("200"), money.MustParse("300"))
	if !ok {
		t.Fatalf("expected admission, got rejected with free margin %s", after)
	}
	if !after.Equal(money.MustParse("500")) {
		t.Fatalf("free margin after = %s, want 500", after)
	}
}

func TestAdmitOrder_RejectsWhenFreeMarginWouldGoNegative(t *testing.T) {
	ok, after := AdmitOrder(money.MustParse("100"), money.Zero, money.MustParse("50"), money.MustParse("80"))
	if ok {
		t.Fatalf("expected rejection, got admitted with free margin %s", after)
	}
	if !after.IsNegative() {
		t.Fatalf("expected negative free margin, got %s", after)
	}
}
