package portfolio

import (
	"testing"

	"trading-core/internal/money"
	"trading-core/internal/order"
)

func legWithPnL(orderID string, pnl string, hasLive bool) leg {
	return leg{order: order.Order{OrderID: orderID}, pnlUSD: money.MustParse(pnl), hasLivePnL: hasLive}
}

func TestLargestLoser_PicksMostNegative(t *testing.T) {
	legs := []leg{
		legWithPnL("A", "-10", true),
		legWithPnL("B", "-50", true),
		legWithPnL("C", "5", true),
	}
	got, ok := largestLoser(legs)
	if !ok || got.order.OrderID != "B" {
		t.Fatalf("largestLoser = %+v, ok=%v, want B", got, ok)
	}
}

func TestLargestLoser_IgnoresNonNegativePnL(t *testing.T) {
	legs := []leg{
		legWithPnL("A", "0", true),
		legWithPnL("B", "10", true),
	}
	_, ok := largestLoser(legs)
	if ok {
		t.Fatalf("expected no candidate when every leg is flat or profitable")
	}
}

func TestLargestLoser_IgnoresLegsWithoutLivePnL(t *testing.T) {
	legs := []leg{
		legWithPnL("A", "-100", false),
		legWithPnL("B", "-5", true),
	}
	got, ok := largestLoser(legs)
	if !ok || got.order.OrderID != "B" {
		t.Fatalf("largestLoser = %+v, ok=%v, want B (A lacks live P&L)", got, ok)
	}
}

func TestLargestLoser_EmptyInput(t *testing.T) {
	_, ok := largestLoser(nil)
	if ok {
		t.Fatalf("expected no candidate from an empty leg set")
	}
}
