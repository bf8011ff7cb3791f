package db

import (
	"context"
	"testing"
)

func TestOrderMirrorQueriesRequireUserID(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer database.Close()

	q := database.Queries()
	ctx := context.Background()

	if _, err := q.GetByUser(ctx, "live", "", 100); err != ErrUserIDRequired {
		t.Errorf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestOrderMirrorQueriesUpsertAndIsolation(t *testing.T) {
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer database.Close()

	q := database.Queries()
	ctx := context.Background()

	orderA := OrderMirror{
		OrderID: "1000000000000001", UserType: "live", UserID: "user-a",
		Symbol: "EURUSD", Side: "BUY", Quantity: "1", EntryPrice: "1.20001",
		MarginUSD: "12.00", CommissionEntry: "0", CommissionExit: "0",
		Status: "OPEN", CreatedTS: 1000,
	}
	orderB := OrderMirror{
		OrderID: "1000000000000002", UserType: "live", UserID: "user-b",
		Symbol: "GBPUSD", Side: "SELL", Quantity: "2", EntryPrice: "1.30001",
		MarginUSD: "20.00", CommissionEntry: "0", CommissionExit: "0",
		Status: "OPEN", CreatedTS: 1001,
	}

	if err := q.Upsert(ctx, orderA); err != nil {
		t.Fatalf("upsert order A: %v", err)
	}
	if err := q.Upsert(ctx, orderB); err != nil {
		t.Fatalf("upsert order B: %v", err)
	}

	t.Run("user A sees only their order", func(t *testing.T) {
		orders, err := q.GetByUser(ctx, "live", "user-a", 100)
		if err != nil {
			t.Fatalf("get by user: %v", err)
		}
		if len(orders) != 1 || orders[0].OrderID != orderA.OrderID {
			t.Fatalf("expected exactly order A, got %+v", orders)
		}
	})

	t.Run("re-upsert on close transitions status in place", func(t *testing.T) {
		orderA.Status = "CLOSED"
		orderA.ClosePrice = "1.20500"
		orderA.CloseReason = "USER_CLOSED"
		orderA.ClosedTS = 2000
		if err := q.Upsert(ctx, orderA); err != nil {
			t.Fatalf("re-upsert order A: %v", err)
		}
		orders, err := q.GetByUser(ctx, "live", "user-a", 100)
		if err != nil {
			t.Fatalf("get by user: %v", err)
		}
		if len(orders) != 1 || orders[0].Status != "CLOSED" {
			t.Fatalf("expected single CLOSED mirror row, got %+v", orders)
		}
	})

	t.Run("unknown user sees nothing", func(t *testing.T) {
		orders, err := q.GetByUser(ctx, "live", "user-unknown", 100)
		if err != nil {
			t.Fatalf("get by user: %v", err)
		}
		if len(orders) != 0 {
			t.Errorf("expected 0 orders, got %d", len(orders))
		}
	})
}
