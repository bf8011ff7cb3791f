package cache

import (
	"testing"
	"time"
)

func TestShardedCache_SetThenGetHits(t *testing.T) {
	c := NewShardedCache[float64](time.Minute)
	c.Set("EURUSD", 1.0802)

	got, ok := c.Get("EURUSD")
	if !ok || got != 1.0802 {
		t.Fatalf("Get() = %v, %v, want 1.0802, true", got, ok)
	}
}

func TestShardedCache_MissForUnknownKey(t *testing.T) {
	c := NewShardedCache[float64](time.Minute)
	if _, ok := c.Get("GBPUSD"); ok {
		t.Fatalf("expected a miss for a key never set")
	}
}

func TestShardedCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewShardedCache[string](0)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("a zero ttl should mean entries never expire")
	}
}

func TestShardedCache_ExpiresAfterTTL(t *testing.T) {
	c := NewShardedCache[string](time.Millisecond)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to have expired after its TTL")
	}
}

func TestShardedCache_DeleteRemovesEntry(t *testing.T) {
	c := NewShardedCache[int](time.Minute)
	c.Set("k", 42)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected Delete to remove the entry")
	}
}

func TestShardedCache_LenAndGetAll(t *testing.T) {
	c := NewShardedCache[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	if got := c.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	all := c.GetAll()
	if all["a"] != 1 || all["b"] != 2 {
		t.Fatalf("GetAll() = %v", all)
	}
}

func TestShardedCache_CleanupRemovesOnlyOldEntries(t *testing.T) {
	c := NewShardedCache[int](0)
	c.Set("old", 1)
	time.Sleep(10 * time.Millisecond)
	c.Set("fresh", 2)

	removed := c.Cleanup(5 * time.Millisecond)
	if removed != 1 {
		t.Fatalf("Cleanup removed %d entries, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("expected the fresh entry to survive cleanup")
	}
}

func TestShardedCache_CleanupInvalidRemovesUnknownKeys(t *testing.T) {
	c := NewShardedCache[int](0)
	c.Set("EURUSD", 1)
	c.Set("STALEUSD", 2)

	removed := c.CleanupInvalid([]string{"EURUSD"})
	if removed != 1 {
		t.Fatalf("CleanupInvalid removed %d entries, want 1", removed)
	}
	if _, ok := c.Get("STALEUSD"); ok {
		t.Fatalf("expected STALEUSD to be removed")
	}
	if _, ok := c.Get("EURUSD"); !ok {
		t.Fatalf("expected EURUSD to survive")
	}
}

func TestShardedCache_StatsReportsTotalAndOldestAge(t *testing.T) {
	c := NewShardedCache[int](0)
	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)

	stats := c.Stats()
	if stats.TotalItems != 1 {
		t.Fatalf("Stats().TotalItems = %d, want 1", stats.TotalItems)
	}
	if stats.OldestAge <= 0 {
		t.Fatalf("Stats().OldestAge = %v, want > 0", stats.OldestAge)
	}
}

func TestShardedCache_GenericOverStructValue(t *testing.T) {
	type point struct{ X, Y int }
	c := NewShardedCache[point](time.Minute)
	c.Set("k", point{X: 1, Y: 2})

	got, ok := c.Get("k")
	if !ok || got.X != 1 || got.Y != 2 {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
}
