package instrument

import (
	"context"
	"testing"
	"time"

	"trading-core/pkg/cache"
)

// newTestStore builds a Store around a real read-through cache but a nil
// state store — safe as long as a test only exercises cache hits, since a
// miss would call s.fetch and dereference the nil state.
func newTestStore(ttl time.Duration) *Store {
	return &Store{cache: cache.NewShardedCache[GroupConfig](ttl)}
}

func TestStore_CacheHitSkipsStateStore(t *testing.T) {
	s := newTestStore(time.Minute)
	s.cache.Set(cacheKey("standard", "EURUSD"), GroupConfig{Group: "standard", Symbol: "EURUSD"})

	got, err := s.Get(context.Background(), "standard", "EURUSD")
	if err != nil {
		t.Fatalf("Get() error = %v, want a cache hit with no state-store call", err)
	}
	if got.Symbol != "EURUSD" {
		t.Fatalf("Get() = %+v, want Symbol EURUSD", got)
	}
}

func TestStore_CacheExpiresAfterTTL(t *testing.T) {
	s := newTestStore(time.Millisecond)
	s.cache.Set(cacheKey("standard", "EURUSD"), GroupConfig{Group: "standard", Symbol: "EURUSD"})
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.cache.Get(cacheKey("standard", "EURUSD")); ok {
		t.Fatalf("expected the cached entry to have expired")
	}
}

func TestStore_Invalidate(t *testing.T) {
	s := newTestStore(time.Minute)
	s.cache.Set(cacheKey("standard", "EURUSD"), GroupConfig{Group: "standard", Symbol: "EURUSD"})

	s.Invalidate("standard", "EURUSD")

	if _, ok := s.cache.Get(cacheKey("standard", "EURUSD")); ok {
		t.Fatalf("expected Invalidate to drop the cached entry")
	}
}

func TestStore_DifferentGroupsDontCollide(t *testing.T) {
	s := newTestStore(time.Minute)
	s.cache.Set(cacheKey("standard", "EURUSD"), GroupConfig{Group: "standard", Symbol: "EURUSD"})
	s.cache.Set(cacheKey("vip", "EURUSD"), GroupConfig{Group: "vip", Symbol: "EURUSD"})

	std, _ := s.cache.Get(cacheKey("standard", "EURUSD"))
	vip, _ := s.cache.Get(cacheKey("vip", "EURUSD"))
	if std.Group == vip.Group {
		t.Fatalf("expected distinct cache entries per group, got %+v and %+v", std, vip)
	}
}

func TestGroupConfig_IsCrypto(t *testing.T) {
	cases := []struct {
		instrumentType int
		want           bool
	}{
		{1, false}, // forex
		{2, false}, // metal
		{3, false}, // index
		{4, true},  // crypto
	}
	for _, c := range cases {
		cfg := GroupConfig{InstrumentType: c.instrumentType}
		if got := cfg.IsCrypto(); got != c.want {
			t.Errorf("GroupConfig{InstrumentType: %d}.IsCrypto() = %v, want %v", c.instrumentType, got, c.want)
		}
	}
}
