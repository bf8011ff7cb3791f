package idgen

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestOrderIDGenerator_FormatAndMonotonic(t *testing.T) {
	g := NewOrderIDGenerator(3)
	prev := ""
	for i := 0; i < 50; i++ {
		id := g.Next()
		if len(id) != 16 {
			t.Fatalf("order id %q not 16 digits", id)
		}
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			t.Fatalf("order id %q not numeric: %v", id, err)
		}
		if prev != "" && id <= prev {
			t.Fatalf("order id not monotonic: %q <= %q", id, prev)
		}
		prev = id
	}
}

func TestOrderIDGenerator_WorkerIDWraps(t *testing.T) {
	g := NewOrderIDGenerator(maxWorker + 5)
	if g.workerID > maxWorker {
		t.Fatalf("workerID %d exceeds maxWorker %d after wrap", g.workerID, maxWorker)
	}
}

func TestOrderIDGenerator_ConcurrentUniqueness(t *testing.T) {
	g := NewOrderIDGenerator(1)
	const n = 200
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = g.Next()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate order id generated: %q", id)
		}
		seen[id] = true
	}
}

func TestCloseIDGenerator_PrefixAndDailySequence(t *testing.T) {
	g := NewCloseIDGenerator()
	first := g.Next(CloseIDClose)
	second := g.Next(CloseIDClose)

	if !strings.HasPrefix(first, string(CloseIDClose)) {
		t.Fatalf("expected %q to start with %q", first, CloseIDClose)
	}
	if first == second {
		t.Fatalf("expected sequential IDs to differ: %q == %q", first, second)
	}
	if !strings.HasSuffix(first, "000001") || !strings.HasSuffix(second, "000002") {
		t.Fatalf("expected daily sequence to increment, got %q then %q", first, second)
	}
}

func TestCloseIDGenerator_SeparateSequencePerKind(t *testing.T) {
	g := NewCloseIDGenerator()
	g.Next(CloseIDClose)
	slc := g.Next(CloseIDStopLossCncl)
	if !strings.HasSuffix(slc, "000001") {
		t.Fatalf("expected a fresh kind to start its own sequence at 1, got %q", slc)
	}
}
