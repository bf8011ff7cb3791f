// Package idgen produces the order and close identifiers described in
// spec.md §6. Order IDs are a monotonic, worker-partitioned numeric ID;
// close/cancel IDs are human-scannable daily sequences.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

// customEpoch anchors the 41-bit millisecond field so it doesn't roll over
// for ~69 years from this date, the same trick every Snowflake-style
// generator in the ecosystem uses.
var customEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// OrderIDGenerator produces 16-digit numeric order IDs.
//
// spec.md §6 describes the ID as "48-bit ms timestamp + 16-bit worker id +
// 16-bit intra-ms sequence" but also calls it a "16-digit numeric" value.
// Those two constraints can't both hold literally: 48+16+16 = 80 bits is
// far larger than the ~53 bits a 16-digit decimal can represent exactly.
// This generator keeps the spec's field order and monotonicity guarantee
// and packs them into a 63-bit int64 (41-bit ms-since-customEpoch, 8-bit
// worker id, 14-bit intra-ms sequence) formatted as a zero-padded 16-digit
// decimal string — see DESIGN.md for the reconciliation.
type OrderIDGenerator struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	seq      int64
}

const (
	seqBits    = 14
	workerBits = 8
	maxSeq     = (1 << seqBits) - 1
	maxWorker  = (1 << workerBits) - 1
)

// NewOrderIDGenerator builds a generator for the given worker partition.
func NewOrderIDGenerator(workerID int) *OrderIDGenerator {
	if workerID < 0 {
		workerID = 0
	}
	if workerID > maxWorker {
		workerID = workerID % (maxWorker + 1)
	}
	return &OrderIDGenerator{workerID: int64(workerID)}
}

// Next returns the next monotonic order ID for this worker, formatted as a
// zero-padded 16-digit decimal string.
func (g *OrderIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := time.Since(customEpoch).Milliseconds()
	if ms == g.lastMs {
		g.seq++
		if g.seq > maxSeq {
			// Sequence exhausted within this millisecond: busy-wait for the
			// clock to tick rather than reuse a sequence number (see
			// original_source id_generator.py).
			for ms <= g.lastMs {
				ms = time.Since(customEpoch).Milliseconds()
			}
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	packed := (ms << (workerBits + seqBits)) | (g.workerID << seqBits) | g.seq
	return fmt.Sprintf("%016d", packed%10_000_000_000_000_000)
}

// CloseIDKind selects the prefix for a close/cancel ID.
type CloseIDKind string

const (
	CloseIDClose         CloseIDKind = "CLS"
	CloseIDStopLossCncl  CloseIDKind = "SLC"
	CloseIDTakeProfitCnl CloseIDKind = "TPC"
)

// CloseIDGenerator produces daily-sequenced close/cancel IDs:
// PREFIX + yyyymmdd + zero-padded daily sequence.
type CloseIDGenerator struct {
	mu      sync.Mutex
	day     string
	seqByID map[CloseIDKind]int
}

// NewCloseIDGenerator builds a close-ID generator.
func NewCloseIDGenerator() *CloseIDGenerator {
	return &CloseIDGenerator{seqByID: make(map[CloseIDKind]int)}
}

// Next returns the next ID for the given kind, resetting the daily counter
// at UTC midnight.
func (g *CloseIDGenerator) Next(kind CloseIDKind) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().UTC().Format("20060102")
	if today != g.day {
		g.day = today
		g.seqByID = make(map[CloseIDKind]int)
	}
	g.seqByID[kind]++
	return fmt.Sprintf("%s%s%06d", kind, g.day, g.seqByID[kind])
}
