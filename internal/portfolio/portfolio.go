// Package portfolio implements C9: the periodic margin recalculator and
// the autocutoff watcher it feeds (spec.md §4.9). Every symbol-moved event
// marks the symbol's current holders dirty; a ticker drains the dirty set,
// recomputes each user's total margin and free margin from scratch, and
// persists a snapshot the autocutoff watcher inspects on the same pass.
package portfolio

import (
	"time"

	"trading-core/internal/money"
)

// User-type values for the two account books spec.md §6 enumerates
// (user_type:live|demo). No shared constant existed elsewhere in the
// module for these; defined here since C9 is the first component that
// needs to iterate "every user type" rather than just carry one through.
const (
	UserTypeLive = "live"
	UserTypeDemo = "demo"
)

var userTypes = []string{UserTypeLive, UserTypeDemo}

// Config tunes flush cadence and the autocutoff threshold.
type Config struct {
	FlushInterval time.Duration
	// CutoffPct is a ratio, not a percentage (e.g. 0.20 means liquidate
	// once equity/used_margin drops under 20%), matching pkg/config's
	// AUTOCUTOFF_PCT default of 0.20.
	CutoffPct money.D
	WorkerID  string
}

// DefaultConfig returns the 150ms flush / 20% cutoff defaults pkg/config ships.
func DefaultConfig(workerID string) Config {
	return Config{
		FlushInterval: 150 * time.Millisecond,
		CutoffPct:     money.MustParse("0.20"),
		WorkerID:      workerID,
	}
}

// Snapshot is the per-user portfolio state persisted on every flush and
// inspected by the autocutoff watcher (spec.md §4.9 "persists a portfolio
// snapshot" — the key and shape are this component's own design, since the
// spec names the step without naming a key).
type Snapshot struct {
	UserType      string
	UserID        string
	Equity        money.D // wallet_balance + unrealized_pl
	UsedMarginUSD money.D
	FreeMarginUSD money.D
	// MarginLevel is equity/used_margin. Reported as zero when used_margin
	// is zero (no leveraged exposure, so no cutoff risk to express).
	MarginLevel money.D
}
