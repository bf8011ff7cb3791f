package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	// EventSymbolMoved fires whenever market.Cache persists a new tick,
	// fanning out to the trigger engine (C8) and portfolio recalculator (C9).
	EventSymbolMoved Event = "symbol_moved"
	// EventRiskAlert fires when portfolio.checkAutocutoff force-liquidates
	// a position, for internal/monitor to relay.
	EventRiskAlert Event = "risk_alert"
)
