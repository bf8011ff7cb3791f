// Package reason centralizes the stable, machine-readable rejection codes
// returned across the execution path (spec.md §7). Keeping them in one
// place means every component references the same string literal instead
// of re-typing it at each call site.
package reason

const (
	InvalidOrderType       = "invalid_order_type"
	InvalidSpreadData      = "invalid_spread_data"
	MissingMarketPrice     = "missing_market_price"
	InvalidUserStatus      = "invalid_user_status"
	InvalidLeverage        = "invalid_leverage"
	MissingGroupConfig     = "missing_group_config"
	InsufficientMargin     = "insufficient_margin"
	IdempotencyInProgress  = "idempotency_in_progress"
	ConversionRateMissing  = "conversion_rate_missing"
	StateStoreUnavailable  = "state_store_unavailable"
	ProviderUnreachable    = "provider_unreachable"
	DuplicateExecReport    = "duplicate_exec_report"
	UnknownRoutingState    = "unknown_routing_state"
	CloseContextConflict   = "close_context_conflict"
)
