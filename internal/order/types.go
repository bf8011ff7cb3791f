// Package order implements C5, the Order Executor: order_data, the only
// place orders are born (spec.md §3 Order, §4.5).
package order

import "trading-core/internal/money"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status enumerates the Order lifecycle states (spec.md §3 Order).
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusOpen      Status = "OPEN"
	StatusPending   Status = "PENDING"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// IsTerminal reports whether s is one of the states Order transitions only
// into, never out of.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusRejected
}

// RedisStatus is the provider-dispatch sub-state (spec.md §4.6) tracked
// alongside the client-facing Status. It carries two transient values
// Status has no room for: CLOSING (a close request is in flight at the
// provider) and SL_PENDING/TP_PENDING (a stop-loss/take-profit cancel
// request is in flight). It otherwise mirrors Status.
type RedisStatus string

const (
	RedisStatusQueued     RedisStatus = "QUEUED"
	RedisStatusOpen       RedisStatus = "OPEN"
	RedisStatusPending    RedisStatus = "PENDING"
	RedisStatusClosing    RedisStatus = "CLOSING"
	RedisStatusSLPending  RedisStatus = "SL_PENDING"
	RedisStatusTPPending  RedisStatus = "TP_PENDING"
	RedisStatusClosed     RedisStatus = "CLOSED"
	RedisStatusCancelled  RedisStatus = "CANCELLED"
	RedisStatusRejected   RedisStatus = "REJECTED"
)

// CloseReason enumerates why an order was closed.
type CloseReason string

const (
	CloseReasonUserClosed    CloseReason = "USER_CLOSED"
	CloseReasonAdminClosed   CloseReason = "ADMIN_CLOSED"
	CloseReasonAutocutoff    CloseReason = "AUTOCUTOFF"
	CloseReasonStopLossHit   CloseReason = "STOPLOSS_HIT"
	CloseReasonTakeProfitHit CloseReason = "TAKEPROFIT_HIT"
)

// Order is the canonical record stored at order_data:{ut:uid}:ORDID.
type Order struct {
	OrderID         string      `json:"order_id"`
	UserType        string      `json:"user_type"`
	UserID          string      `json:"user_id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	Quantity        money.D     `json:"quantity"`
	EntryPrice      money.D     `json:"entry_price"`
	MarginUSD       money.D     `json:"margin_usd"`
	CommissionEntry money.D     `json:"commission_entry"`
	CommissionExit  money.D     `json:"commission_exit"`
	StopLoss        money.D     `json:"stop_loss"`
	HasStopLoss     bool        `json:"-"`
	TakeProfit      money.D     `json:"take_profit"`
	HasTakeProfit   bool        `json:"-"`
	Status          Status      `json:"status"`
	RedisStatus     RedisStatus `json:"redis_status"`
	ClosePrice      money.D     `json:"close_price"`
	RealizedPnLUSD  money.D     `json:"realized_pnl_usd"`
	CloseReason     CloseReason `json:"close_reason"`
	CreatedTS       int64       `json:"created_ts"`
	ClosedTS        int64       `json:"closed_ts"`
	FinalizedTS     int64       `json:"finalized_ts"`
}

// ToFields flattens the Order into the string-valued hash fields stored in
// the state store.
func (o Order) ToFields() map[string]string {
	f := map[string]string{
		"order_id":         o.OrderID,
		"user_type":        o.UserType,
		"user_id":          o.UserID,
		"symbol":           o.Symbol,
		"side":             string(o.Side),
		"quantity":         o.Quantity.String(),
		"entry_price":      o.EntryPrice.String(),
		"margin_usd":       o.MarginUSD.String(),
		"commission_entry": o.CommissionEntry.String(),
		"commission_exit":  o.CommissionExit.String(),
		"status":           string(o.Status),
		"redis_status":     string(o.RedisStatus),
		"close_price":      o.ClosePrice.String(),
		"realized_pnl_usd": o.RealizedPnLUSD.String(),
		"close_reason":     string(o.CloseReason),
	}
	if o.HasStopLoss {
		f["stop_loss"] = o.StopLoss.String()
	}
	if o.HasTakeProfit {
		f["take_profit"] = o.TakeProfit.String()
	}
	if o.CreatedTS != 0 {
		f["created_ts"] = itoa(o.CreatedTS)
	}
	if o.ClosedTS != 0 {
		f["closed_ts"] = itoa(o.ClosedTS)
	}
	if o.FinalizedTS != 0 {
		f["finalized_ts"] = itoa(o.FinalizedTS)
	}
	return f
}

// FromFields reconstructs an Order from state-store hash fields.
func FromFields(orderID string, f map[string]string) Order {
	o := Order{OrderID: orderID}
	o.UserType = f["user_type"]
	o.UserID = f["user_id"]
	o.Symbol = f["symbol"]
	o.Side = Side(f["side"])
	o.Status = Status(f["status"])
	o.RedisStatus = RedisStatus(f["redis_status"])
	o.CloseReason = CloseReason(f["close_reason"])
	o.Quantity = parseOrZero(f["quantity"])
	o.EntryPrice = parseOrZero(f["entry_price"])
	o.MarginUSD = parseOrZero(f["margin_usd"])
	o.CommissionEntry = parseOrZero(f["commission_entry"])
	o.CommissionExit = parseOrZero(f["commission_exit"])
	o.ClosePrice = parseOrZero(f["close_price"])
	o.RealizedPnLUSD = parseOrZero(f["realized_pnl_usd"])
	if v, ok := f["stop_loss"]; ok && v != "" {
		o.StopLoss, o.HasStopLoss = parseOrZero(v), true
	}
	if v, ok := f["take_profit"]; ok && v != "" {
		o.TakeProfit, o.HasTakeProfit = parseOrZero(v), true
	}
	o.CreatedTS = atoiOrZero(f["created_ts"])
	o.ClosedTS = atoiOrZero(f["closed_ts"])
	o.FinalizedTS = atoiOrZero(f["finalized_ts"])
	return o
}

func parseOrZero(s string) money.D {
	d, err := money.Parse(s)
	if err != nil {
		return money.Zero
	}
	return d
}
