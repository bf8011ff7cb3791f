// Package workers implements C7, the lifecycle worker family: one worker
// per transition queue, each idempotent, each applying a provider (or
// trigger-engine-synthesized) report to Order/UserHoldings/SymbolHolders
// (spec.md §4.7). Each write is a separate state-store call issued in
// sequence; they are not pipelined and not atomic, so a failure part-way
// leaves the earlier writes in place and the delivery is retried.
package workers

import "encoding/json"

// inbound is the superset of the two message shapes that land on a
// lifecycle queue: a provider execution report (exec_id/ord_status/avg_px
// /cum_qty/ts_ms, normalized by C6) or a trigger-engine CloseIntent
// (symbol/side/trigger_kind/trigger_price/ts). The field names don't
// collide, so one struct parses either without a discriminator tag.
type inbound struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol,omitempty"`
	Side        string `json:"side,omitempty"`
	TriggerKind string `json:"trigger_kind,omitempty"`
	TriggerPx   string `json:"trigger_price,omitempty"`
	Ts          int64  `json:"ts,omitempty"`

	ExecID    string `json:"exec_id,omitempty"`
	OrdStatus string `json:"ord_status,omitempty"`
	AvgPx     string `json:"avg_px,omitempty"`
	CumQty    string `json:"cum_qty,omitempty"`
	TsMs      int64  `json:"ts_ms,omitempty"`
}

func parseInbound(body []byte) (inbound, error) {
	var m inbound
	err := json.Unmarshal(body, &m)
	return m, err
}

// fromProvider reports whether this message originated at the provider
// bridge (carries a fill price) rather than the trigger engine.
func (m inbound) fromProvider() bool { return m.AvgPx != "" }
