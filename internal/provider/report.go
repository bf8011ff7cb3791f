// Package provider implements C6, the Provider Bridge: a listener on the
// external liquidity provider's socket that normalizes raw execution
// reports onto confirmation_queue, and a dispatcher that routes each
// report to the correct lifecycle queue by (redis_status, ord_status)
// (spec.md §4.6).
package provider

// ExecutionReport is the normalized shape every raw provider frame is
// converted into before it's published as JSON (spec.md §4.6 "Normalized
// into {order_id, exec_id, ord_status, avg_px, cum_qty, ts_ms, raw:{...}}").
type ExecutionReport struct {
	OrderID   string                 `json:"order_id"`
	ExecID    string                 `json:"exec_id"`
	OrdStatus string                 `json:"ord_status"`
	AvgPx     string                 `json:"avg_px"`
	CumQty    string                 `json:"cum_qty"`
	TsMs      int64                  `json:"ts_ms"`
	Raw       map[string]interface{} `json:"raw"`
}

// fromTags builds an ExecutionReport out of the provider's FIX-like tag
// map (spec.md §6 "Required tags: 11 ClOrdID, 17 ExecID, 39 OrdStatus, 6
// AvgPx, 14 CumQty"). Both the numeric FIX tag and a readable alias are
// accepted per field, since providers vary in which they send; unknown or
// missing tags are left at their zero value rather than erroring, since a
// partial report is still worth normalizing and routing.
func fromTags(tags map[string]interface{}) ExecutionReport {
	return ExecutionReport{
		OrderID:   stringTag(tags, "11", "clOrdID", "order_id"),
		ExecID:    stringTag(tags, "17", "execID", "exec_id"),
		OrdStatus: normalizeOrdStatus(stringTag(tags, "39", "ordStatus", "ord_status")),
		AvgPx:     stringTag(tags, "6", "avgPx", "avg_px"),
		CumQty:    stringTag(tags, "14", "cumQty", "cum_qty"),
		TsMs:      int64Tag(tags, "60", "transactTime", "ts_ms"),
		Raw:       tags,
	}
}

// normalizeOrdStatus maps a raw FIX tag-39 OrdStatus code (or an
// already-readable provider string) onto the three values the dispatcher's
// routing table understands (spec.md §4.6).
func normalizeOrdStatus(raw string) string {
	switch raw {
	case "2", "EXECUTED", "FILLED":
		return "EXECUTED"
	case "4", "CANCELLED", "CANCELED":
		return "CANCELLED"
	case "8", "REJECTED":
		return "REJECTED"
	default:
		return raw
	}
}

func stringTag(tags map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := tags[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func int64Tag(tags map[string]interface{}, keys ...string) int64 {
	for _, k := range keys {
		v, ok := tags[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case uint64:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return 0
}
