package workers

import "testing"

func TestParseInbound_ProviderReport(t *testing.T) {
	body := []byte(`{"order_id":"123","exec_id":"e1","ord_status":"FILLED","avg_px":"1.0801","cum_qty":"2","ts_ms":1000}`)
	m, err := parseInbound(body)
	if err != nil {
		t.Fatalf("parseInbound error = %v", err)
	}
	if m.OrderID != "123" || m.AvgPx != "1.0801" {
		t.Fatalf("unexpected parse: %+v", m)
	}
	if !m.fromProvider() {
		t.Fatalf("expected fromProvider() true for a message carrying avg_px")
	}
}

func TestParseInbound_TriggerIntent(t *testing.T) {
	body := []byte(`{"order_id":"456","symbol":"EURUSD","side":"BUY","trigger_kind":"STOPLOSS_HIT","ts":2000}`)
	m, err := parseInbound(body)
	if err != nil {
		t.Fatalf("parseInbound error = %v", err)
	}
	if m.OrderID != "456" || m.TriggerKind != "STOPLOSS_HIT" {
		t.Fatalf("unexpected parse: %+v", m)
	}
	if m.fromProvider() {
		t.Fatalf("expected fromProvider() false for a trigger-engine intent")
	}
}

func TestParseInbound_InvalidJSON(t *testing.T) {
	if _, err := parseInbound([]byte("not json")); err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}
