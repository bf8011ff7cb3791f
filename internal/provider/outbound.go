package provider

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/vmihailenco/msgpack/v5"

	"trading-core/internal/order"
)

// OutboundClient sends a new-order request to the external provider over
// the same length-prefixed msgpack-frame transport the Listener reads
// execution reports from (spec.md §4.5 step 5: "the HTTP layer dispatches
// this payload in a background task so the caller is not blocked on
// provider RTT"). spec.md §6 only specifies the inbound frame's tag
// vocabulary; the outbound frame mirrors it with the symmetric NewOrderSingle
// tags (11 ClOrdID, 55 Symbol, 54 Side, 38 OrderQty, 44 Price, 60
// TransactTime) rather than inventing an unrelated wire shape.
type OutboundClient struct {
	SocketPath string
	TCPAddr    string
}

// NewOutboundClient builds an OutboundClient. It opens one short-lived
// connection per call rather than holding a persistent one, since order
// dispatch is a low-frequency fire-and-forget relative to the inbound
// execution-report stream Listener maintains.
func NewOutboundClient(socketPath, tcpAddr string) *OutboundClient {
	return &OutboundClient{SocketPath: socketPath, TCPAddr: tcpAddr}
}

// sideCode maps an order side onto FIX tag-54 convention (1=Buy, 2=Sell).
func sideCode(side string) string {
	if side == string(order.SideSell) {
		return "2"
	}
	return "1"
}

// Send dials the provider socket and writes one length-prefixed msgpack
// frame describing p.
func (c *OutboundClient) Send(ctx context.Context, p order.ProviderPayload) error {
	var d net.Dialer
	conn, err := dialOutbound(ctx, d, c.SocketPath, c.TCPAddr)
	if err != nil {
		return fmt.Errorf("provider: outbound dial for order %s: %w", p.OrderID, err)
	}
	defer conn.Close()

	tags := map[string]interface{}{
		"11": p.OrderID,
		"55": p.Symbol,
		"54": sideCode(p.Side),
		"38": p.Qty.String(),
		"44": p.Price.String(),
		"60": p.Timestamp,
	}
	if p.IdemKey != "" {
		tags["idem_key"] = p.IdemKey
	}

	body, err := msgpack.Marshal(tags)
	if err != nil {
		return fmt.Errorf("provider: encode order %s: %w", p.OrderID, err)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
	if _, err := conn.Write(lenBuf); err != nil {
		return fmt.Errorf("provider: write frame length for %s: %w", p.OrderID, err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("provider: write frame payload for %s: %w", p.OrderID, err)
	}
	return nil
}

// dialOutbound duplicates Listener.dial's unix-then-tcp-fallback shape; it
// isn't shared because Listener's dial is a method bound to its own
// reconnect/backoff state, which a one-shot outbound send has no use for.
func dialOutbound(ctx context.Context, d net.Dialer, socketPath, tcpAddr string) (net.Conn, error) {
	if socketPath != "" {
		conn, err := d.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return conn, nil
		}
		if tcpAddr == "" {
			return nil, fmt.Errorf("unix dial %s: %w", socketPath, err)
		}
	}
	return d.DialContext(ctx, "tcp", tcpAddr)
}
