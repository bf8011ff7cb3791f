package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"trading-core/internal/queue"
)

// backoff mirrors the teacher's websocket ReconnectConfig/calculateBackoff
// shape (pkg/market/binance/websocket.go), reused here for the provider
// socket instead of a Binance stream (spec.md §4.6 "reconnect with
// exponential backoff capped at 30s").
type backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func defaultBackoff() backoff {
	return backoff{initialDelay: time.Second, maxDelay: 30 * time.Second, multiplier: 2.0}
}

func (b backoff) delay(attempt int) time.Duration {
	d := float64(b.initialDelay)
	for i := 0; i < attempt; i++ {
		d *= b.multiplier
	}
	if time.Duration(d) > b.maxDelay {
		return b.maxDelay
	}
	return time.Duration(d)
}

// Listener dials the provider's execution-report socket, reads
// length-prefixed msgpack frames, and republishes each as a normalized
// JSON ExecutionReport onto confirmation_queue.
type Listener struct {
	SocketPath string // UNIX socket path, tried first
	TCPAddr    string // TCP fallback, e.g. "127.0.0.1:9200"
	broker     *queue.Broker
	backoff    backoff
}

// NewListener builds a Listener over an already-dialed queue Broker.
func NewListener(broker *queue.Broker, socketPath, tcpAddr string) *Listener {
	return &Listener{SocketPath: socketPath, TCPAddr: tcpAddr, broker: broker, backoff: defaultBackoff()}
}

// Run dials and reads until ctx is cancelled, reconnecting with capped
// exponential backoff on every disconnect or dial failure.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := l.dial(ctx)
		if err != nil {
			log.Printf("provider: dial failed (attempt %d): %v", attempt+1, err)
			if !sleepOrDone(ctx, l.backoff.delay(attempt)) {
				return nil
			}
			attempt++
			continue
		}
		attempt = 0
		log.Printf("provider: connected")
		l.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if !sleepOrDone(ctx, l.backoff.delay(attempt)) {
			return nil
		}
		attempt++
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Listener) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	if l.SocketPath != "" {
		conn, err := d.DialContext(ctx, "unix", l.SocketPath)
		if err == nil {
			return conn, nil
		}
		if l.TCPAddr == "" {
			return nil, fmt.Errorf("provider: unix dial %s: %w", l.SocketPath, err)
		}
		log.Printf("provider: unix socket %s unavailable, falling back to tcp %s: %v", l.SocketPath, l.TCPAddr, err)
	}
	conn, err := d.DialContext(ctx, "tcp", l.TCPAddr)
	if err != nil {
		return nil, fmt.Errorf("provider: tcp dial %s: %w", l.TCPAddr, err)
	}
	return conn, nil
}

// readLoop consumes 4-byte big-endian length-prefixed msgpack frames until
// the connection errors or ctx is cancelled.
func (l *Listener) readLoop(ctx context.Context, conn net.Conn) {
	lenBuf := make([]byte, 4)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			if err != io.EOF {
				log.Printf("provider: read frame length: %v", err)
			}
			return
		}
		frameLen := binary.BigEndian.Uint32(lenBuf)
		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			log.Printf("provider: read frame payload: %v", err)
			return
		}
		if err := l.handleFrame(ctx, payload); err != nil {
			log.Printf("provider: handle frame: %v", err)
		}
	}
}

func (l *Listener) handleFrame(ctx context.Context, payload []byte) error {
	var tags map[string]interface{}
	if err := msgpack.Unmarshal(payload, &tags); err != nil {
		return fmt.Errorf("decode msgpack frame: %w", err)
	}
	report := fromTags(tags)
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal execution report: %w", err)
	}
	return l.broker.Publish(ctx, queue.ConfirmationQueue, body)
}
