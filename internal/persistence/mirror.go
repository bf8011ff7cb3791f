package persistence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"trading-core/internal/queue"
	"trading-core/pkg/db"
)

const mirrorUpsertSQL = `
	INSERT INTO orders_mirror (
		order_id, user_type, user_id, symbol, side, quantity, entry_price,
		margin_usd, commission_entry, commission_exit, status, close_price,
		realized_pnl_usd, close_reason, created_ts, closed_ts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		quantity=excluded.quantity, entry_price=excluded.entry_price,
		margin_usd=excluded.margin_usd, commission_entry=excluded.commission_entry,
		commission_exit=excluded.commission_exit, status=excluded.status,
		close_price=excluded.close_price, realized_pnl_usd=excluded.realized_pnl_usd,
		close_reason=excluded.close_reason,
		closed_ts=excluded.closed_ts, mirrored_at=CURRENT_TIMESTAMP
`

// Mirror consumes order_db_update_queue and batches each post-image into
// the local SQLite ops/debug mirror via BatchWriter (this package's own
// batching primitive, adapted here from generic WriteOp entries to the
// orders_mirror upsert). It never acts as the system of record — the
// external persistence service reached over the same queue owns that
// role; this exists purely so operators can query order state without a
// Redis client.
type Mirror struct {
	broker  *queue.Broker
	writer  *BatchWriter
	queries *db.OrderMirrorQueries // used for reads (operator queries), not writes
}

// NewMirror builds a Mirror over an already-dialed broker and database.
func NewMirror(broker *queue.Broker, database *db.Database, batchSize int, flushInterval time.Duration) *Mirror {
	return &Mirror{
		broker:  broker,
		writer:  NewBatchWriter(database.DB, batchSize, flushInterval),
		queries: database.Queries(),
	}
}

// Close flushes any pending batch and stops the background flusher.
func (m *Mirror) Close() error {
	return m.writer.Close()
}

// Run consumes order_db_update_queue until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context, prefetch int) error {
	deliveries, err := m.broker.Consume(queue.OrderDBUpdateQueue, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			m.handle(ctx, d)
		}
	}
}

func (m *Mirror) handle(ctx context.Context, d amqp.Delivery) {
	var msg orderUpdateMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Printf("persistence: malformed mirror message, dropping: %v", err)
		d.Ack(false)
		return
	}

	// Queued for the next batch flush rather than written synchronously:
	// this mirror is a best-effort operator convenience, not the durable
	// record (spec.md's persistence service, reached over the same
	// order_db_update_queue, owns that). Acking here rather than after
	// flush avoids holding the delivery hostage to SQLite's write cadence.
	m.writer.WriteQuery(mirrorUpsertSQL,
		msg.OrderID, msg.UserType, msg.UserID, msg.Symbol, msg.Side, msg.Quantity,
		msg.EntryPrice, msg.MarginUSD, msg.CommissionEntry, msg.CommissionExit,
		msg.Status, msg.ClosePrice, msg.RealizedPnLUSD, msg.CloseReason, msg.CreatedTS, msg.ClosedTS,
	)
	d.Ack(false)
}
