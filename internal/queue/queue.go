// Package queue wraps the durable AMQP surface described in spec.md §6:
// confirmation_queue, the per-transition lifecycle queues, the persistence
// sink, and the catch-all dead-letter queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Well-known queue names (spec.md §6 Queues).
const (
	ConfirmationQueue     = "confirmation_queue"
	OpenQueue             = "open_queue"
	CloseQueue            = "close_queue"
	CancelQueue           = "cancel_queue"
	StopLossCancelQueue   = "stoploss_cancel_queue"
	TakeProfitCancelQueue = "takeprofit_cancel_queue"
	RejectQueue           = "reject_queue"
	OrderDBUpdateQueue    = "order_db_update_queue"
	DeadLetterQueue       = "dlq"
)

// allQueues lists every durable queue this service declares on connect.
var allQueues = []string{
	ConfirmationQueue, OpenQueue, CloseQueue, CancelQueue,
	StopLossCancelQueue, TakeProfitCancelQueue, RejectQueue,
	OrderDBUpdateQueue, DeadLetterQueue,
}

// Broker owns the AMQP connection/channel pair and publishes/consumes on
// the durable queue set.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker, opens a channel, and declares every durable
// queue used by the system.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}

	b := &Broker{conn: conn, ch: ch}
	for _, name := range allQueues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			b.Close()
			return nil, fmt.Errorf("queue: declare %s: %w", name, err)
		}
	}
	return b, nil
}

// Close tears down the channel and connection.
func (b *Broker) Close() {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish sends a persistent-delivery message to the named queue (spec.md
// §4.6 "publish is durable with persistent delivery mode").
func (b *Broker) Publish(ctx context.Context, queueName string, body []byte) error {
	return b.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume opens a manual-ack delivery channel on queueName with the given
// prefetch count (spec.md §5 "prefetch tuned per worker").
func (b *Broker) Consume(queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := b.ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("queue: set qos for %s: %w", queueName, err)
		}
	}
	deliveries, err := b.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: consume %s: %w", queueName, err)
	}
	return deliveries, nil
}

// Republish re-queues body onto queueName with explicit headers — used by
// lifecycle workers to carry an incremented retry counter forward, since
// an AMQP basic.nack requeue can't rewrite the delivery's own headers
// (spec.md §4.7 "nack with requeue, bounded retry count in the header").
func (b *Broker) Republish(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	return b.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
}

// PublishDLQ is a convenience wrapper for routing an unrecognised or
// retry-exhausted message to the dead-letter queue.
func (b *Broker) PublishDLQ(ctx context.Context, reason string, originalBody []byte) error {
	envelope := map[string]any{"reason": reason, "body": string(originalBody)}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("queue: marshal dlq envelope: %w", err)
	}
	return b.Publish(ctx, DeadLetterQueue, data)
}
