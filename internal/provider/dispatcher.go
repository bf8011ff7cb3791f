package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"trading-core/internal/order"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// providerIdemTTL is the dedup window for a replayed execution report
// (spec.md §4.6 "provider_idem:{idem} with SET NX EX 7d").
const providerIdemTTL = 7 * 24 * time.Hour

const defaultPrefetch = 20

// Dispatcher consumes confirmation_queue and routes each normalized report
// to the lifecycle queue the (redis_status, ord_status) pair names (spec.md
// §4.6 state-transition table).
type Dispatcher struct {
	state  *statestore.Store
	broker *queue.Broker
}

// NewDispatcher builds a Dispatcher over an already-connected state store
// and queue broker.
func NewDispatcher(state *statestore.Store, broker *queue.Broker) *Dispatcher {
	return &Dispatcher{state: state, broker: broker}
}

// Run consumes confirmation_queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, prefetch int) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	deliveries, err := d.broker.Consume(queue.ConfirmationQueue, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			d.process(ctx, delivery)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, delivery amqp.Delivery) {
	var report ExecutionReport
	if err := json.Unmarshal(delivery.Body, &report); err != nil {
		log.Printf("provider dispatcher: malformed report, dropping: %v", err)
		delivery.Ack(false)
		return
	}

	if err := d.handle(ctx, report, delivery.Body); err != nil {
		log.Printf("provider dispatcher: order=%s %v", report.OrderID, err)
		if pubErr := d.broker.PublishDLQ(ctx, err.Error(), delivery.Body); pubErr != nil {
			log.Printf("provider dispatcher: dlq publish failed for order=%s: %v", report.OrderID, pubErr)
		}
	}
	delivery.Ack(false)
}

func (d *Dispatcher) handle(ctx context.Context, report ExecutionReport, rawBody []byte) error {
	if report.ExecID != "" {
		fresh, err := d.state.SetNX(ctx, statestore.ProviderIdemKey(report.ExecID), "1", providerIdemTTL)
		if err != nil {
			return fmt.Errorf("provider idempotency check: %w", err)
		}
		if !fresh {
			return nil // replayed report, already applied
		}
	}

	owner, err := d.state.Get(ctx, statestore.OrderOwnerKey(report.OrderID))
	if err != nil {
		return fmt.Errorf("resolve owner for %s: %w", report.OrderID, err)
	}
	parts := strings.SplitN(owner, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed owner index value %q for order %s", owner, report.OrderID)
	}
	userType, userID := parts[0], parts[1]

	fields, err := d.state.HGetAll(ctx, statestore.OrderKey(userType, userID, report.OrderID))
	if err != nil {
		return fmt.Errorf("load order %s: %w", report.OrderID, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("order %s not found", report.OrderID)
	}
	redisStatus := order.RedisStatus(fields["redis_status"])

	destination, ok := route(redisStatus, report.OrdStatus)
	if !ok {
		return fmt.Errorf("unrecognised (redis_status=%s, ord_status=%s) for order %s", redisStatus, report.OrdStatus, report.OrderID)
	}

	return d.broker.Publish(ctx, destination, rawBody)
}

// route implements spec.md §4.6's state-transition table extract.
func route(redisStatus order.RedisStatus, ordStatus string) (string, bool) {
	switch {
	case redisStatus == order.RedisStatusQueued && ordStatus == "EXECUTED":
		return queue.OpenQueue, true
	case redisStatus == order.RedisStatusQueued && ordStatus == "REJECTED":
		return queue.RejectQueue, true
	case redisStatus == order.RedisStatusOpen && ordStatus == "EXECUTED":
		return queue.CloseQueue, true
	case redisStatus == order.RedisStatusClosing && ordStatus == "EXECUTED":
		return queue.CloseQueue, true
	case redisStatus == order.RedisStatusSLPending && ordStatus == "CANCELLED":
		return queue.StopLossCancelQueue, true
	case redisStatus == order.RedisStatusTPPending && ordStatus == "CANCELLED":
		return queue.TakeProfitCancelQueue, true
	case redisStatus == order.RedisStatusPending && ordStatus == "EXECUTED":
		return queue.OpenQueue, true
	default:
		return "", false
	}
}
