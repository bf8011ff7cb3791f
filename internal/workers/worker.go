package workers

import (
	"context"
	"fmt"
	"log"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"trading-core/internal/account"
	"trading-core/internal/instrument"
	"trading-core/internal/margin"
	"trading-core/internal/money"
	"trading-core/internal/order"
	"trading-core/internal/pricing"
	"trading-core/internal/queue"
	"trading-core/internal/statestore"
)

// maxRetries bounds the nack-requeue loop before a delivery is routed to
// the dead-letter queue (spec.md §4.7 step 7).
const maxRetries = 5

// Triggers is the narrow interface C7 needs from C8: arming SL/TP for a
// provider order confirmed OPEN (registration was deferred from QUEUED
// time, since the provider path doesn't know it'll fill until now), and
// disarming them on any terminal transition. Declared here rather than
// imported from internal/trigger to avoid an import cycle; internal/order
// already defines the Register half identically for C5's local path.
type Triggers interface {
	order.TriggerRegistrar
	Disarm(ctx context.Context, orderID, symbol string, side order.Side, hadSL, hadTP bool) error
	DisarmStopLoss(ctx context.Context, orderID, symbol string, side order.Side) error
	DisarmTakeProfit(ctx context.Context, orderID, symbol string, side order.Side) error
}

// deps is the dependency set every lifecycle worker shares.
type deps struct {
	state    *statestore.Store
	accounts *account.Store
	groups   *instrument.Store
	pricer   *pricing.Pricer
	margin   *margin.Engine
	triggers Triggers
	persist  order.Persister
	broker   *queue.Broker
}

// Set bundles the shared dependencies once so each worker constructor
// takes a single argument.
type Set struct {
	State    *statestore.Store
	Accounts *account.Store
	Groups   *instrument.Store
	Pricer   *pricing.Pricer
	Margin   *margin.Engine
	Triggers Triggers
	Persist  order.Persister
	Broker   *queue.Broker
}

func (s Set) deps() deps {
	return deps{
		state: s.State, accounts: s.Accounts, groups: s.Groups, pricer: s.Pricer,
		margin: s.Margin, triggers: s.Triggers, persist: s.Persist, broker: s.Broker,
	}
}

// runLoop consumes queueName until ctx is cancelled, calling handle for
// each delivery and applying the bounded-retry/dlq policy common to every
// lifecycle worker.
func runLoop(ctx context.Context, d deps, queueName string, prefetch int, handle func(context.Context, inbound) error) error {
	deliveries, err := d.broker.Consume(queueName, prefetch)
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
			process(ctx, d, queueName, delivery, handle)
		}
	}
}

func process(ctx context.Context, d deps, queueName string, delivery amqp.Delivery, handle func(context.Context, inbound) error) {
	msg, err := parseInbound(delivery.Body)
	if err != nil {
		log.Printf("workers[%s]: malformed message, dropping: %v", queueName, err)
		delivery.Ack(false)
		return
	}

	if err := handle(ctx, msg); err != nil {
		retries := queue.RetryCount(delivery)
		if retries >= maxRetries {
			log.Printf("workers[%s]: order=%s exhausted %d retries, routing to dlq: %v", queueName, msg.OrderID, retries, err)
			if pubErr := d.broker.PublishDLQ(ctx, err.Error(), delivery.Body); pubErr != nil {
				log.Printf("workers[%s]: dlq publish failed for order=%s: %v", queueName, msg.OrderID, pubErr)
			}
			delivery.Ack(false)
			return
		}
		log.Printf("workers[%s]: order=%s attempt=%d failed, requeuing: %v", queueName, msg.OrderID, retries+1, err)
		if pubErr := d.broker.Republish(ctx, queueName, delivery.Body, queue.WithIncrementedRetry(delivery)); pubErr != nil {
			log.Printf("workers[%s]: republish failed for order=%s: %v", queueName, msg.OrderID, pubErr)
			delivery.Nack(false, true)
			return
		}
		delivery.Ack(false)
		return
	}
	delivery.Ack(false)
}

// loadOwner resolves an order_id to its "user_type:user_id" hash tag via
// the reverse index C5 writes at order creation.
func loadOwner(ctx context.Context, st *statestore.Store, orderID string) (userType, userID string, err error) {
	v, err := st.Get(ctx, statestore.OrderOwnerKey(orderID))
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("workers: malformed owner index value %q for order %s", v, orderID)
	}
	return parts[0], parts[1], nil
}

// loadOrder fetches and reconstructs the Order, distinguishing a missing
// hash from a transport failure.
func loadOrder(ctx context.Context, st *statestore.Store, userType, userID, orderID string) (order.Order, bool, error) {
	fields, err := st.HGetAll(ctx, statestore.OrderKey(userType, userID, orderID))
	if err != nil {
		return order.Order{}, false, err
	}
	if len(fields) == 0 {
		return order.Order{}, false, nil
	}
	return order.FromFields(orderID, fields), true, nil
}

// attributeCloseReason reads and deletes the CloseContext for orderID,
// falling back to USER_CLOSED when no context was written (spec.md §3
// CloseContext "consumed by the close-confirm worker to attribute
// close_reason").
func attributeCloseReason(ctx context.Context, st *statestore.Store, orderID string) order.CloseReason {
	key := statestore.CloseContextKey(orderID)
	fields, err := st.HGetAll(ctx, key)
	defer st.Del(ctx, key)
	if err != nil || len(fields) == 0 {
		return order.CloseReasonUserClosed
	}
	switch fields["context"] {
	case string(order.CloseReasonAutocutoff):
		return order.CloseReasonAutocutoff
	case string(order.CloseReasonStopLossHit):
		return order.CloseReasonStopLossHit
	case string(order.CloseReasonTakeProfitHit):
		return order.CloseReasonTakeProfitHit
	case string(order.CloseReasonAdminClosed):
		return order.CloseReasonAdminClosed
	default:
		return order.CloseReasonUserClosed
	}
}

// loadUsedMargin/storeUsedMargin duplicate the order executor's small
// snapshot helpers — kept local rather than exported from internal/order
// to avoid workers depending on order for anything but its types/errors.
func loadUsedMargin(ctx context.Context, st *statestore.Store, userType, userID string) (money.D, error) {
	v, err := st.Get(ctx, statestore.UsedMarginKey(userType, userID))
	if err != nil {
		if statestore.IsNotFound(err) {
			return money.Zero, nil
		}
		return money.Zero, err
	}
	return money.Parse(v)
}

func storeUsedMargin(ctx context.Context, st *statestore.Store, userType, userID string, total money.D) error {
	if total.IsNegative() {
		total = money.Zero
	}
	return st.Set(ctx, statestore.UsedMarginKey(userType, userID), money.RoundCurrency(total).String(), 0)
}

// removeHoldings deletes the UserHoldings mirror and this order's entry
// in the user's per-symbol live-order set; if that set is now empty, it
// also drops the user's SymbolHolders membership, maintaining the
// invariant that membership exists iff the user has a non-terminal order
// on the symbol (spec.md §3 SymbolHolders).
func removeHoldings(ctx context.Context, st *statestore.Store, o order.Order) error {
	if err := st.Del(ctx, statestore.UserHoldingsKey(o.UserType, o.UserID, o.OrderID)); err != nil {
		return err
	}
	ordersKey := statestore.UserSymbolOrdersKey(o.UserType, o.UserID, o.Symbol)
	if err := st.SRem(ctx, ordersKey, o.OrderID); err != nil {
		return err
	}
	remaining, err := st.SCard(ctx, ordersKey)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := st.SRem(ctx, statestore.SymbolHoldersKey(o.Symbol, o.UserType), o.UserType+":"+o.UserID); err != nil {
			return err
		}
	}
	return removeFromUserOrders(ctx, st, o)
}

// removeFromUserOrders drops orderID from C9's user-wide non-terminal
// order index. Called by every worker that drives an order terminal,
// not only removeHoldings, since QUEUED orders reach UserOrdersKey
// without ever touching UserHoldings.
func removeFromUserOrders(ctx context.Context, st *statestore.Store, o order.Order) error {
	return st.SRem(ctx, statestore.UserOrdersKey(o.UserType, o.UserID), o.OrderID)
}

const defaultPrefetch = 20
