// Package persistence is the producer side of the external persistence
// service's boundary (spec.md §1 "the relational database persistence
// service... receives asynchronous update events over a queue") plus a
// local ops/debug mirror — never the system of record.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"trading-core/internal/order"
	"trading-core/internal/queue"
)

// Publisher implements order.Persister and C7's post-transition publish
// step by placing the canonical post-image JSON onto order_db_update_queue.
type Publisher struct {
	broker *queue.Broker
}

// NewPublisher builds a Publisher over an already-dialed queue Broker.
func NewPublisher(broker *queue.Broker) *Publisher {
	return &Publisher{broker: broker}
}

// orderUpdateMessage is the canonical post-image shape the external
// persistence service consumes (spec.md §6 "order_db_update_queue —
// canonical post-image after every terminal or non-terminal transition").
type orderUpdateMessage struct {
	OrderID         string `json:"order_id"`
	UserType        string `json:"user_type"`
	UserID          string `json:"user_id"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	EntryPrice      string `json:"entry_price"`
	MarginUSD       string `json:"margin_usd"`
	CommissionEntry string `json:"commission_entry"`
	CommissionExit  string `json:"commission_exit"`
	Status          string `json:"status"`
	ClosePrice      string `json:"close_price"`
	RealizedPnLUSD  string `json:"realized_pnl_usd"`
	CloseReason     string `json:"close_reason"`
	CreatedTS       int64  `json:"created_ts"`
	ClosedTS        int64  `json:"closed_ts"`
}

// PublishOrderUpdate satisfies order.Persister.
func (p *Publisher) PublishOrderUpdate(ctx context.Context, o order.Order) error {
	msg := orderUpdateMessage{
		OrderID: o.OrderID, UserType: o.UserType, UserID: o.UserID,
		Symbol: o.Symbol, Side: string(o.Side), Quantity: o.Quantity.String(),
		EntryPrice: o.EntryPrice.String(), MarginUSD: o.MarginUSD.String(),
		CommissionEntry: o.CommissionEntry.String(), CommissionExit: o.CommissionExit.String(),
		Status: string(o.Status), ClosePrice: o.ClosePrice.String(),
		RealizedPnLUSD: o.RealizedPnLUSD.String(),
		CloseReason:    string(o.CloseReason), CreatedTS: o.CreatedTS, ClosedTS: o.ClosedTS,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("persistence: marshal order update: %w", err)
	}
	return p.broker.Publish(ctx, queue.OrderDBUpdateQueue, body)
}
