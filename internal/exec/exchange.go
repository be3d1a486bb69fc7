package exec

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// PlaceOrderRequest is the outbound order instruction. ClientOrderID is
// the idempotency key; resubmitting the same ClientOrderID must not
// create a second exchange order.
type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          schema.OrderSide
	Type          schema.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

// Ack is the exchange acknowledgment of a placed order.
type Ack struct {
	ExchangeOrderID string
	AckedAt         time.Time
}

// StatusReport is the exchange-side view of one order, used during
// resynchronization.
type StatusReport struct {
	ClientOrderID   string
	ExchangeOrderID string
	State           schema.OrderState
	Fills           []schema.Fill
}

// EventKind categorizes exchange stream events.
type EventKind uint16

const (
	EventKindUnknown EventKind = iota
	EventKindFill
	EventKindStatus
	EventKindDisconnected
	EventKindConnected
)

// Event is one message from the exchange order/fill stream.
type Event struct {
	Kind   EventKind
	Fill   schema.Fill
	Status StatusReport
}

// Client is the exchange collaborator boundary. Connection failures are
// reported wrapped in exception.ErrTransient so the engine can retry the
// connection without risking a duplicate order.
type Client interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Ack, error)
	OrderStatus(ctx context.Context, clientOrderID string) (StatusReport, error)
	Reconnect(ctx context.Context) error
	Events() <-chan Event
}
