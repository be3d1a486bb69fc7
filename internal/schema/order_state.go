package schema

import "time"

// OrderState tracks the lifecycle of a submitted order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStatePending
	OrderStateAcknowledged
	OrderStatePartiallyFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "pending"
	case OrderStateAcknowledged:
		return "acknowledged"
	case OrderStatePartiallyFilled:
		return "partially_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final. Terminal records are immutable.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// OrderStateChange is the journal payload for an order lifecycle transition.
type OrderStateChange struct {
	OrderID         string     `json:"orderId"`
	PlanID          string     `json:"planId"`
	Symbol          string     `json:"symbol"`
	Side            OrderSide  `json:"side"`
	ExchangeOrderID string     `json:"exchangeOrderId,omitempty"`
	State           OrderState `json:"state"`
	Timestamp       time.Time  `json:"timestamp"`
}
