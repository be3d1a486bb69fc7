package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawSignal is an unprocessed inbound chat message believed to contain
// trading intent. Immutable once created; Attempts counts extraction retries.
type RawSignal struct {
	SourceID  string    `json:"sourceId"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Channel   string    `json:"channel"`
	RawText   string    `json:"rawText"`
	Attempts  int       `json:"attempts"`
}

// Direction is the trade direction extracted from a signal.
type Direction uint16

const (
	DirectionUnknown Direction = iota
	DirectionLong
	DirectionShort
	DirectionClose
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	case DirectionClose:
		return "close"
	default:
		return "unknown"
	}
}

// Side returns the order side for opening a position in this direction.
func (d Direction) Side() OrderSide {
	switch d {
	case DirectionLong:
		return OrderSideBuy
	case DirectionShort:
		return OrderSideSell
	default:
		return OrderSideUnknown
	}
}

// TradeIntent is the structured interpretation of a RawSignal.
// Created by the extractor; read-only afterward.
type TradeIntent struct {
	IntentID      string          `json:"intentId"`
	Symbol        string          `json:"symbol"`
	Direction     Direction       `json:"direction"`
	Confidence    float64         `json:"confidence"`
	SuggestedSize decimal.Decimal `json:"suggestedSize"`
	Source        RawSignal       `json:"source"`
}

// OrderSide describes order direction on the exchange.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// OrderPlan is a risk-approved, sized instruction ready for submission.
// Quantity is the risk-adjusted size, not the raw suggestion. Immutable.
type OrderPlan struct {
	PlanID     string          `json:"planId"`
	IntentID   string          `json:"intentId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limitPrice"`
	RiskTag    string          `json:"riskTag"`
}

// Fill is a single execution reported by the exchange.
// FillID is the exchange fill identifier and the dedupe key.
type Fill struct {
	FillID    string          `json:"fillId"`
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignedQuantity returns the fill quantity signed by side (buy positive).
func (f Fill) SignedQuantity() decimal.Decimal {
	if f.Side == OrderSideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}
