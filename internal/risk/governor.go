package risk

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"main/internal/ledger"
	"main/internal/schema"
)

// DenyReason enumerates risk gate outcomes. Callers branch on these;
// they are never free-text.
type DenyReason uint16

const (
	DenyReasonNone DenyReason = iota
	DenyDuplicateInFlight
	DenyCapExceeded
	DenyExposureExceeded
	DenyRateLimited
	DenyLowConfidence
	DenySizeTooSmall
	DenyUnknownSymbol
	DenyKillSwitch
)

func (r DenyReason) String() string {
	switch r {
	case DenyDuplicateInFlight:
		return "duplicate_in_flight"
	case DenyCapExceeded:
		return "cap_exceeded"
	case DenyExposureExceeded:
		return "exposure_exceeded"
	case DenyRateLimited:
		return "rate_limited"
	case DenyLowConfidence:
		return "low_confidence"
	case DenySizeTooSmall:
		return "size_too_small"
	case DenyUnknownSymbol:
		return "unknown_symbol"
	case DenyKillSwitch:
		return "kill_switch"
	default:
		return "none"
	}
}

// Denial is the structured outcome for a rejected intent. A denial is an
// expected policy result, not an error.
type Denial struct {
	IntentID string     `json:"intentId"`
	Symbol   string     `json:"symbol"`
	Reason   DenyReason `json:"reason"`
}

// Config defines risk limits. Caps and thresholds come from configuration;
// there are no built-in numeric defaults.
type Config struct {
	KillSwitch          bool            `json:"killSwitch"`
	ConfidenceThreshold float64         `json:"confidenceThreshold"`
	MaxNotionalExposure decimal.Decimal `json:"maxNotionalExposure"`
	RateLimit           int             `json:"rateLimit"`
	RateWindow          time.Duration   `json:"rateWindow"`
}

// Book is the read/reserve capability the governor needs from the position
// ledger. The governor never holds a mutation capability.
type Book interface {
	Snapshot(symbol string) ledger.Position
	Reserve(symbol string) bool
	Release(symbol string)
	NotionalExposure(price func(symbol string) decimal.Decimal) decimal.Decimal
}

// Governor validates trade intents against exposure, concentration and
// rate limits, and sizes approved intents into order plans.
type Governor struct {
	cfg     Config
	symbols *schema.Registry
	book    Book

	mu        sync.Mutex
	rateMarks []time.Time
}

// NewGovernor creates a governor over the given symbol registry and ledger.
func NewGovernor(cfg Config, symbols *schema.Registry, book Book) *Governor {
	return &Governor{cfg: cfg, symbols: symbols, book: book}
}

// Evaluate runs the gate checklist in order; the first failing gate wins.
// On approval the symbol's in-flight slot stays reserved until the
// resulting order reaches a terminal state (the execution engine releases
// it); holding the slot through evaluation is what makes the in-flight
// check and plan creation one critical section.
func (g *Governor) Evaluate(intent schema.TradeIntent) (schema.OrderPlan, *Denial) {
	deny := func(reason DenyReason) (schema.OrderPlan, *Denial) {
		return schema.OrderPlan{}, &Denial{IntentID: intent.IntentID, Symbol: intent.Symbol, Reason: reason}
	}

	if g.cfg.KillSwitch {
		return deny(DenyKillSwitch)
	}
	spec, ok := g.symbols.Symbol(intent.Symbol)
	if !ok {
		return deny(DenyUnknownSymbol)
	}

	// gate (a): per-symbol in-flight cap
	if !g.book.Reserve(intent.Symbol) {
		return deny(DenyDuplicateInFlight)
	}
	release := func(reason DenyReason) (schema.OrderPlan, *Denial) {
		g.book.Release(intent.Symbol)
		return deny(reason)
	}

	position := g.book.Snapshot(intent.Symbol)
	price := spec.ReferencePrice

	if intent.Direction == schema.DirectionClose {
		return g.planClose(intent, spec, position, release)
	}

	// gate (b): max position size per symbol
	capRemaining := spec.PositionCap.Sub(position.NetQuantity.Abs())
	if spec.PositionCap.Sign() > 0 && capRemaining.Sign() <= 0 {
		return release(DenyCapExceeded)
	}

	// gate (c): max aggregate notional exposure
	exposure := g.book.NotionalExposure(g.referencePrice)
	exposureRemaining := g.cfg.MaxNotionalExposure.Sub(exposure)
	if g.cfg.MaxNotionalExposure.Sign() > 0 && exposureRemaining.Sign() <= 0 {
		return release(DenyExposureExceeded)
	}

	// gate (d): rolling-window rate limit over created plans; checking
	// consumes nothing, a later gate may still deny
	now := time.Now()
	if !g.rateAllows(now) {
		return release(DenyRateLimited)
	}

	// gate (e): minimum confidence
	if intent.Confidence < g.cfg.ConfidenceThreshold {
		return release(DenyLowConfidence)
	}

	quantity := decimal.Min(intent.SuggestedSize, capRemaining)
	if g.cfg.MaxNotionalExposure.Sign() > 0 && price.Sign() > 0 {
		quantity = decimal.Min(quantity, exposureRemaining.Div(price))
	}
	quantity = roundToLot(quantity, spec.LotSize)
	if quantity.Sign() <= 0 {
		return release(DenySizeTooSmall)
	}

	g.recordRate(now)
	return schema.OrderPlan{
		PlanID:   uuid.NewString(),
		IntentID: intent.IntentID,
		Symbol:   intent.Symbol,
		Side:     intent.Direction.Side(),
		Quantity: quantity,
		Type:     schema.OrderTypeMarket,
		RiskTag:  "auto",
	}, nil
}

// planClose sizes a flattening order for the current net position. Closing
// reduces exposure, so the position and exposure caps do not apply; the
// rate limit and confidence gates still do.
func (g *Governor) planClose(intent schema.TradeIntent, spec schema.SymbolSpec, position ledger.Position, release func(DenyReason) (schema.OrderPlan, *Denial)) (schema.OrderPlan, *Denial) {
	now := time.Now()
	if !g.rateAllows(now) {
		return release(DenyRateLimited)
	}
	if intent.Confidence < g.cfg.ConfidenceThreshold {
		return release(DenyLowConfidence)
	}

	quantity := roundToLot(position.NetQuantity.Abs(), spec.LotSize)
	if quantity.Sign() <= 0 {
		return release(DenySizeTooSmall)
	}
	side := schema.OrderSideSell
	if position.NetQuantity.Sign() < 0 {
		side = schema.OrderSideBuy
	}
	g.recordRate(now)
	return schema.OrderPlan{
		PlanID:   uuid.NewString(),
		IntentID: intent.IntentID,
		Symbol:   intent.Symbol,
		Side:     side,
		Quantity: quantity,
		Type:     schema.OrderTypeMarket,
		RiskTag:  "auto-close",
	}, nil
}

// rateAllows reports whether another plan fits the rolling window without
// consuming a slot.
func (g *Governor) rateAllows(now time.Time) bool {
	if g.cfg.RateLimit <= 0 || g.cfg.RateWindow <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneRateLocked(now)
	return len(g.rateMarks) < g.cfg.RateLimit
}

// recordRate counts one created plan against the rolling window.
func (g *Governor) recordRate(now time.Time) {
	if g.cfg.RateLimit <= 0 || g.cfg.RateWindow <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneRateLocked(now)
	g.rateMarks = append(g.rateMarks, now)
}

func (g *Governor) pruneRateLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.RateWindow)
	idx := 0
	for idx < len(g.rateMarks) && !g.rateMarks[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		g.rateMarks = append(g.rateMarks[:0], g.rateMarks[idx:]...)
	}
}

func (g *Governor) referencePrice(symbol string) decimal.Decimal {
	if spec, ok := g.symbols.Symbol(symbol); ok {
		return spec.ReferencePrice
	}
	return decimal.Zero
}

func roundToLot(quantity, lot decimal.Decimal) decimal.Decimal {
	if quantity.Sign() <= 0 {
		return decimal.Zero
	}
	if lot.Sign() <= 0 {
		return quantity
	}
	return quantity.Div(lot).Floor().Mul(lot)
}
