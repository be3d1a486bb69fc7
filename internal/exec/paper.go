package exec

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/chaos"
	"main/internal/schema"
)

// PaperConfig tunes the simulated exchange.
type PaperConfig struct {
	// Latency delays acks and fills to mimic a network round trip.
	Latency time.Duration
	// FillChunks splits each order into this many partial fills.
	FillChunks int
	// EventBuffer sizes the outbound event channel.
	EventBuffer int
	// Chaos, when non-nil, injects duplicates, drops and reordering into
	// the fill stream.
	Chaos *chaos.Config
}

func (c PaperConfig) withDefaults() PaperConfig {
	if c.FillChunks <= 0 {
		c.FillChunks = 1
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}

type paperOrder struct {
	req   PlaceOrderRequest
	ack   Ack
	state schema.OrderState
	fills []schema.Fill
}

// PaperClient is an in-process exchange simulator. Orders fill at the
// symbol's reference price. Placement is idempotent on ClientOrderID, so
// connection-level retries never create a second order.
type PaperClient struct {
	cfg     PaperConfig
	symbols *schema.Registry
	events  chan Event
	faults  *chaos.Engine[Event]

	mu     sync.Mutex
	orders map[string]*paperOrder
}

// NewPaperClient builds a simulator over the given symbol registry.
func NewPaperClient(cfg PaperConfig, symbols *schema.Registry) (*PaperClient, error) {
	cfg = cfg.withDefaults()
	var faults *chaos.Engine[Event]
	if cfg.Chaos != nil {
		var err error
		faults, err = chaos.NewEngine[Event](*cfg.Chaos)
		if err != nil {
			return nil, err
		}
	}
	return &PaperClient{
		cfg:     cfg,
		symbols: symbols,
		events:  make(chan Event, cfg.EventBuffer),
		faults:  faults,
		orders:  make(map[string]*paperOrder),
	}, nil
}

// PlaceOrder accepts the order and schedules its fills. Repeated calls
// with the same ClientOrderID return the original ack.
func (p *PaperClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Ack, error) {
	p.mu.Lock()
	if existing, ok := p.orders[req.ClientOrderID]; ok {
		ack := existing.ack
		p.mu.Unlock()
		return ack, nil
	}
	order := &paperOrder{
		req:   req,
		ack:   Ack{ExchangeOrderID: uuid.NewString(), AckedAt: time.Now()},
		state: schema.OrderStateAcknowledged,
	}
	p.orders[req.ClientOrderID] = order
	p.mu.Unlock()

	go p.fill(req.ClientOrderID)
	return order.ack, nil
}

// fill emits the order's fills through the fault injector.
func (p *PaperClient) fill(clientOrderID string) {
	p.mu.Lock()
	order, ok := p.orders[clientOrderID]
	if !ok {
		p.mu.Unlock()
		return
	}
	req := order.req
	p.mu.Unlock()

	price := req.Price
	if price.Sign() <= 0 {
		if spec, ok := p.symbols.Symbol(req.Symbol); ok {
			price = spec.ReferencePrice
		}
	}

	chunks := p.cfg.FillChunks
	chunk := req.Quantity.Div(decimal.NewFromInt(int64(chunks)))
	remaining := req.Quantity
	for i := 0; i < chunks; i++ {
		quantity := chunk
		if i == chunks-1 {
			quantity = remaining
		}
		remaining = remaining.Sub(quantity)

		if p.cfg.Latency > 0 {
			time.Sleep(p.cfg.Latency)
		}
		fill := schema.Fill{
			FillID:    uuid.NewString(),
			OrderID:   req.ClientOrderID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Price:     price,
			Quantity:  quantity,
			Timestamp: time.Now(),
		}
		p.record(clientOrderID, fill, remaining.Sign() <= 0)
		p.emit(Event{Kind: EventKindFill, Fill: fill})
	}
	if p.faults != nil {
		for _, ev := range p.faults.Flush() {
			p.send(ev)
		}
	}
}

func (p *PaperClient) record(clientOrderID string, fill schema.Fill, final bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[clientOrderID]
	if !ok {
		return
	}
	order.fills = append(order.fills, fill)
	if final {
		order.state = schema.OrderStateFilled
	} else {
		order.state = schema.OrderStatePartiallyFilled
	}
}

func (p *PaperClient) emit(ev Event) {
	if p.faults == nil {
		p.send(ev)
		return
	}
	if delay := p.faults.Delay(); delay > 0 {
		time.Sleep(delay)
	}
	for _, out := range p.faults.Process(ev) {
		p.send(out)
	}
}

func (p *PaperClient) send(ev Event) {
	select {
	case p.events <- ev:
	default:
		logs.Warnf("paper exchange event buffer full, kind: %d", ev.Kind)
	}
}

// OrderStatus reports the simulator's view of an order, fills included, so
// resync can recover anything the stream dropped.
func (p *PaperClient) OrderStatus(ctx context.Context, clientOrderID string) (StatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[clientOrderID]
	if !ok {
		return StatusReport{ClientOrderID: clientOrderID, State: schema.OrderStateUnknown}, nil
	}
	fills := make([]schema.Fill, len(order.fills))
	copy(fills, order.fills)
	return StatusReport{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: order.ack.ExchangeOrderID,
		State:           order.state,
		Fills:           fills,
	}, nil
}

// Reconnect is immediate for the in-process simulator.
func (p *PaperClient) Reconnect(ctx context.Context) error {
	return nil
}

// Events exposes the simulated order/fill stream.
func (p *PaperClient) Events() <-chan Event {
	return p.events
}

// Disconnect simulates a dropped exchange connection followed by a
// reconnect after the given pause. Buffered but undelivered fills stay
// lost until resync finds them.
func (p *PaperClient) Disconnect(pause time.Duration) {
	p.send(Event{Kind: EventKindDisconnected})
	go func() {
		if pause > 0 {
			time.Sleep(pause)
		}
		p.send(Event{Kind: EventKindConnected})
	}()
}
