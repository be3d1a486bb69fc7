package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/websocket"
)

// Config controls submission retry behavior. The order itself is never
// auto-retried; only the connection carrying it is.
type Config struct {
	MaxConnRetries int
	RetryBackoff   websocket.Backoff
	ResyncTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnRetries <= 0 {
		c.MaxConnRetries = 3
	}
	if c.RetryBackoff == (websocket.Backoff{}) {
		c.RetryBackoff = websocket.DefaultBackoff()
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = 30 * time.Second
	}
	return c
}

// Engine submits order plans to the exchange, tracks order lifecycle and
// reconciles fills into the position ledger. It is the only component
// holding a ledger mutation capability.
type Engine struct {
	cfg    Config
	client Client
	orders *StateMachine
	book   *ledger.Ledger

	journal  *journal.Writer
	store    *ledger.Store
	onUpdate func(OrderRecord)

	mu    sync.Mutex
	ready chan struct{}
}

// NewEngine creates an execution engine in the accepting state.
func NewEngine(cfg Config, client Client, book *ledger.Ledger) *Engine {
	ready := make(chan struct{})
	close(ready)
	return &Engine{
		cfg:    cfg.withDefaults(),
		client: client,
		orders: NewStateMachine(),
		book:   book,
		ready:  ready,
	}
}

// SetJournal attaches the durable event journal.
func (e *Engine) SetJournal(w *journal.Writer) { e.journal = w }

// SetStore attaches the durable order/position store.
func (e *Engine) SetStore(s *ledger.Store) { e.store = s }

// OnUpdate registers a callback invoked on every order state change.
// The callback must not block.
func (e *Engine) OnUpdate(fn func(OrderRecord)) { e.onUpdate = fn }

// Orders exposes the order state machine for inspection.
func (e *Engine) Orders() *StateMachine { return e.orders }

// Restore seeds a recovered non-terminal record before the engine starts.
func (e *Engine) Restore(record OrderRecord) error {
	if err := e.orders.Restore(record); err != nil {
		return err
	}
	e.book.AttachOrder(record.Symbol, record.OrderID)
	if !e.book.Reserve(record.Symbol) {
		logs.Warnf("restore: in-flight slot already taken, symbol: %s", record.Symbol)
	}
	return nil
}

// Submit places an approved plan on the exchange. The caller has already
// reserved the symbol's in-flight slot; the engine releases it when the
// order reaches a terminal state. A transient placement failure retries
// the connection with backoff and resubmits under the same client order
// id, so at most one exchange order can result.
func (e *Engine) Submit(ctx context.Context, plan schema.OrderPlan) (OrderRecord, error) {
	if err := e.waitReady(ctx); err != nil {
		e.book.Release(plan.Symbol)
		return OrderRecord{}, err
	}

	record, err := e.orders.ApplyPlan(plan)
	if err != nil {
		e.book.Release(plan.Symbol)
		return OrderRecord{}, err
	}
	e.book.AttachOrder(record.Symbol, record.OrderID)
	e.appendJournal(schema.EventPlan, plan)
	e.appendState(record)

	req := PlaceOrderRequest{
		ClientOrderID: record.OrderID,
		Symbol:        plan.Symbol,
		Side:          plan.Side,
		Type:          plan.Type,
		Quantity:      plan.Quantity,
		Price:         plan.LimitPrice,
	}

	var ack Ack
	for attempt := 1; ; attempt++ {
		ack, err = e.client.PlaceOrder(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, exception.ErrTransient) {
			return e.failSubmission(record, err)
		}
		if attempt > e.cfg.MaxConnRetries {
			return e.failSubmission(record, fmt.Errorf("%w after %d attempts: %v",
				exception.ErrOrderConnectionRetry, attempt, err))
		}
		logs.Warnf("place order transient failure, retrying connection, order: %s attempt: %d err: %+v",
			record.OrderID, attempt, err)
		if rerr := e.client.Reconnect(ctx); rerr != nil {
			return e.failSubmission(record, rerr)
		}
		select {
		case <-time.After(e.cfg.RetryBackoff.Next(attempt)):
		case <-ctx.Done():
			return e.failSubmission(record, ctx.Err())
		}
	}

	record, err = e.orders.MarkAcknowledged(record.OrderID, ack.ExchangeOrderID)
	if err != nil {
		return record, err
	}
	e.appendState(record)
	e.persist(record)
	e.emit(record)
	return record, nil
}

func (e *Engine) failSubmission(record OrderRecord, cause error) (OrderRecord, error) {
	record, err := e.orders.MarkTerminal(record.OrderID, schema.OrderStateRejected)
	if err != nil {
		logs.Errorf("mark rejected failed, order: %s err: %+v", record.OrderID, err)
	}
	e.finalize(record)
	return record, cause
}

// HandleEvent processes one exchange stream event.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventKindFill:
		e.applyFill(ev.Fill)
	case EventKindStatus:
		e.applyStatus(ev.Status)
	case EventKindDisconnected:
		e.suspend()
	case EventKindConnected:
		if err := e.Resync(ctx); err != nil {
			logs.Errorf("resync failed, err: %+v", err)
			return
		}
		e.resume()
	default:
		logs.Warnf("unknown exchange event kind: %d", ev.Kind)
	}
}

func (e *Engine) applyFill(fill schema.Fill) {
	record, applied, err := e.orders.ApplyFill(fill)
	if err != nil {
		logs.Errorf("apply fill failed, order: %s fill: %s err: %+v", fill.OrderID, fill.FillID, err)
		return
	}
	if !applied {
		logs.Debugf("duplicate fill absorbed, order: %s fill: %s", fill.OrderID, fill.FillID)
		return
	}
	if fill.Symbol == "" {
		fill.Symbol = record.Symbol
	}
	if fill.Side == schema.OrderSideUnknown {
		fill.Side = record.Side
	}
	if _, err := e.book.ApplyFill(fill); err != nil && err != exception.ErrLedgerDuplicateFill {
		logs.Errorf("ledger apply fill failed, fill: %s err: %+v", fill.FillID, err)
	}
	e.appendJournal(schema.EventFill, fill)
	e.persistPosition(record.Symbol)
	if record.State.Terminal() {
		e.finalize(record)
		return
	}
	e.appendState(record)
	e.persist(record)
	e.emit(record)
}

func (e *Engine) applyStatus(status StatusReport) {
	record, ok := e.orders.OrderByPlan(status.ClientOrderID)
	if !ok {
		if record, ok = e.orders.Order(status.ClientOrderID); !ok {
			logs.Warnf("status for unknown order: %s", status.ClientOrderID)
			return
		}
	}
	e.reconcileStatus(record, status)
}

// Resync queries exchange-side status for every non-terminal local record
// and reconciles discrepancies. Fill replay is idempotent, so fills seen
// both live and in the status report cannot double-count.
func (e *Engine) Resync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResyncTimeout)
	defer cancel()

	for _, record := range e.orders.NonTerminal() {
		status, err := e.client.OrderStatus(ctx, record.OrderID)
		if err != nil {
			return err
		}
		e.reconcileStatus(record, status)
	}
	return nil
}

func (e *Engine) reconcileStatus(record OrderRecord, status StatusReport) {
	if record.State == schema.OrderStatePending && status.ExchangeOrderID != "" {
		updated, err := e.orders.MarkAcknowledged(record.OrderID, status.ExchangeOrderID)
		if err == nil {
			record = updated
			e.appendState(record)
		}
	}
	for _, fill := range status.Fills {
		fill.OrderID = record.OrderID
		e.applyFill(fill)
	}
	if current, ok := e.orders.Order(record.OrderID); ok {
		record = current
	}
	if status.State.Terminal() && !record.State.Terminal() {
		// exchange-side cancel or reject we never saw live
		updated, err := e.orders.MarkTerminal(record.OrderID, status.State)
		if err != nil {
			logs.Errorf("reconcile terminal failed, order: %s err: %+v", record.OrderID, err)
			return
		}
		e.finalize(updated)
	}
}

// finalize runs once per terminal record: release the in-flight slot,
// detach and persist, then report the outcome.
func (e *Engine) finalize(record OrderRecord) {
	e.book.DetachOrder(record.Symbol, record.OrderID)
	e.book.Release(record.Symbol)
	e.appendState(record)
	e.persist(record)
	e.persistPosition(record.Symbol)
	e.emit(record)
}

func (e *Engine) suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ready:
		e.ready = make(chan struct{})
		logs.Warnf("exchange feed lost, submissions suspended")
	default:
	}
}

func (e *Engine) resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ready:
	default:
		close(e.ready)
		logs.Info("exchange feed restored, submissions resumed")
	}
}

func (e *Engine) waitReady(ctx context.Context) error {
	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) appendJournal(eventType schema.EventType, payload any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(eventType, payload); err != nil {
		logs.Errorf("journal append failed, type: %s err: %+v", eventType, err)
	}
}

func (e *Engine) appendState(record OrderRecord) {
	e.appendJournal(schema.EventOrderState, schema.OrderStateChange{
		OrderID:         record.OrderID,
		PlanID:          record.PlanID,
		Symbol:          record.Symbol,
		Side:            record.Side,
		ExchangeOrderID: record.ExchangeOrderID,
		State:           record.State,
		Timestamp:       record.LastUpdate,
	})
}

func (e *Engine) persist(record OrderRecord) {
	if e.store == nil {
		return
	}
	row := ledger.OrderRow{
		OrderID:         record.OrderID,
		PlanID:          record.PlanID,
		Symbol:          record.Symbol,
		Side:            uint16(record.Side),
		State:           uint16(record.State),
		ExchangeOrderID: record.ExchangeOrderID,
		Quantity:        record.Quantity.String(),
		FilledQuantity:  record.FilledQuantity.String(),
		SubmittedAt:     record.SubmittedAt,
		LastUpdate:      record.LastUpdate,
	}
	if err := e.store.UpsertOrder(context.Background(), row); err != nil {
		logs.Errorf("persist order failed, order: %s err: %+v", record.OrderID, err)
	}
}

func (e *Engine) persistPosition(symbol string) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertPosition(context.Background(), e.book.Snapshot(symbol)); err != nil {
		logs.Errorf("persist position failed, symbol: %s err: %+v", symbol, err)
	}
}

func (e *Engine) emit(record OrderRecord) {
	if e.onUpdate != nil {
		e.onUpdate(record)
	}
}
