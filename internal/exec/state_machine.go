package exec

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

// OrderRecord tracks the lifecycle of a submitted order. Terminal records
// are immutable; every mutation goes through the state machine.
type OrderRecord struct {
	OrderID         string            `json:"orderId"`
	PlanID          string            `json:"planId"`
	Symbol          string            `json:"symbol"`
	Side            schema.OrderSide  `json:"side"`
	Quantity        decimal.Decimal   `json:"quantity"`
	FilledQuantity  decimal.Decimal   `json:"filledQuantity"`
	ExchangeOrderID string            `json:"exchangeOrderId,omitempty"`
	State           schema.OrderState `json:"state"`
	SubmittedAt     time.Time         `json:"submittedAt"`
	LastUpdate      time.Time         `json:"lastUpdate"`
	Fills           []schema.Fill     `json:"fills,omitempty"`
}

// StateMachine owns order records and enforces legal transitions:
// Pending -> Acknowledged -> PartiallyFilled -> Filled|Canceled|Rejected,
// with PartiallyFilled looping on additional fills. One record per plan;
// the plan to order mapping is never reassigned.
type StateMachine struct {
	mu        sync.Mutex
	orders    map[string]*OrderRecord
	byPlan    map[string]string
	seenFills map[string]struct{}
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		orders:    make(map[string]*OrderRecord),
		byPlan:    make(map[string]string),
		seenFills: make(map[string]struct{}),
	}
}

// ApplyPlan creates a Pending record for a plan. A plan that already has
// an order is rejected, never reassigned.
func (m *StateMachine) ApplyPlan(plan schema.OrderPlan) (OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPlan[plan.PlanID]; ok {
		return OrderRecord{}, exception.ErrOrderDuplicatePlan
	}
	now := time.Now().UTC()
	record := &OrderRecord{
		OrderID:        uuid.NewString(),
		PlanID:         plan.PlanID,
		Symbol:         plan.Symbol,
		Side:           plan.Side,
		Quantity:       plan.Quantity,
		FilledQuantity: decimal.Zero,
		State:          schema.OrderStatePending,
		SubmittedAt:    now,
		LastUpdate:     now,
	}
	m.orders[record.OrderID] = record
	m.byPlan[plan.PlanID] = record.OrderID
	return *record, nil
}

// Restore seeds a recovered record, used on startup replay.
func (m *StateMachine) Restore(record OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[record.OrderID]; ok {
		return exception.ErrOrderDuplicatePlan
	}
	if _, ok := m.byPlan[record.PlanID]; ok {
		return exception.ErrOrderDuplicatePlan
	}
	cp := record
	for _, fill := range cp.Fills {
		if fill.FillID != "" {
			m.seenFills[fill.FillID] = struct{}{}
		}
	}
	m.orders[cp.OrderID] = &cp
	m.byPlan[cp.PlanID] = cp.OrderID
	return nil
}

// MarkAcknowledged transitions a pending order to Acknowledged.
func (m *StateMachine) MarkAcknowledged(orderID, exchangeOrderID string) (OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.orders[orderID]
	if !ok {
		return OrderRecord{}, exception.ErrOrderUnknown
	}
	if record.State.Terminal() {
		return *record, exception.ErrOrderTerminal
	}
	if record.State != schema.OrderStatePending {
		return *record, exception.ErrOrderInvalidTransition
	}
	record.ExchangeOrderID = exchangeOrderID
	record.State = schema.OrderStateAcknowledged
	record.LastUpdate = time.Now().UTC()
	return *record, nil
}

// MarkTerminal forces a terminal state (Canceled or Rejected).
func (m *StateMachine) MarkTerminal(orderID string, state schema.OrderState) (OrderRecord, error) {
	if !state.Terminal() {
		return OrderRecord{}, exception.ErrOrderInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.orders[orderID]
	if !ok {
		return OrderRecord{}, exception.ErrOrderUnknown
	}
	if record.State.Terminal() {
		return *record, exception.ErrOrderTerminal
	}
	record.State = state
	record.LastUpdate = time.Now().UTC()
	return *record, nil
}

// ApplyFill folds a fill into its order. Replayed fills (same FillID) are
// absorbed without effect, so reconciliation stays idempotent.
func (m *StateMachine) ApplyFill(fill schema.Fill) (OrderRecord, bool, error) {
	if fill.Quantity.Sign() <= 0 {
		return OrderRecord{}, false, exception.ErrOrderInvalidFill
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.orders[fill.OrderID]
	if !ok {
		return OrderRecord{}, false, exception.ErrOrderUnknown
	}
	if fill.FillID != "" {
		if _, seen := m.seenFills[fill.FillID]; seen {
			return *record, false, nil
		}
	}
	if record.State.Terminal() {
		return *record, false, exception.ErrOrderTerminal
	}
	if fill.FillID != "" {
		m.seenFills[fill.FillID] = struct{}{}
	}

	record.Fills = append(record.Fills, fill)
	record.FilledQuantity = record.FilledQuantity.Add(fill.Quantity)
	if record.FilledQuantity.GreaterThanOrEqual(record.Quantity) {
		record.State = schema.OrderStateFilled
	} else {
		record.State = schema.OrderStatePartiallyFilled
	}
	record.LastUpdate = time.Now().UTC()
	return *record, true, nil
}

// Order returns a copy of the record for an order id.
func (m *StateMachine) Order(orderID string) (OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.orders[orderID]
	if !ok {
		return OrderRecord{}, false
	}
	return *record, true
}

// OrderByPlan returns the record created for a plan id.
func (m *StateMachine) OrderByPlan(planID string) (OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orderID, ok := m.byPlan[planID]
	if !ok {
		return OrderRecord{}, false
	}
	return *m.orders[orderID], true
}

// NonTerminal returns copies of every unresolved record.
func (m *StateMachine) NonTerminal() []OrderRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderRecord, 0)
	for _, record := range m.orders {
		if !record.State.Terminal() {
			out = append(out, *record)
		}
	}
	return out
}
