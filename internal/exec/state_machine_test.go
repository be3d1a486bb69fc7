package exec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

func d(s string) decimal.Decimal {
	out, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return out
}

func plan(id, symbol, qty string) schema.OrderPlan {
	return schema.OrderPlan{
		PlanID:   id,
		IntentID: "intent-" + id,
		Symbol:   symbol,
		Side:     schema.OrderSideBuy,
		Quantity: d(qty),
		Type:     schema.OrderTypeMarket,
	}
}

func orderFill(id, orderID, qty string) schema.Fill {
	return schema.Fill{
		FillID:    id,
		OrderID:   orderID,
		Symbol:    "BTC",
		Side:      schema.OrderSideBuy,
		Price:     d("100"),
		Quantity:  d(qty),
		Timestamp: time.Now(),
	}
}

func TestApplyPlanOncePerPlan(t *testing.T) {
	m := NewStateMachine()
	record, err := m.ApplyPlan(plan("p1", "BTC", "2"))
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if record.State != schema.OrderStatePending || record.OrderID == "" {
		t.Fatalf("bad record: %+v", record)
	}
	if _, err := m.ApplyPlan(plan("p1", "BTC", "2")); err != exception.ErrOrderDuplicatePlan {
		t.Fatalf("expected ErrOrderDuplicatePlan, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	m := NewStateMachine()
	record, _ := m.ApplyPlan(plan("p1", "BTC", "2"))

	record, err := m.MarkAcknowledged(record.OrderID, "ex-1")
	if err != nil {
		t.Fatalf("MarkAcknowledged: %v", err)
	}
	if record.State != schema.OrderStateAcknowledged || record.ExchangeOrderID != "ex-1" {
		t.Fatalf("bad record: %+v", record)
	}
	// ack is pending-only
	if _, err := m.MarkAcknowledged(record.OrderID, "ex-2"); err != exception.ErrOrderInvalidTransition {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}

	record, applied, err := m.ApplyFill(orderFill("f1", record.OrderID, "1"))
	if err != nil || !applied {
		t.Fatalf("ApplyFill: applied=%v err=%v", applied, err)
	}
	if record.State != schema.OrderStatePartiallyFilled {
		t.Fatalf("expected partially filled, got %v", record.State)
	}

	record, applied, err = m.ApplyFill(orderFill("f2", record.OrderID, "1"))
	if err != nil || !applied {
		t.Fatalf("ApplyFill: applied=%v err=%v", applied, err)
	}
	if record.State != schema.OrderStateFilled || !record.FilledQuantity.Equal(d("2")) {
		t.Fatalf("expected filled, got %+v", record)
	}

	// terminal records are immutable
	if _, err := m.MarkTerminal(record.OrderID, schema.OrderStateCanceled); err != exception.ErrOrderTerminal {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
	if _, _, err := m.ApplyFill(orderFill("f3", record.OrderID, "1")); err != exception.ErrOrderTerminal {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
}

func TestApplyFillDeduplicates(t *testing.T) {
	m := NewStateMachine()
	record, _ := m.ApplyPlan(plan("p1", "BTC", "3"))
	m.MarkAcknowledged(record.OrderID, "ex-1")

	if _, applied, err := m.ApplyFill(orderFill("f1", record.OrderID, "1")); err != nil || !applied {
		t.Fatalf("first fill: applied=%v err=%v", applied, err)
	}
	record, applied, err := m.ApplyFill(orderFill("f1", record.OrderID, "1"))
	if err != nil {
		t.Fatalf("duplicate fill: %v", err)
	}
	if applied {
		t.Fatal("duplicate fill must not apply")
	}
	if !record.FilledQuantity.Equal(d("1")) {
		t.Fatalf("duplicate changed quantity: %s", record.FilledQuantity)
	}
}

func TestMarkTerminalRequiresTerminalState(t *testing.T) {
	m := NewStateMachine()
	record, _ := m.ApplyPlan(plan("p1", "BTC", "1"))
	if _, err := m.MarkTerminal(record.OrderID, schema.OrderStateAcknowledged); err != exception.ErrOrderInvalidTransition {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if _, err := m.MarkTerminal(record.OrderID, schema.OrderStateCanceled); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
}

func TestNonTerminal(t *testing.T) {
	m := NewStateMachine()
	a, _ := m.ApplyPlan(plan("p1", "BTC", "1"))
	b, _ := m.ApplyPlan(plan("p2", "ETH", "1"))
	if _, err := m.MarkTerminal(b.OrderID, schema.OrderStateRejected); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	open := m.NonTerminal()
	if len(open) != 1 || open[0].OrderID != a.OrderID {
		t.Fatalf("unexpected non-terminal set: %+v", open)
	}
}

func TestRestoreSeedsSeenFills(t *testing.T) {
	m := NewStateMachine()
	record := OrderRecord{
		OrderID:        "o1",
		PlanID:         "p1",
		Symbol:         "BTC",
		Side:           schema.OrderSideBuy,
		Quantity:       d("2"),
		FilledQuantity: d("1"),
		State:          schema.OrderStatePartiallyFilled,
		Fills:          []schema.Fill{orderFill("f1", "o1", "1")},
	}
	if err := m.Restore(record); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	// the restored fill must not double-apply
	got, applied, err := m.ApplyFill(orderFill("f1", "o1", "1"))
	if err != nil || applied {
		t.Fatalf("restored fill replayed: applied=%v err=%v", applied, err)
	}
	if !got.FilledQuantity.Equal(d("1")) {
		t.Fatalf("unexpected quantity: %s", got.FilledQuantity)
	}
	if err := m.Restore(record); err != exception.ErrOrderDuplicatePlan {
		t.Fatalf("expected ErrOrderDuplicatePlan, got %v", err)
	}
}
