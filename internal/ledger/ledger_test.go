package ledger

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

func fill(id, symbol string, side schema.OrderSide, price, qty string) schema.Fill {
	return schema.Fill{
		FillID:    id,
		OrderID:   "order-" + id,
		Symbol:    symbol,
		Side:      side,
		Price:     d(price),
		Quantity:  d(qty),
		Timestamp: time.Now(),
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	testCases := []struct {
		desc        string
		fills       []schema.Fill
		expectedNet string
		expectedAvg string
		expectedPnL string
	}{
		{
			"single buy",
			[]schema.Fill{fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2")},
			"2", "100", "0",
		},
		{
			"two buys average",
			[]schema.Fill{
				fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
				fill("f2", "BTCUSDT", schema.OrderSideBuy, "200", "2"),
			},
			"4", "150", "0",
		},
		{
			"partial reduce realizes pnl",
			[]schema.Fill{
				fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "4"),
				fill("f2", "BTCUSDT", schema.OrderSideSell, "110", "1"),
			},
			"3", "100", "10",
		},
		{
			"flat resets average",
			[]schema.Fill{
				fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
				fill("f2", "BTCUSDT", schema.OrderSideSell, "90", "2"),
			},
			"0", "0", "-20",
		},
		{
			"reversal opens at fill price",
			[]schema.Fill{
				fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
				fill("f2", "BTCUSDT", schema.OrderSideSell, "120", "5"),
			},
			"-3", "120", "40",
		},
		{
			"short side pnl",
			[]schema.Fill{
				fill("f1", "ETHUSDT", schema.OrderSideSell, "200", "3"),
				fill("f2", "ETHUSDT", schema.OrderSideBuy, "180", "3"),
			},
			"0", "0", "60",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			led := New()
			var pos Position
			var err error
			for _, f := range tc.fills {
				pos, err = led.ApplyFill(f)
				if err != nil {
					t.Fatalf("ApplyFill: %v", err)
				}
			}
			if !pos.NetQuantity.Equal(d(tc.expectedNet)) {
				t.Fatalf("net mismatch! should be %s but got %s", tc.expectedNet, pos.NetQuantity)
			}
			if !pos.AvgEntryPrice.Equal(d(tc.expectedAvg)) {
				t.Fatalf("avg mismatch! should be %s but got %s", tc.expectedAvg, pos.AvgEntryPrice)
			}
			if !pos.RealizedPnL.Equal(d(tc.expectedPnL)) {
				t.Fatalf("pnl mismatch! should be %s but got %s", tc.expectedPnL, pos.RealizedPnL)
			}
		})
	}
}

func TestApplyFillDuplicate(t *testing.T) {
	led := New()
	f := fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "1")
	if _, err := led.ApplyFill(f); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	pos, err := led.ApplyFill(f)
	if err != exception.ErrLedgerDuplicateFill {
		t.Fatalf("expected ErrLedgerDuplicateFill, got %v", err)
	}
	if !pos.NetQuantity.Equal(d("1")) {
		t.Fatalf("duplicate changed position: %s", pos.NetQuantity)
	}
}

func TestApplyFillZeroQuantity(t *testing.T) {
	led := New()
	if _, err := led.ApplyFill(fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "0")); err != exception.ErrLedgerZeroQuantity {
		t.Fatalf("expected ErrLedgerZeroQuantity, got %v", err)
	}
}

func TestReserveRelease(t *testing.T) {
	led := New()
	if !led.Reserve("BTCUSDT") {
		t.Fatal("first reserve should succeed")
	}
	if led.Reserve("BTCUSDT") {
		t.Fatal("second reserve should fail while in flight")
	}
	if !led.Reserve("ETHUSDT") {
		t.Fatal("reserve on another symbol should succeed")
	}
	led.Release("BTCUSDT")
	if !led.Reserve("BTCUSDT") {
		t.Fatal("reserve after release should succeed")
	}
}

func TestOpenOrdersSorted(t *testing.T) {
	led := New()
	led.AttachOrder("BTCUSDT", "b-order")
	led.AttachOrder("BTCUSDT", "a-order")
	pos := led.Snapshot("BTCUSDT")
	if len(pos.OpenOrders) != 2 || pos.OpenOrders[0] != "a-order" {
		t.Fatalf("unexpected open orders: %v", pos.OpenOrders)
	}
	led.DetachOrder("BTCUSDT", "a-order")
	led.DetachOrder("BTCUSDT", "b-order")
	if got := led.Snapshot("BTCUSDT").OpenOrders; got != nil {
		t.Fatalf("expected no open orders, got %v", got)
	}
}

func TestNotionalExposure(t *testing.T) {
	led := New()
	if _, err := led.ApplyFill(fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if _, err := led.ApplyFill(fill("f2", "ETHUSDT", schema.OrderSideSell, "50", "4")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	price := func(symbol string) decimal.Decimal {
		switch symbol {
		case "BTCUSDT":
			return d("100")
		case "ETHUSDT":
			return d("50")
		default:
			return decimal.Zero
		}
	}
	// short exposure counts as absolute notional
	if got := led.NotionalExposure(price); !got.Equal(d("400")) {
		t.Fatalf("exposure mismatch! should be 400 but got %s", got)
	}
}
