package ledger

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/schema"
	"main/pkg/exception"
)

// Position is the aggregate view of net holdings and P&L for one symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	NetQuantity   decimal.Decimal `json:"netQuantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	OpenOrders    []string        `json:"openOrders,omitempty"`
}

type book struct {
	mu         sync.Mutex
	position   Position
	openOrders map[string]struct{}
	inFlight   bool
	seenFills  map[string]struct{}
}

// Ledger is the single source of truth for positions and pending orders.
// All mutations are serialized per symbol; different symbols may be
// updated concurrently. Only the execution reconciliation path holds a
// mutation capability; risk evaluation reads snapshots.
type Ledger struct {
	mu    sync.RWMutex
	books map[string]*book
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{books: make(map[string]*book)}
}

func (l *Ledger) book(symbol string) *book {
	l.mu.RLock()
	b, ok := l.books[symbol]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[symbol]; ok {
		return b
	}
	b = &book{
		position:   Position{Symbol: symbol, NetQuantity: decimal.Zero, AvgEntryPrice: decimal.Zero, RealizedPnL: decimal.Zero},
		openOrders: make(map[string]struct{}),
		seenFills:  make(map[string]struct{}),
	}
	l.books[symbol] = b
	return b
}

// ApplyFill folds a fill into the symbol position and returns the updated
// snapshot. Replaying a fill with an already-seen FillID is a no-op and
// returns ErrLedgerDuplicateFill; callers treat it as a resolved state
// conflict, not a failure.
func (l *Ledger) ApplyFill(fill schema.Fill) (Position, error) {
	if fill.Quantity.Sign() <= 0 {
		return Position{}, exception.ErrLedgerZeroQuantity
	}
	b := l.book(fill.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	if fill.FillID != "" {
		if _, seen := b.seenFills[fill.FillID]; seen {
			return b.snapshotLocked(), exception.ErrLedgerDuplicateFill
		}
		b.seenFills[fill.FillID] = struct{}{}
	}

	b.position = reduce(b.position, fill)
	return b.snapshotLocked(), nil
}

// reduce applies weighted-average-cost accounting. Realized P&L moves only
// on quantity-reducing fills; a reversing fill closes the old position at
// the fill price and opens the remainder fresh.
func reduce(pos Position, fill schema.Fill) Position {
	signed := fill.SignedQuantity()
	cur := pos.NetQuantity

	if cur.IsZero() || cur.Sign() == signed.Sign() {
		total := cur.Abs().Add(signed.Abs())
		if total.Sign() > 0 {
			pos.AvgEntryPrice = cur.Abs().Mul(pos.AvgEntryPrice).
				Add(signed.Abs().Mul(fill.Price)).
				Div(total)
		}
		pos.NetQuantity = cur.Add(signed)
		return pos
	}

	closed := decimal.Min(signed.Abs(), cur.Abs())
	pnlPerUnit := fill.Price.Sub(pos.AvgEntryPrice)
	if cur.Sign() < 0 {
		pnlPerUnit = pnlPerUnit.Neg()
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(closed.Mul(pnlPerUnit))

	pos.NetQuantity = cur.Add(signed)
	switch {
	case pos.NetQuantity.IsZero():
		pos.AvgEntryPrice = decimal.Zero
	case pos.NetQuantity.Sign() != cur.Sign():
		// reversed; the surviving quantity was opened at the fill price
		pos.AvgEntryPrice = fill.Price
	}
	return pos
}

// Snapshot returns a consistent point-in-time view of one symbol.
func (l *Ledger) Snapshot(symbol string) Position {
	b := l.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// SnapshotAll returns per-symbol snapshots sorted by symbol name.
func (l *Ledger) SnapshotAll() []Position {
	l.mu.RLock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	l.mu.RUnlock()

	out := make([]Position, 0, len(books))
	for _, b := range books {
		b.mu.Lock()
		out = append(out, b.snapshotLocked())
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (b *book) snapshotLocked() Position {
	pos := b.position
	if len(b.openOrders) > 0 {
		pos.OpenOrders = make([]string, 0, len(b.openOrders))
		for id := range b.openOrders {
			pos.OpenOrders = append(pos.OpenOrders, id)
		}
		sort.Strings(pos.OpenOrders)
	} else {
		pos.OpenOrders = nil
	}
	return pos
}

// Reserve claims the single automated in-flight slot for a symbol.
// It returns false when an automated order is already unresolved, which
// is how the one-in-flight-per-symbol invariant is enforced ahead of
// plan creation.
func (l *Ledger) Reserve(symbol string) bool {
	b := l.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight {
		return false
	}
	b.inFlight = true
	return true
}

// Release frees the in-flight slot for a symbol.
func (l *Ledger) Release(symbol string) {
	b := l.book(symbol)
	b.mu.Lock()
	b.inFlight = false
	b.mu.Unlock()
}

// InFlight reports whether an automated order is unresolved for a symbol.
func (l *Ledger) InFlight(symbol string) bool {
	b := l.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// AttachOrder records a pending order against a symbol.
func (l *Ledger) AttachOrder(symbol, orderID string) {
	b := l.book(symbol)
	b.mu.Lock()
	b.openOrders[orderID] = struct{}{}
	b.mu.Unlock()
}

// DetachOrder removes a resolved order from a symbol.
func (l *Ledger) DetachOrder(symbol, orderID string) {
	b := l.book(symbol)
	b.mu.Lock()
	delete(b.openOrders, orderID)
	b.mu.Unlock()
}

// NotionalExposure returns the aggregate absolute exposure across all
// symbols, priced with the supplied reference price lookup.
func (l *Ledger) NotionalExposure(price func(symbol string) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range l.SnapshotAll() {
		if pos.NetQuantity.IsZero() {
			continue
		}
		total = total.Add(pos.NetQuantity.Abs().Mul(price(pos.Symbol)))
	}
	return total
}
