package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

// Snapshot captures ledger state at a point in time. LastSeq is the journal
// sequence the snapshot covers; recovery replays only events after it.
type Snapshot struct {
	Timestamp int64           `json:"timestamp"`
	LastSeq   uint64          `json:"lastSeq"`
	Positions []SnapshotEntry `json:"positions"`
}

// SnapshotEntry is one symbol's persisted state. SeenFills carries the fill
// identifiers already folded in, so replayed duplicates stay idempotent
// across a restart.
type SnapshotEntry struct {
	Position  Position `json:"position"`
	SeenFills []string `json:"seenFills,omitempty"`
}

// Snapshot builds a snapshot of all current positions.
func (l *Ledger) SnapshotState(lastSeq uint64) Snapshot {
	l.mu.RLock()
	books := make(map[string]*book, len(l.books))
	for symbol, b := range l.books {
		books[symbol] = b
	}
	l.mu.RUnlock()

	entries := make([]SnapshotEntry, 0, len(books))
	for _, pos := range l.SnapshotAll() {
		entry := SnapshotEntry{Position: pos}
		if b, ok := books[pos.Symbol]; ok {
			b.mu.Lock()
			for id := range b.seenFills {
				entry.SeenFills = append(entry.SeenFills, id)
			}
			b.mu.Unlock()
		}
		entries = append(entries, entry)
	}
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   lastSeq,
		Positions: entries,
	}
}

// ApplySnapshot replaces ledger state with a snapshot.
func (l *Ledger) ApplySnapshot(snapshot Snapshot) {
	l.mu.Lock()
	l.books = make(map[string]*book, len(snapshot.Positions))
	l.mu.Unlock()

	for _, entry := range snapshot.Positions {
		b := l.book(entry.Position.Symbol)
		b.mu.Lock()
		b.position = Position{
			Symbol:        entry.Position.Symbol,
			NetQuantity:   entry.Position.NetQuantity,
			AvgEntryPrice: entry.Position.AvgEntryPrice,
			RealizedPnL:   entry.Position.RealizedPnL,
		}
		for _, orderID := range entry.Position.OpenOrders {
			b.openOrders[orderID] = struct{}{}
		}
		for _, fillID := range entry.SeenFills {
			b.seenFills[fillID] = struct{}{}
		}
		b.mu.Unlock()
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same positions.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	byName := make(map[string]Position, len(expected.Positions))
	for _, entry := range expected.Positions {
		byName[entry.Position.Symbol] = entry.Position
	}
	for _, entry := range actual.Positions {
		want, ok := byName[entry.Position.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Position.Symbol)
		}
		if !want.NetQuantity.Equal(entry.Position.NetQuantity) {
			return fmt.Errorf("snapshot qty mismatch: symbol=%s expected=%s actual=%s",
				want.Symbol, want.NetQuantity, entry.Position.NetQuantity)
		}
		if !want.RealizedPnL.Equal(entry.Position.RealizedPnL) {
			return fmt.Errorf("snapshot pnl mismatch: symbol=%s expected=%s actual=%s",
				want.Symbol, want.RealizedPnL, entry.Position.RealizedPnL)
		}
	}
	return nil
}
