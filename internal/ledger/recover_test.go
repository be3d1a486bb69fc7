package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"main/internal/journal"
	"main/internal/schema"
)

func journalFills(t *testing.T, dir string, fills []schema.Fill) uint64 {
	t.Helper()
	w, err := journal.NewWriter(journal.Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, f := range fills {
		if err := w.Append(schema.EventFill, f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return w.Seq()
}

func TestRecoverJournalOnly(t *testing.T) {
	dir := t.TempDir()
	journalFills(t, dir, []schema.Fill{
		fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
		fill("f2", "BTCUSDT", schema.OrderSideSell, "110", "1"),
	})

	res, err := Recover(context.Background(), RecoverConfig{JournalDir: dir})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.LastSeq != 2 {
		t.Fatalf("expected last seq 2, got %d", res.LastSeq)
	}
	pos := res.Ledger.Snapshot("BTCUSDT")
	if !pos.NetQuantity.Equal(d("1")) || !pos.RealizedPnL.Equal(d("10")) {
		t.Fatalf("unexpected recovered position: %+v", pos)
	}
}

func TestRecoverSnapshotPlusTail(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "positions.json")

	led := New()
	if _, err := led.ApplyFill(fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	last := journalFills(t, dir, []schema.Fill{
		fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
		fill("f2", "BTCUSDT", schema.OrderSideBuy, "200", "2"),
	})
	if last != 2 {
		t.Fatalf("expected two journaled fills, got seq %d", last)
	}
	// snapshot covers seq 1; only f2 should replay
	if err := WriteSnapshot(snapshotPath, led.SnapshotState(1)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	res, err := Recover(context.Background(), RecoverConfig{JournalDir: dir, SnapshotPath: snapshotPath})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	pos := res.Ledger.Snapshot("BTCUSDT")
	if !pos.NetQuantity.Equal(d("4")) {
		t.Fatalf("net mismatch! should be 4 but got %s", pos.NetQuantity)
	}
	if !pos.AvgEntryPrice.Equal(d("150")) {
		t.Fatalf("avg mismatch! should be 150 but got %s", pos.AvgEntryPrice)
	}
}

func TestRecoverAbsorbsDuplicateTailFill(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "positions.json")

	led := New()
	if _, err := led.ApplyFill(fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	// f1 appears again after the snapshot boundary; SeenFills must absorb it
	journalFills(t, dir, []schema.Fill{
		fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2"),
	})
	if err := WriteSnapshot(snapshotPath, led.SnapshotState(0)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	res, err := Recover(context.Background(), RecoverConfig{JournalDir: dir, SnapshotPath: snapshotPath})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	pos := res.Ledger.Snapshot("BTCUSDT")
	if !pos.NetQuantity.Equal(d("2")) {
		t.Fatalf("duplicate fill applied twice: net=%s", pos.NetQuantity)
	}
}

func TestRecoverMissingJournalDir(t *testing.T) {
	res, err := Recover(context.Background(), RecoverConfig{JournalDir: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("missing dir should be a cold start, got %v", err)
	}
	if len(res.Ledger.SnapshotAll()) != 0 {
		t.Fatal("expected empty ledger")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	led := New()
	if _, err := led.ApplyFill(fill("f1", "BTCUSDT", schema.OrderSideBuy, "100", "2")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	led.AttachOrder("BTCUSDT", "order-1")

	path := filepath.Join(t.TempDir(), "snap.json")
	if err := WriteSnapshot(path, led.SnapshotState(7)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.LastSeq != 7 {
		t.Fatalf("expected last seq 7, got %d", snap.LastSeq)
	}

	restored := New()
	restored.ApplySnapshot(snap)
	if err := CompareSnapshots(led.SnapshotState(7), restored.SnapshotState(7)); err != nil {
		t.Fatalf("CompareSnapshots: %v", err)
	}
	pos := restored.Snapshot("BTCUSDT")
	if len(pos.OpenOrders) != 1 || pos.OpenOrders[0] != "order-1" {
		t.Fatalf("open orders not restored: %v", pos.OpenOrders)
	}
}
