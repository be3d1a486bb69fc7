package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"

	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/schema"
	"main/pkg/exception"
)

func main() {
	dir := flag.String("dir", "", "Journal directory to replay")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	snapshotPath := flag.String("snapshot", "", "Snapshot to verify the replayed positions against")
	verbose := flag.Bool("v", false, "Print every event")
	flag.Parse()

	if *dir == "" {
		log.Fatal("replay: -dir is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, journal.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}, *snapshotPath, *verbose); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
}

func run(ctx context.Context, cfg journal.PlaybackConfig, snapshotPath string, verbose bool) error {
	playback, err := journal.NewPlayback(cfg)
	if err != nil {
		return err
	}

	book := ledger.New()
	counts := make(map[schema.EventType]int)
	var lastSeq uint64
	var duplicates int

	err = playback.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		counts[header.Type]++
		lastSeq = header.Seq
		if verbose {
			fmt.Printf("seq=%d type=%s ts=%d bytes=%d\n", header.Seq, header.Type, header.Ts, len(payload))
		}
		if header.Type != schema.EventFill {
			return nil
		}
		var fill schema.Fill
		if err := sonic.Unmarshal(payload, &fill); err != nil {
			return fmt.Errorf("decode fill at seq %d: %w", header.Seq, err)
		}
		if _, err := book.ApplyFill(fill); err != nil {
			if err == exception.ErrLedgerDuplicateFill {
				duplicates++
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("replayed %d events (last seq %d, %d duplicate fills absorbed)\n", total(counts), lastSeq, duplicates)
	for _, pos := range book.SnapshotAll() {
		fmt.Printf("  %s net=%s avg=%s pnl=%s\n",
			pos.Symbol, pos.NetQuantity, pos.AvgEntryPrice, pos.RealizedPnL)
	}

	if snapshotPath == "" {
		return nil
	}
	expected, err := ledger.ReadSnapshot(snapshotPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := ledger.CompareSnapshots(expected, book.SnapshotState(lastSeq)); err != nil {
		return fmt.Errorf("snapshot mismatch: %w", err)
	}
	fmt.Println("snapshot verified")
	return nil
}

func total(counts map[schema.EventType]int) int {
	sum := 0
	for _, n := range counts {
		sum += n
	}
	return sum
}
