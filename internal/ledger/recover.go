package ledger

import (
	"context"
	"os"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/journal"
	"main/internal/schema"
	"main/pkg/exception"
)

// RecoverConfig controls snapshot + journal recovery.
type RecoverConfig struct {
	JournalDir      string
	SnapshotPath    string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

// RecoverResult contains recovered ledger state and metadata.
type RecoverResult struct {
	Ledger  *Ledger
	LastSeq uint64
}

// Recover loads the snapshot (when present) and replays the journal tail
// to rebuild positions. Fill events at or before the snapshot sequence are
// skipped; later duplicates are absorbed by the fill-id dedupe.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.JournalDir == "" {
		return RecoverResult{}, errors.New("journal dir is empty")
	}
	led := New()
	var snapSeq uint64

	if cfg.SnapshotPath != "" {
		snapshot, err := ReadSnapshot(cfg.SnapshotPath)
		switch {
		case err == nil:
			led.ApplySnapshot(snapshot)
			snapSeq = snapshot.LastSeq
		case os.IsNotExist(err):
			// cold start, journal only
		default:
			return RecoverResult{}, err
		}
	}

	pb, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:             cfg.JournalDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if os.IsNotExist(err) {
		// first start, nothing journaled yet
		return RecoverResult{Ledger: led, LastSeq: snapSeq}, nil
	}
	if err != nil {
		return RecoverResult{}, err
	}

	lastSeq := snapSeq
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		if header.Seq > lastSeq {
			lastSeq = header.Seq
		}
		if header.Seq <= snapSeq || header.Type != schema.EventFill {
			return nil
		}
		var fill schema.Fill
		if err := sonic.Unmarshal(payload, &fill); err != nil {
			return errors.Wrap(err, "decode fill")
		}
		if _, err := led.ApplyFill(fill); err != nil && err != exception.ErrLedgerDuplicateFill {
			return err
		}
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}

	return RecoverResult{Ledger: led, LastSeq: lastSeq}, nil
}
