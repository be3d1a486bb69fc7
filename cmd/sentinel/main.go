package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/exec"
	"main/internal/ingest"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/risk"
	sig "main/internal/signal"
	"main/internal/telemetry"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	snapshotInterval := flag.Duration("snapshot-interval", 30*time.Second, "Position snapshot interval (0=disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "sentinel",
			ServerAddress:   loaded.Pyroscope.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(ctx, loaded, *snapshotInterval); err != nil {
		log.Fatalf("sentinel failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded, snapshotInterval time.Duration) error {
	recovered, err := ledger.Recover(ctx, ledger.RecoverConfig{
		JournalDir:   loaded.Journal.Dir,
		SnapshotPath: loaded.SnapshotPath,
	})
	if err != nil {
		return err
	}
	book := recovered.Ledger
	logs.Infof("ledger recovered, positions: %d last seq: %d", len(book.SnapshotAll()), recovered.LastSeq)

	writer, err := journal.NewWriter(loaded.Journal)
	if err != nil {
		return err
	}
	writer.SetSeq(recovered.LastSeq)
	if err := writer.Start(ctx); err != nil {
		return err
	}
	defer writer.Close()

	client, err := exec.NewPaperClient(loaded.Paper, loaded.Registry)
	if err != nil {
		return err
	}
	engine := exec.NewEngine(loaded.Exec, client, book)
	engine.SetJournal(writer)

	if loaded.Postgres.DSN != "" {
		pg, err := conn.New(conn.Option{ConnString: loaded.Postgres.DSN})
		if err != nil {
			return err
		}
		defer pg.Close()
		store, err := ledger.NewStore(pg.DB())
		if err != nil {
			return err
		}
		engine.SetStore(store)
	}

	orders, err := exec.RecoverOrders(ctx, journal.PlaybackConfig{Dir: loaded.Journal.Dir})
	if err != nil {
		return err
	}
	for _, record := range orders {
		if err := engine.Restore(record); err != nil {
			logs.Warnf("restore order failed, order: %s err: %+v", record.OrderID, err)
		}
	}
	if len(orders) > 0 {
		logs.Infof("restored %d open orders, resyncing", len(orders))
		if err := engine.Resync(ctx); err != nil {
			logs.Warnf("startup resync failed: %+v", err)
		}
	}

	classifier := sig.NewRuleClassifier(loaded.Registry)
	extractor, err := sig.NewExtractor(classifier, loaded.Extractor)
	if err != nil {
		return err
	}
	governor := risk.NewGovernor(loaded.Risk, loaded.Registry, book)
	metrics := obs.NewMetrics()
	notifier := notify.NewDiscordNotifier(loaded.Discord.WebhookURL)

	var hub *telemetry.Hub
	if loaded.Telemetry.Addr != "" {
		hub = telemetry.NewHub()
	}

	deps := pipeline.Deps{
		Extractor: extractor,
		Governor:  governor,
		Engine:    engine,
		Exchange:  client,
		Book:      book,
		Journal:   writer,
		Metrics:   metrics,
		Notifier:  notifier,
	}
	if hub != nil {
		deps.Publisher = hub
	}
	pipe := pipeline.New(loaded.Pipeline, deps)

	go func() {
		if err := notifier.Run(ctx); err != nil {
			logs.Errorf("notifier stopped: %+v", err)
		}
	}()
	if hub != nil {
		go func() {
			if err := hub.Run(ctx, loaded.Telemetry.Addr); err != nil {
				logs.Errorf("telemetry stopped: %+v", err)
			}
		}()
	}
	if loaded.Discord.Token != "" {
		gateway, err := ingest.NewGateway(ingest.Config{
			Token:      loaded.Discord.Token,
			GatewayURL: loaded.Discord.GatewayURL,
			ChannelIDs: loaded.Discord.ChannelIDs,
		}, pipe.Ingest)
		if err != nil {
			return err
		}
		go func() {
			if err := gateway.Run(ctx); err != nil {
				logs.Errorf("gateway stopped: %+v", err)
			}
		}()
	} else {
		logs.Warnf("no discord token configured, running without chat source")
	}
	if snapshotInterval > 0 {
		go snapshotLoop(ctx, book, writer, loaded.SnapshotPath, snapshotInterval)
	}

	pipe.Run(ctx)

	// final snapshot so the next start replays as little as possible
	if err := ledger.WriteSnapshot(loaded.SnapshotPath, book.SnapshotState(writer.Seq())); err != nil {
		logs.Errorf("final snapshot failed: %+v", err)
	}
	return nil
}

func snapshotLoop(ctx context.Context, book *ledger.Ledger, writer *journal.Writer, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ledger.WriteSnapshot(path, book.SnapshotState(writer.Seq())); err != nil {
				logs.Errorf("snapshot write failed: %+v", err)
			}
		}
	}
}
