package obs

import (
	"testing"
	"time"

	"main/internal/risk"
	"main/internal/schema"
	"main/internal/signal"
)

func TestSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.IncIngested()
	m.IncIngested()
	m.IncDropped()
	m.IncReject(signal.RejectNoSymbolFound)
	m.IncReject(signal.RejectNoSymbolFound)
	m.IncReject(signal.RejectLowConfidence)
	m.IncDeny(risk.DenyRateLimited)
	m.IncOrderState(schema.OrderStateFilled)
	m.IncQueueDrop()
	m.IncDeadLetter()

	snapshot := m.Snapshot()
	if snapshot.SignalsIngested != 2 {
		t.Fatalf("ingested mismatch! should be 2 but got %d", snapshot.SignalsIngested)
	}
	if snapshot.SignalsDropped != 1 {
		t.Fatalf("dropped mismatch! should be 1 but got %d", snapshot.SignalsDropped)
	}
	if snapshot.RejectCounts["no_symbol_found"] != 2 {
		t.Fatalf("reject count mismatch: %v", snapshot.RejectCounts)
	}
	if snapshot.RejectCounts["low_confidence"] != 1 {
		t.Fatalf("reject count mismatch: %v", snapshot.RejectCounts)
	}
	if snapshot.DenyCounts["rate_limited"] != 1 {
		t.Fatalf("deny count mismatch: %v", snapshot.DenyCounts)
	}
	if snapshot.OrderStates[schema.OrderStateFilled.String()] != 1 {
		t.Fatalf("order state count mismatch: %v", snapshot.OrderStates)
	}
	if snapshot.QueueDrops != 1 || snapshot.DeadLetters != 1 {
		t.Fatalf("queue/dead letter mismatch: %+v", snapshot)
	}
	// zero-valued reasons are omitted
	if _, ok := snapshot.RejectCounts["transient_error"]; ok {
		t.Fatal("zero count should be omitted")
	}
}

func TestLatencyStats(t *testing.T) {
	var stats LatencyStats
	stats.Observe(10 * time.Millisecond)
	stats.Observe(20 * time.Millisecond)
	stats.Observe(30 * time.Millisecond)

	snapshot := stats.Snapshot()
	if snapshot.Count != 3 {
		t.Fatalf("count mismatch! should be 3 but got %d", snapshot.Count)
	}
	if snapshot.Min != 10*time.Millisecond {
		t.Fatalf("min mismatch! should be 10ms but got %s", snapshot.Min)
	}
	if snapshot.Max != 30*time.Millisecond {
		t.Fatalf("max mismatch! should be 30ms but got %s", snapshot.Max)
	}
	if snapshot.Avg != 20*time.Millisecond {
		t.Fatalf("avg mismatch! should be 20ms but got %s", snapshot.Avg)
	}
}

func TestLatencyStatsEmpty(t *testing.T) {
	var stats LatencyStats
	if snapshot := stats.Snapshot(); snapshot != (LatencySnapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snapshot)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.IncIngested()
	m.IncDropped()
	m.IncReject(signal.RejectNoSymbolFound)
	m.IncDeny(risk.DenyKillSwitch)
	m.IncOrderState(schema.OrderStateFilled)
	m.IncQueueDrop()
	m.IncDeadLetter()
	m.ObserveExtract(time.Millisecond)
	m.ObserveRisk(time.Millisecond)
	m.ObserveSubmit(time.Millisecond)
	if snapshot := m.Snapshot(); snapshot.SignalsIngested != 0 {
		t.Fatalf("nil metrics produced counts: %+v", snapshot)
	}
}
