package obs

import (
	"sync/atomic"
	"time"

	"main/internal/risk"
	"main/internal/schema"
	"main/internal/signal"
)

const (
	maxRejectReason = int(signal.RejectTransientError)
	maxDenyReason   = int(risk.DenyKillSwitch)
	maxOrderState   = int(schema.OrderStateRejected)
)

// Metrics collects lightweight pipeline counters and latency stats.
type Metrics struct {
	signalsIngested uint64
	signalsDropped  uint64
	rejectCounts    [maxRejectReason + 1]uint64
	denyCounts      [maxDenyReason + 1]uint64
	orderStates     [maxOrderState + 1]uint64
	queueDrops      uint64
	deadLetters     uint64

	extractLatency LatencyStats
	riskLatency    LatencyStats
	submitLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	SignalsIngested uint64            `json:"signalsIngested"`
	SignalsDropped  uint64            `json:"signalsDropped"`
	RejectCounts    map[string]uint64 `json:"rejectCounts"`
	DenyCounts      map[string]uint64 `json:"denyCounts"`
	OrderStates     map[string]uint64 `json:"orderStates"`
	QueueDrops      uint64            `json:"queueDrops"`
	DeadLetters     uint64            `json:"deadLetters"`
	ExtractLatency  LatencySnapshot   `json:"extractLatency"`
	RiskLatency     LatencySnapshot   `json:"riskLatency"`
	SubmitLatency   LatencySnapshot   `json:"submitLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncIngested counts one accepted raw signal.
func (m *Metrics) IncIngested() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signalsIngested, 1)
}

// IncDropped counts one shed raw signal.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signalsDropped, 1)
}

// IncReject counts an extraction rejection by reason.
func (m *Metrics) IncReject(reason signal.RejectReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// IncDeny counts a risk denial by reason.
func (m *Metrics) IncDeny(reason risk.DenyReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx < len(m.denyCounts) {
		atomic.AddUint64(&m.denyCounts[idx], 1)
	}
}

// IncOrderState counts an order lifecycle transition.
func (m *Metrics) IncOrderState(state schema.OrderState) {
	if m == nil {
		return
	}
	if idx := int(state); idx >= 0 && idx < len(m.orderStates) {
		atomic.AddUint64(&m.orderStates[idx], 1)
	}
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncDeadLetter records an unrecoverable rejection.
func (m *Metrics) IncDeadLetter() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.deadLetters, 1)
}

// ObserveExtract measures one extraction.
func (m *Metrics) ObserveExtract(d time.Duration) {
	if m == nil {
		return
	}
	m.extractLatency.Observe(d)
}

// ObserveRisk measures one risk evaluation.
func (m *Metrics) ObserveRisk(d time.Duration) {
	if m == nil {
		return
	}
	m.riskLatency.Observe(d)
}

// ObserveSubmit measures one submission round trip.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	rejects := make(map[string]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejects[signal.RejectReason(i).String()] = v
		}
	}
	denies := make(map[string]uint64)
	for i := range m.denyCounts {
		if v := atomic.LoadUint64(&m.denyCounts[i]); v > 0 {
			denies[risk.DenyReason(i).String()] = v
		}
	}
	states := make(map[string]uint64)
	for i := range m.orderStates {
		if v := atomic.LoadUint64(&m.orderStates[i]); v > 0 {
			states[schema.OrderState(i).String()] = v
		}
	}
	return Snapshot{
		SignalsIngested: atomic.LoadUint64(&m.signalsIngested),
		SignalsDropped:  atomic.LoadUint64(&m.signalsDropped),
		RejectCounts:    rejects,
		DenyCounts:      denies,
		OrderStates:     states,
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		DeadLetters:     atomic.LoadUint64(&m.deadLetters),
		ExtractLatency:  m.extractLatency.Snapshot(),
		RiskLatency:     m.riskLatency.Snapshot(),
		SubmitLatency:   m.submitLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}
	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
