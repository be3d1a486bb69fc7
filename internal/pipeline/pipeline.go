package pipeline

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/exec"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/signal"
)

// Notifier delivers operator-facing alerts. Implementations must not block
// the calling stage.
type Notifier interface {
	Notify(n Notification)
}

// Publisher pushes state snapshots to observers.
type Publisher interface {
	PublishState(s StateSnapshot)
}

// Notification is one operator alert.
type Notification struct {
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// StateSnapshot is the periodic observable state of the whole pipeline.
type StateSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Stages    []StageStatus     `json:"stages"`
	Metrics   obs.Snapshot      `json:"metrics"`
	Positions []ledger.Position `json:"positions"`
}

// DeadLetter is a raw signal that exhausted its retry budget.
type DeadLetter struct {
	Signal schema.RawSignal `json:"signal"`
	Reason string           `json:"reason"`
	Detail string           `json:"detail,omitempty"`
	At     time.Time        `json:"at"`
}

// Config tunes queue depths and cadence.
type Config struct {
	InboundQueueSize    int
	IntentQueueSize     int
	PlanQueueSize       int
	DeadLetterQueueSize int
	StaleAfter          time.Duration
	SnapshotInterval    time.Duration
	Supervisor          SupervisorConfig
}

func (c Config) withDefaults() Config {
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = 1024
	}
	if c.IntentQueueSize <= 0 {
		c.IntentQueueSize = 256
	}
	if c.PlanQueueSize <= 0 {
		c.PlanQueueSize = 256
	}
	if c.DeadLetterQueueSize <= 0 {
		c.DeadLetterQueueSize = 128
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Second
	}
	return c
}

// Deps are the collaborators the pipeline composes. Journal, Notifier and
// Publisher are optional.
type Deps struct {
	Extractor *signal.Extractor
	Governor  *risk.Governor
	Engine    *exec.Engine
	Exchange  exec.Client
	Book      *ledger.Ledger
	Journal   *journal.Writer
	Metrics   *obs.Metrics
	Notifier  Notifier
	Publisher Publisher
}

// Pipeline wires the extract, risk, execute and event stages together over
// bounded queues and runs them under a supervisor.
type Pipeline struct {
	cfg  Config
	deps Deps

	inbound     *bus.Queue[schema.RawSignal]
	intents     *bus.Queue[schema.TradeIntent]
	plans       *bus.Queue[schema.OrderPlan]
	deadLetters *bus.Queue[DeadLetter]

	supervisor *Supervisor
}

type intentRejectedEvent struct {
	SourceID string    `json:"sourceId"`
	Channel  string    `json:"channel"`
	Reason   string    `json:"reason"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// New builds the pipeline. Run must be called before Ingest delivers
// anything downstream.
func New(cfg Config, deps Deps) *Pipeline {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = obs.NewMetrics()
	}
	p := &Pipeline{
		cfg:         cfg,
		deps:        deps,
		inbound:     bus.NewQueue[schema.RawSignal](cfg.InboundQueueSize),
		intents:     bus.NewQueue[schema.TradeIntent](cfg.IntentQueueSize),
		plans:       bus.NewQueue[schema.OrderPlan](cfg.PlanQueueSize),
		deadLetters: bus.NewQueue[DeadLetter](cfg.DeadLetterQueueSize),
		supervisor:  NewSupervisor(cfg.Supervisor),
	}
	deps.Engine.OnUpdate(p.onOrderUpdate)
	return p
}

// Metrics exposes the pipeline counters.
func (p *Pipeline) Metrics() *obs.Metrics { return p.deps.Metrics }

// Statuses reports per-stage supervisor state.
func (p *Pipeline) Statuses() []StageStatus { return p.supervisor.Statuses() }

// Snapshot assembles the current observable pipeline state.
func (p *Pipeline) Snapshot() StateSnapshot {
	return StateSnapshot{
		Timestamp: time.Now(),
		Stages:    p.supervisor.Statuses(),
		Metrics:   p.deps.Metrics.Snapshot(),
		Positions: p.deps.Book.SnapshotAll(),
	}
}

// Ingest accepts one raw signal from the source. The inbound buffer sheds
// the oldest entry when full so a flood never blocks the reader; everything
// past the buffer applies backpressure instead.
func (p *Pipeline) Ingest(raw schema.RawSignal) {
	p.deps.Metrics.IncIngested()
	evicted, didEvict, err := p.inbound.PublishEvict(raw)
	if err != nil {
		logs.Warnf("inbound queue closed, source: %s", raw.SourceID)
		return
	}
	if didEvict {
		p.deps.Metrics.IncDropped()
		p.deps.Metrics.IncQueueDrop()
		logs.Warnf("dropped_stale_signal, source: %s channel: %s age: %s",
			evicted.SourceID, evicted.Channel, time.Since(evicted.Timestamp))
	}
}

// Run registers the stages and blocks until the context is canceled and
// every stage has exited.
func (p *Pipeline) Run(ctx context.Context) {
	p.supervisor.Add(StageFunc{StageName: "extract", Fn: p.runExtract})
	p.supervisor.Add(StageFunc{StageName: "risk", Fn: p.runRisk})
	p.supervisor.Add(StageFunc{StageName: "execute", Fn: p.runExecute})
	p.supervisor.Add(StageFunc{StageName: "exchange-events", Fn: p.runExchangeEvents})
	p.supervisor.Add(StageFunc{StageName: "dead-letter", Fn: p.runDeadLetter})
	if p.deps.Publisher != nil {
		p.supervisor.Add(StageFunc{StageName: "snapshot", Fn: p.runSnapshot})
		p.supervisor.OnChange(p.publishState)
	}
	p.supervisor.OnAlert(func(stage string, err error) {
		p.notify("critical", "stage degraded",
			"stage "+stage+" exceeded its restart budget: "+err.Error())
	})
	p.supervisor.Run(ctx)
}

func (p *Pipeline) runExtract(ctx context.Context) error {
	for {
		raw, err := p.inbound.Receive(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}
		if p.cfg.StaleAfter > 0 && !raw.Timestamp.IsZero() && time.Since(raw.Timestamp) > p.cfg.StaleAfter {
			p.deps.Metrics.IncDropped()
			logs.Warnf("dropped_stale_signal, source: %s age: %s", raw.SourceID, time.Since(raw.Timestamp))
			continue
		}

		start := time.Now()
		intent, rejection := p.deps.Extractor.Extract(ctx, raw)
		p.deps.Metrics.ObserveExtract(time.Since(start))

		if rejection != nil {
			p.handleRejection(ctx, raw, rejection)
			continue
		}
		p.appendJournal(schema.EventIntent, intent)
		if err := p.intents.Publish(ctx, intent); err != nil {
			return ignoreCanceled(err)
		}
	}
}

// handleRejection journals the outcome, retries transient failures within
// the attempt budget, and routes exhausted signals to the dead letter queue.
func (p *Pipeline) handleRejection(ctx context.Context, raw schema.RawSignal, rejection *signal.Rejection) {
	p.deps.Metrics.IncReject(rejection.Reason)
	p.appendJournal(schema.EventIntentRejected, intentRejectedEvent{
		SourceID: raw.SourceID,
		Channel:  raw.Channel,
		Reason:   rejection.Reason.String(),
		Detail:   rejection.Detail,
		At:       time.Now(),
	})

	if !rejection.Reason.Transient() {
		logs.Infof("signal rejected, source: %s reason: %s detail: %s",
			raw.SourceID, rejection.Reason, rejection.Detail)
		return
	}

	raw.Attempts++
	if raw.Attempts < p.deps.Extractor.MaxAttempts() {
		logs.Warnf("transient extraction failure, source: %s attempt: %d err: %s",
			raw.SourceID, raw.Attempts, rejection.Detail)
		if _, didEvict, err := p.inbound.PublishEvict(raw); err == nil && !didEvict {
			return
		}
		// requeue displaced a live signal or the queue is closed; fall through
	}

	dead := DeadLetter{Signal: raw, Reason: rejection.Reason.String(), Detail: rejection.Detail, At: time.Now()}
	if err := p.deadLetters.Publish(ctx, dead); err != nil {
		logs.Errorf("dead letter publish failed, source: %s err: %+v", raw.SourceID, err)
	}
}

func (p *Pipeline) runRisk(ctx context.Context) error {
	for {
		intent, err := p.intents.Receive(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}

		start := time.Now()
		plan, denial := p.deps.Governor.Evaluate(intent)
		p.deps.Metrics.ObserveRisk(time.Since(start))

		if denial != nil {
			p.deps.Metrics.IncDeny(denial.Reason)
			p.appendJournal(schema.EventDenial, denial)
			logs.Infof("intent denied, intent: %s symbol: %s reason: %s",
				denial.IntentID, denial.Symbol, denial.Reason)
			p.notify("warn", "intent denied",
				denial.Symbol+" intent "+denial.IntentID+" denied: "+denial.Reason.String())
			p.publishState()
			continue
		}

		if err := p.plans.Publish(ctx, plan); err != nil {
			// the approval reserved the symbol's in-flight slot; give it
			// back since no order will be placed
			p.deps.Book.Release(plan.Symbol)
			return ignoreCanceled(err)
		}
		p.notify("info", "intent approved",
			plan.Symbol+" "+plan.Side.String()+" "+plan.Quantity.String()+" plan "+plan.PlanID)
		p.publishState()
	}
}

func (p *Pipeline) runExecute(ctx context.Context) error {
	for {
		plan, err := p.plans.Receive(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}

		start := time.Now()
		record, err := p.deps.Engine.Submit(ctx, plan)
		p.deps.Metrics.ObserveSubmit(time.Since(start))
		if err != nil {
			logs.Errorf("submit failed, plan: %s symbol: %s err: %+v", plan.PlanID, plan.Symbol, err)
			p.notify("error", "order submission failed",
				"plan "+plan.PlanID+" on "+plan.Symbol+": "+err.Error())
			continue
		}
		logs.Infof("order submitted, order: %s symbol: %s side: %s qty: %s",
			record.OrderID, record.Symbol, record.Side, record.Quantity)
	}
}

func (p *Pipeline) runExchangeEvents(ctx context.Context) error {
	events := p.deps.Exchange.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.deps.Engine.HandleEvent(ctx, ev)
		}
	}
}

func (p *Pipeline) runDeadLetter(ctx context.Context) error {
	for {
		dead, err := p.deadLetters.Receive(ctx)
		if err != nil {
			return ignoreCanceled(err)
		}
		p.deps.Metrics.IncDeadLetter()
		logs.Errorf("dead letter, source: %s reason: %s detail: %s",
			dead.Signal.SourceID, dead.Reason, dead.Detail)
		p.notify("warn", "signal dead-lettered",
			"source "+dead.Signal.SourceID+" rejected: "+dead.Reason)
	}
}

func (p *Pipeline) runSnapshot(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.deps.Publisher.PublishState(p.Snapshot())
		}
	}
}

func (p *Pipeline) onOrderUpdate(record exec.OrderRecord) {
	p.deps.Metrics.IncOrderState(record.State)
	switch record.State {
	case schema.OrderStateFilled:
		position := p.deps.Book.Snapshot(record.Symbol)
		p.notify("info", "order filled",
			record.Symbol+" "+record.Side.String()+" "+record.FilledQuantity.String()+
				", net position "+position.NetQuantity.String())
	case schema.OrderStateCanceled:
		p.notify("warn", "order canceled",
			record.Symbol+" order "+record.OrderID+" canceled on the exchange")
	case schema.OrderStateRejected:
		p.notify("error", "order rejected",
			record.Symbol+" order "+record.OrderID+" rejected")
	}
	p.publishState()
}

func (p *Pipeline) notify(level, title, body string) {
	if p.deps.Notifier == nil {
		return
	}
	p.deps.Notifier.Notify(Notification{Level: level, Title: title, Body: body, Timestamp: time.Now()})
}

// publishState pushes a fresh snapshot to the observer hub on material
// state changes; the periodic snapshot stage covers the idle case.
func (p *Pipeline) publishState() {
	if p.deps.Publisher == nil {
		return
	}
	p.deps.Publisher.PublishState(p.Snapshot())
}

func (p *Pipeline) appendJournal(eventType schema.EventType, payload any) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.Append(eventType, payload); err != nil {
		logs.Errorf("journal append failed, event: %s err: %+v", eventType, err)
	}
}

func ignoreCanceled(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}
