package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// StageState tracks the supervision lifecycle of one stage:
// Running -> Failed -> Backoff(n) -> Running | Degraded.
type StageState uint16

const (
	StageStateIdle StageState = iota
	StageStateRunning
	StageStateBackoff
	StageStateDegraded
	StageStateStopped
)

func (s StageState) String() string {
	switch s {
	case StageStateRunning:
		return "running"
	case StageStateBackoff:
		return "backoff"
	case StageStateDegraded:
		return "degraded"
	case StageStateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Stage is one long-running pipeline unit. Run returns nil only on clean
// shutdown; any other return is a fault and triggers a supervised restart.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) error
}

func (s StageFunc) Name() string                  { return s.StageName }
func (s StageFunc) Run(ctx context.Context) error { return s.Fn(ctx) }

// StageStatus is a point-in-time view of one supervised stage.
type StageStatus struct {
	Name      string     `json:"name"`
	State     StageState `json:"state"`
	Restarts  int        `json:"restarts"`
	LastError string     `json:"lastError,omitempty"`
}

// SupervisorConfig bounds the restart policy.
type SupervisorConfig struct {
	MaxRestarts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Supervisor owns stage lifecycles. A faulted stage restarts with
// exponential backoff; exceeding the restart budget marks it degraded and
// raises a fatal operational alert while the other stages keep running.
type Supervisor struct {
	cfg    SupervisorConfig
	stages []Stage

	mu       sync.Mutex
	statuses map[string]*StageStatus

	onAlert  func(stage string, err error)
	onChange func()

	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor with the given restart policy.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		cfg:      cfg.withDefaults(),
		statuses: make(map[string]*StageStatus),
	}
}

// Add registers a stage before Run.
func (s *Supervisor) Add(stage Stage) {
	s.stages = append(s.stages, stage)
	s.statuses[stage.Name()] = &StageStatus{Name: stage.Name()}
}

// OnAlert registers the fatal-alert hook, fired once per degraded stage.
func (s *Supervisor) OnAlert(fn func(stage string, err error)) { s.onAlert = fn }

// OnChange registers a hook fired on every stage state transition.
func (s *Supervisor) OnChange(fn func()) { s.onChange = fn }

// Run launches every stage and blocks until all have exited.
func (s *Supervisor) Run(ctx context.Context) {
	for _, stage := range s.stages {
		s.wg.Add(1)
		go func(stage Stage) {
			defer s.wg.Done()
			s.supervise(ctx, stage)
		}(stage)
	}
	s.wg.Wait()
}

// Statuses returns a snapshot of all stage states.
func (s *Supervisor) Statuses() []StageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageStatus, 0, len(s.stages))
	for _, stage := range s.stages {
		out = append(out, *s.statuses[stage.Name()])
	}
	return out
}

func (s *Supervisor) supervise(ctx context.Context, stage Stage) {
	restarts := 0
	for {
		s.setState(stage.Name(), StageStateRunning, restarts, nil)
		err := s.runOnce(ctx, stage)

		if ctx.Err() != nil {
			s.setState(stage.Name(), StageStateStopped, restarts, err)
			return
		}
		if err == nil {
			s.setState(stage.Name(), StageStateStopped, restarts, nil)
			return
		}

		restarts++
		if restarts > s.cfg.MaxRestarts {
			s.setState(stage.Name(), StageStateDegraded, restarts, err)
			logs.Errorf("stage degraded, stage: %s restarts: %d err: %+v", stage.Name(), restarts, err)
			if s.onAlert != nil {
				s.onAlert(stage.Name(), err)
			}
			return
		}

		wait := s.backoff(restarts)
		s.setState(stage.Name(), StageStateBackoff, restarts, err)
		logs.Warnf("stage faulted, restarting, stage: %s restart: %d wait: %s err: %+v",
			stage.Name(), restarts, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.setState(stage.Name(), StageStateStopped, restarts, err)
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return stage.Run(ctx)
}

func (s *Supervisor) backoff(restart int) time.Duration {
	wait := s.cfg.BackoffMin
	for i := 1; i < restart; i++ {
		wait *= 2
		if wait >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if wait > s.cfg.BackoffMax {
		return s.cfg.BackoffMax
	}
	return wait
}

func (s *Supervisor) setState(name string, state StageState, restarts int, err error) {
	s.mu.Lock()
	status := s.statuses[name]
	status.State = state
	status.Restarts = restarts
	if err != nil {
		status.LastError = err.Error()
	}
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange()
	}
}
