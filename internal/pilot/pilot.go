// Package pilot contains the cycle orchestrator: the scheduler and state
// machine that ties opportunity discovery, capital, credentials, publication
// and approvals together.
package pilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dropship-autopilot/internal/events"
	"dropship-autopilot/internal/interfaces"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/types"
)

var (
	// ErrAlreadyRunning is returned by Start when the autopilot is not
	// stopped.
	ErrAlreadyRunning = errors.New("autopilot already running")

	// ErrAlreadyStopped is returned by Stop when the autopilot is stopped.
	ErrAlreadyStopped = errors.New("autopilot already stopped")

	// ErrStopInProgress is returned by Stop while a previous stop is still
	// waiting for the in-flight cycle.
	ErrStopInProgress = errors.New("stop already in progress")

	// ErrCycleInProgress is returned when a cycle is requested while one is
	// executing. Only one cycle runs at a time per autopilot instance.
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// ResultStore persists the append-only cycle history.
type ResultStore interface {
	Append(ctx context.Context, res types.CycleResult) error
	Aggregate(ctx context.Context) (types.PerformanceReport, error)
}

// ConfigStore persists the replace-whole CycleConfig row.
type ConfigStore interface {
	Get(ctx context.Context) (types.CycleConfig, error)
	Replace(ctx context.Context, cfg types.CycleConfig) error
}

// AttemptStore persists publish attempts.
type AttemptStore interface {
	Insert(ctx context.Context, a types.PublishAttempt) error
}

// Approvals is the slice of the approval queue the orchestrator needs.
type Approvals interface {
	Enqueue(ctx context.Context, opp types.Opportunity) (types.PendingApproval, error)
	Get(ctx context.Context, id string) (types.PendingApproval, error)
	// MarkPublished records that an approved opportunity's listing was
	// created. At most one call per approval succeeds.
	MarkPublished(ctx context.Context, id string) error
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	UserID    string
	Source    interfaces.OpportunitySource
	Gateway   interfaces.PublishGateway
	Resolver  interfaces.CredentialResolver
	Ledger    interfaces.CapitalLedger
	Approvals Approvals
	Results   ResultStore
	Configs   ConfigStore
	Attempts  AttemptStore
	Bus       *events.Bus

	// CycleDeadline bounds one cycle's total duration.
	CycleDeadline time.Duration
}

// Pilot is the autopilot instance for one user. All control operations only
// flip flags under the mutex; they never block on network I/O, so start,
// stop and config updates are honored promptly even while a cycle is
// mid-flight.
type Pilot struct {
	deps Deps

	// pubMu serializes PublishApproved calls.
	pubMu sync.Mutex

	mu            sync.Mutex
	state         types.State
	cfg           types.CycleConfig
	queryIdx      int
	lastResult    *types.CycleResult
	stopCh        chan struct{}
	doneCh        chan struct{}
	timerActive   bool
	stopRequested bool
}

var _ interfaces.Autopilot = (*Pilot)(nil)

// New creates a stopped autopilot with the given starting config. The config
// is persisted so a restart resumes from the same parameters.
func New(ctx context.Context, deps Deps, cfg types.CycleConfig) (*Pilot, error) {
	if deps.CycleDeadline <= 0 {
		deps.CycleDeadline = 5 * time.Minute
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(16)
	}

	p := &Pilot{
		deps:  deps,
		state: types.StateStopped,
		cfg:   cfg,
	}
	if err := deps.Configs.Replace(ctx, cfg); err != nil {
		return nil, err
	}
	p.deps.Ledger.SetWorkingCapital(cfg.WorkingCapital)
	return p, nil
}

// Resume creates a stopped autopilot from the persisted config.
func Resume(ctx context.Context, deps Deps) (*Pilot, error) {
	cfg, err := deps.Configs.Get(ctx)
	if err != nil {
		return nil, err
	}
	return New(ctx, deps, cfg)
}

// Events exposes the instance's event bus for subscribers.
func (p *Pilot) Events() *events.Bus {
	return p.deps.Bus
}

// Start schedules recurring cycles at the configured interval.
func (p *Pilot) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != types.StateStopped {
		return ErrAlreadyRunning
	}

	p.state = types.StateIdle
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.timerActive = true
	p.stopRequested = false
	go p.loop(p.stopCh, p.doneCh)

	logger.Info(context.Background(), "Autopilot started",
		"interval_minutes", p.cfg.CycleIntervalMinutes,
		"publication_mode", string(p.cfg.PublicationMode),
	)
	p.deps.Bus.Publish(events.Event{Type: events.TypeStarted})
	return nil
}

// Stop halts scheduling. An in-flight cycle finishes first; stop only
// prevents new cycles from starting.
func (p *Pilot) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case types.StateStopped:
		return ErrAlreadyStopped
	case types.StateStopping:
		return ErrStopInProgress
	case types.StateRunning:
		p.state = types.StateStopping
		p.stopRequested = true
		p.cancelTimerLocked()
		logger.Info(context.Background(), "Stop requested; finishing in-flight cycle")
		return nil
	default: // IDLE
		p.cancelTimerLocked()
		p.state = types.StateStopped
		logger.Info(context.Background(), "Autopilot stopped")
		p.deps.Bus.Publish(events.Event{Type: events.TypeStopped})
		return nil
	}
}

func (p *Pilot) cancelTimerLocked() {
	if p.timerActive {
		p.timerActive = false
		close(p.stopCh)
	}
}

// UpdateConfig replaces the whole configuration. It is allowed in any state
// and takes effect starting with the next cycle; an in-flight cycle keeps
// the snapshot it started with.
func (p *Pilot) UpdateConfig(ctx context.Context, cfg types.CycleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := p.deps.Configs.Replace(ctx, cfg); err != nil {
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()

	logger.Info(ctx, "Configuration replaced",
		"enabled", cfg.Enabled,
		"interval_minutes", cfg.CycleIntervalMinutes,
		"publication_mode", string(cfg.PublicationMode),
		"working_capital", cfg.WorkingCapital.String(),
	)
	p.deps.Bus.Publish(events.Event{Type: events.TypeConfigUpdated, Config: &cfg})
	return nil
}

// Status returns the current state, config and last cycle result.
func (p *Pilot) Status() types.AutopilotStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := types.AutopilotStatus{
		State:  p.state,
		Config: p.cfg,
	}
	if p.lastResult != nil {
		res := *p.lastResult
		status.LastResult = &res
	}
	return status
}

// PerformanceReport aggregates the full cycle history.
func (p *Pilot) PerformanceReport(ctx context.Context) (types.PerformanceReport, error) {
	return p.deps.Results.Aggregate(ctx)
}

// RunSingleCycle runs one cycle synchronously, independent of the timer but
// subject to the state machine: it fails while another cycle is executing.
func (p *Pilot) RunSingleCycle(ctx context.Context, query string) (*types.CycleResult, error) {
	return p.runCycle(ctx, query, true)
}

// loop drives timer cycles until the stop channel closes. The interval is
// re-read each iteration so config updates apply without a restart.
func (p *Pilot) loop(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		p.mu.Lock()
		interval := time.Duration(p.cfg.CycleIntervalMinutes) * time.Minute
		p.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := p.runCycle(context.Background(), "", false); err != nil {
				if errors.Is(err, ErrCycleInProgress) {
					logger.Warn(context.Background(), "Timer tick skipped; a cycle is already executing")
				} else {
					logger.ErrorWithErr(context.Background(), "Scheduled cycle failed to start", err)
				}
			}
		}
	}
}

// beginCycle transitions into RUNNING, remembering where to return to.
func (p *Pilot) beginCycle() (prev types.State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == types.StateRunning || p.state == types.StateStopping {
		return "", ErrCycleInProgress
	}
	prev = p.state
	p.state = types.StateRunning
	return prev, nil
}

// endCycle leaves RUNNING. A stop requested mid-cycle wins over returning to
// the previous state.
func (p *Pilot) endCycle(prev types.State, res *types.CycleResult) {
	p.mu.Lock()
	if res != nil {
		p.lastResult = res
	}
	stopped := p.stopRequested
	if stopped {
		p.stopRequested = false
		p.state = types.StateStopped
	} else if prev == types.StateIdle && p.timerActive {
		p.state = types.StateIdle
	} else {
		p.state = types.StateStopped
	}
	p.mu.Unlock()

	if stopped {
		logger.Info(context.Background(), "Autopilot stopped after in-flight cycle")
		p.deps.Bus.Publish(events.Event{Type: events.TypeStopped})
	}
}

// snapshotConfig copies the config for one cycle and advances the query
// rotation when no explicit query was given.
func (p *Pilot) snapshotConfig(explicitQuery string) (types.CycleConfig, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.cfg
	cfg.SearchQueries = append([]string(nil), p.cfg.SearchQueries...)

	query := explicitQuery
	if query == "" && len(cfg.SearchQueries) > 0 {
		query = cfg.SearchQueries[p.queryIdx%len(cfg.SearchQueries)]
		p.queryIdx++
	}
	return cfg, query
}
