// Package simulation runs the tick loop: it selects the nodes due each
// tick, fans provider calls out concurrently, validates and logs every
// envelope, routes the results through the active table, and stops on a
// tick budget, a terminal ruling, or an ethics violation. The run log,
// emergence log, and status tracker it maintains are the inputs to
// post-run analysis.
package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/config"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/provider"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/routing"
	"github.com/google/uuid"
)

// RunState is the lifecycle position of one run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
)

// TerminalReason records why a run stopped advancing.
type TerminalReason string

const (
	ReasonTickBudget     TerminalReason = "tick_budget"
	ReasonArbiterRuling  TerminalReason = "arbiter_ruling"
	ReasonEthosViolation TerminalReason = "ethos_violation"
	ReasonNoThreads      TerminalReason = "no_active_threads"
	ReasonAborted        TerminalReason = "aborted"
)

// Event is one entry on the UI event stream.
type Event struct {
	Type      string    `json:"type"` // run_started, tick_started, node_output, loop_detected, meta_command, mode_flip, run_completed
	Timestamp time.Time `json:"timestamp"`
	Tick      int       `json:"tick"`
	Node      string    `json:"node,omitempty"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// NodeActivity is the per-node transient flag set the UI renders while a
// tick is in flight.
type NodeActivity struct {
	Processing bool `json:"processing"`
	Sending    bool `json:"sending"`
	Receiving  bool `json:"receiving"`
}

// Snapshot is a point-in-time view of the run for the UI boundary.
type Snapshot struct {
	RunID    string                  `json:"run_id"`
	State    RunState                `json:"state"`
	Reason   TerminalReason          `json:"reason,omitempty"`
	Tick     int                     `json:"tick"`
	MaxTicks int                     `json:"max_ticks"`
	Mode     ecosystem.Mode          `json:"mode"`
	Offline  bool                    `json:"offline"`
	Status   envelope.SystemStatus   `json:"status"`
	Messages int                     `json:"messages"`
	Recent   []envelope.Envelope     `json:"recent"`
	Activity map[string]NodeActivity `json:"activity"`
}

// Generator is the slice of the provider surface the tick loop drives.
// *provider.Failover satisfies it; tests substitute scripted fakes.
type Generator interface {
	GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (provider.Output, error)
}

// quotaNotifier is implemented by generators that flip run-wide on quota
// exhaustion. The orchestrator hooks the flip to stamp it with the
// current tick.
type quotaNotifier interface {
	SetOnQuota(func(*fhierr.QuotaExceededError))
}

// offlineReporter is implemented by generators that can say whether the
// live backend is currently bypassed.
type offlineReporter interface {
	OfflineActive() bool
}

// Options configures one orchestrator.
type Options struct {
	RunID      string
	Hypothesis string
	Mode       ecosystem.Mode
	MaxTicks   int

	// Trailing envelope window for health/stability scoring
	StatusWindow int
	// EMA smoothing for the stability score
	Alpha float64
	// Loop suppression span override; 0 keeps each mode's own window
	LoopWindow int
	// Suppressed share of a tick's deliveries that escalates to META
	StallShare float64

	// Event channel capacity
	EventBuffer int

	// ClearMemory is invoked by the ClearMemory command when a run
	// memory store is attached.
	ClearMemory func() error
}

// OptionsFromConfig maps the simulation config block onto run options.
// Hypothesis and run id still need to be filled in per run.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:         ecosystem.ParseMode(cfg.Simulation.DefaultMode),
		MaxTicks:     cfg.Simulation.MaxTicks,
		StatusWindow: cfg.Simulation.StatusWindow,
		Alpha:        cfg.Simulation.ConfidenceAlpha,
		LoopWindow:   cfg.Simulation.LoopWindow,
		StallShare:   cfg.Simulation.StallShare,
	}
}

// Orchestrator drives one run from seed injection to a terminal state.
// All mutable run state sits behind mu; the run log, emergence log, and
// status tracker carry their own locks and are safe to read mid-run.
type Orchestrator struct {
	opts Options
	gen  Generator
	gov  *governor.Governor

	mu         sync.RWMutex
	state      RunState
	reason     TerminalReason
	tick       int
	maxTicks   int
	mode       ecosystem.Mode
	table      *routing.Table
	pending    []delivery
	remediate  string
	activity   map[ecosystem.Node]NodeActivity
	loopTicks  []int
	cancelFunc context.CancelFunc
	lastErr    error

	log       *envelope.RunLog
	emergence *envelope.EmergenceLog
	status    *envelope.StatusTracker

	nodeOrder map[ecosystem.Node]int
	events    chan Event
}

// New builds an orchestrator in the Idle state. gov may be nil when no
// live pacing is in play; THROTTLE commands then only log.
func New(opts Options, gen Generator, gov *governor.Governor) *Orchestrator {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.MaxTicks < 1 {
		opts.MaxTicks = 12
	}
	if opts.MaxTicks > 500 {
		opts.MaxTicks = 500
	}
	if !opts.Mode.Valid() {
		opts.Mode = ecosystem.ModeDefault
	}
	if opts.StatusWindow < 1 {
		opts.StatusWindow = 24
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 256
	}

	order := make(map[ecosystem.Node]int, len(ecosystem.AllNodes()))
	for i, n := range ecosystem.AllNodes() {
		order[n] = i
	}

	o := &Orchestrator{
		opts:      opts,
		gen:       gen,
		gov:       gov,
		state:     StateIdle,
		maxTicks:  opts.MaxTicks,
		mode:      opts.Mode,
		table:     routing.TableForMode(opts.Mode),
		activity:  make(map[ecosystem.Node]NodeActivity),
		log:       envelope.NewRunLog(opts.RunID),
		emergence: envelope.NewEmergenceLog(),
		status:    envelope.NewStatusTracker(opts.StatusWindow, opts.Alpha),
		nodeOrder: order,
		events:    make(chan Event, opts.EventBuffer),
	}
	if qn, ok := gen.(quotaNotifier); ok {
		qn.SetOnQuota(o.onQuotaFlip)
	}
	return o
}

// Run executes the tick loop until a terminal state. It blocks; callers
// wanting the UI command surface start it through Play. Pause parks the
// loop between ticks, cancellation aborts after in-flight calls finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("run already %s, reset first", st)
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel
	o.state = StateRunning
	o.tick = 0
	runID := o.log.RunID()
	mode := o.mode
	maxTicks := o.maxTicks
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.cancelFunc = nil
		o.mu.Unlock()
	}()

	logging.Run("run %s starting: mode=%s max_ticks=%d", runID, mode, maxTicks)
	logging.Audit().RunStart(runID, mode.String(), maxTicks)
	o.emit("run_started", 0, "", o.opts.Hypothesis, nil)

	o.injectSeed()

	for {
		select {
		case <-ctx.Done():
			return o.finish(StateAborted, ReasonAborted, ctx.Err())
		default:
		}

		o.mu.RLock()
		paused := o.state == StatePaused
		tick := o.tick
		budget := o.maxTicks
		waiting := len(o.pending)
		o.mu.RUnlock()

		if paused {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if tick >= budget {
			return o.finish(StateCompleted, ReasonTickBudget, nil)
		}
		if waiting == 0 {
			return o.finish(StateCompleted, ReasonNoThreads, nil)
		}

		if reason := o.runTick(ctx, tick+1); reason != "" {
			return o.finish(StateCompleted, reason, nil)
		}
	}
}

// finish records the terminal state and closes out the audit trail. The
// ctx error is passed through so callers see why an abort happened.
func (o *Orchestrator) finish(state RunState, reason TerminalReason, err error) error {
	o.mu.Lock()
	o.state = state
	o.reason = reason
	o.lastErr = err
	tick := o.tick
	runID := o.log.RunID()
	o.activity = make(map[ecosystem.Node]NodeActivity)
	o.mu.Unlock()

	logging.Run("run %s %s after %d ticks (%s)", runID, state, tick, reason)
	logging.Audit().RunEnd(runID, state == StateAborted, string(reason), tick)
	o.emit("run_completed", tick, "", fmt.Sprintf("run %s: %s", state, reason), nil)
	return err
}

// Play starts an idle run on a background goroutine or resumes a paused
// one. Completion surfaces on the event stream; a swallowed run error is
// kept on Err.
func (o *Orchestrator) Play(ctx context.Context) error {
	o.mu.RLock()
	st := o.state
	o.mu.RUnlock()

	switch st {
	case StatePaused:
		return o.Resume()
	case StateIdle:
		go func() {
			if err := o.Run(ctx); err != nil {
				logging.RunDebug("background run ended: %v", err)
			}
		}()
		return nil
	default:
		return fmt.Errorf("cannot play from state %s", st)
	}
}

// Pause parks the loop at the next tick boundary. The tick in flight
// still completes and logs.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("cannot pause from state %s", o.state)
	}
	o.state = StatePaused
	logging.Run("run %s paused at tick %d", o.log.RunID(), o.tick)
	return nil
}

// Resume continues a paused run.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("cannot resume from state %s", o.state)
	}
	o.state = StateRunning
	logging.Run("run %s resumed at tick %d", o.log.RunID(), o.tick)
	return nil
}

// Stop aborts a running or paused run. In-flight provider calls finish
// and log before the loop exits.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelFunc == nil {
		return fmt.Errorf("no run in progress")
	}
	o.cancelFunc()
	return nil
}

// Reset returns a terminal orchestrator to Idle with a fresh run log and
// run id. Stop the run first; resetting mid-run would race the loop.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning || o.state == StatePaused {
		return fmt.Errorf("cannot reset while %s, stop the run first", o.state)
	}
	o.state = StateIdle
	o.reason = ""
	o.tick = 0
	o.pending = nil
	o.remediate = ""
	o.loopTicks = nil
	o.lastErr = nil
	o.activity = make(map[ecosystem.Node]NodeActivity)
	o.log = envelope.NewRunLog(uuid.NewString())
	o.emergence = envelope.NewEmergenceLog()
	o.status.Reset()
	logging.Run("orchestrator reset, next run id %s", o.log.RunID())
	return nil
}

// ClearMemory forwards the UI command to the attached run memory store.
func (o *Orchestrator) ClearMemory() error {
	if o.opts.ClearMemory == nil {
		return fmt.Errorf("no memory store attached")
	}
	return o.opts.ClearMemory()
}

// SetDuration adjusts the tick budget. Shrinking it below the current
// tick ends the run at the next boundary.
func (o *Orchestrator) SetDuration(ticks int) error {
	if ticks < 1 {
		return fmt.Errorf("duration must be at least 1 tick, got %d", ticks)
	}
	if ticks > 500 {
		ticks = 500
	}
	o.mu.Lock()
	o.maxTicks = ticks
	o.mu.Unlock()
	logging.Run("tick budget now %d", ticks)
	return nil
}

// SetControlMode switches the routing table and candidate resolution for
// every tick that follows. The tick in flight finishes under the old
// mode.
func (o *Orchestrator) SetControlMode(mode ecosystem.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown control mode %q", mode)
	}
	o.mu.Lock()
	prev := o.mode
	o.mode = mode
	o.table = routing.TableForMode(mode)
	tick := o.tick
	o.mu.Unlock()

	if prev != mode {
		logging.Run("control mode %s -> %s at tick %d", prev, mode, tick)
		o.emit("mode_flip", tick, "", fmt.Sprintf("control mode now %s", mode), nil)
	}
	return nil
}

// onQuotaFlip is registered on quota-aware generators. It fires on the
// generation goroutine that first observed the exhausted quota.
func (o *Orchestrator) onQuotaFlip(q *fhierr.QuotaExceededError) {
	o.mu.RLock()
	tick := o.tick
	o.mu.RUnlock()

	logging.Run("provider quota exhausted at tick %d, run continues offline: %v", tick, q)
	logging.Audit().QuotaFlip(tick, q.Backend)
	o.emergence.RecordAction(envelope.AdaptiveAction{
		Tick:   tick,
		Kind:   envelope.AdaptiveOfflineFlip,
		Target: q.Backend,
		Reason: q.Error(),
	})
	o.emit("mode_flip", tick, "", "provider flipped offline: "+q.Error(), nil)
}

// Events returns the buffered event stream. Slow consumers lose events
// rather than stalling the loop.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) emit(eventType string, tick int, node, message string, data any) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Tick:      tick,
		Node:      node,
		Message:   message,
		Data:      data,
	}
	select {
	case o.events <- ev:
	default:
	}
}

// Snapshot assembles the UI view of the run.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	activity := make(map[string]NodeActivity, len(o.activity))
	for n, a := range o.activity {
		activity[n.String()] = a
	}
	offline := false
	if r, ok := o.gen.(offlineReporter); ok {
		offline = r.OfflineActive()
	}
	return Snapshot{
		RunID:    o.log.RunID(),
		State:    o.state,
		Reason:   o.reason,
		Tick:     o.tick,
		MaxTicks: o.maxTicks,
		Mode:     o.mode,
		Offline:  offline,
		Status:   o.status.Current(),
		Messages: o.log.Len(),
		Recent:   o.log.Tail(20),
		Activity: activity,
	}
}

// State returns the current run state.
func (o *Orchestrator) State() RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Outcome returns the terminal state and reason once the run stops.
func (o *Orchestrator) Outcome() (RunState, TerminalReason) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state, o.reason
}

// Tick returns the last tick that started.
func (o *Orchestrator) Tick() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tick
}

// Mode returns the active control mode.
func (o *Orchestrator) Mode() ecosystem.Mode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mode
}

// Err returns the error a background run ended with, if any.
func (o *Orchestrator) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

// Log exposes the append-only run log for analysis and persistence.
func (o *Orchestrator) Log() *envelope.RunLog {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.log
}

// Emergence exposes the emergence log for post-run analysis.
func (o *Orchestrator) Emergence() *envelope.EmergenceLog {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.emergence
}
