package simulation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/provider"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/routing"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testHypothesis = "Distributed cognition emerges when specialized reasoning agents exchange structured messages"

func offlineGen(t *testing.T) *provider.Failover {
	t.Helper()
	off := provider.NewOffline(ecosystem.NewCatalog(), testHypothesis, 0)
	return provider.NewFailover(nil, off)
}

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Hypothesis == "" {
		opts.Hypothesis = testHypothesis
	}
	return New(opts, offlineGen(t), governor.New(0))
}

// drainEvents empties the buffered stream after a run finished.
func drainEvents(o *Orchestrator) []Event {
	var out []Event
	for {
		select {
		case ev := <-o.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []Event, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// waitEvent consumes the stream until an event of the wanted type shows
// up, discarding everything before it.
func waitEvent(t *testing.T, o *Orchestrator, eventType string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-o.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", eventType, timeout)
			return Event{}
		}
	}
}

// A full deterministic run in default mode. The analytic chain reaches
// DMAT's strict schema on tick 3 and META's command branch on tick 4,
// and the conclude directive on the final tick turns ARBITER's deferral
// habit into a ruling.
func TestRunDefaultModeOffline(t *testing.T) {
	o := newOrchestrator(t, Options{RunID: "run-default", Mode: ecosystem.ModeDefault, MaxTicks: 5})

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonArbiterRuling, reason)
	require.Equal(t, 5, o.Tick())

	// Seed plus 3+5+4+4+2 generated envelopes, walked by hand through
	// the default table.
	log := o.Log()
	require.Equal(t, 19, log.Len())
	require.Len(t, log.ForTick(1), 3)
	require.Len(t, log.ForTick(5), 2)

	var invalid []envelope.Envelope
	for _, env := range log.All() {
		require.Equal(t, envelope.ProvenanceOffline, env.Provenance)
		if !env.Validation.SchemaOK {
			invalid = append(invalid, env)
		}
	}
	require.Len(t, invalid, 1)
	assert.Equal(t, ecosystem.NodeDmat, invalid[0].Source)
	assert.Equal(t, 3, invalid[0].Tick)
	assert.Equal(t, schema.DmatObservationID, invalid[0].SchemaID)

	var ruling *envelope.Envelope
	for _, env := range log.ForTick(5) {
		if env.SchemaID == schema.ArbiterRulingID {
			e := env
			ruling = &e
		}
	}
	require.NotNil(t, ruling, "final tick should carry the ruling")
	assert.Equal(t, ecosystem.NodeArbiter, ruling.Source)
	assert.True(t, ruling.Validation.SchemaOK)

	var metaCut bool
	for _, a := range o.Emergence().Actions() {
		if a.Kind == envelope.AdaptiveLoopCut && a.Node == ecosystem.NodeMeta && a.Target == "DMAT" {
			metaCut = true
			assert.Equal(t, 4, a.Tick)
		}
	}
	assert.True(t, metaCut, "META's CUT_LOOP should be on record")

	trajectory := o.Emergence().Trajectory()
	require.Len(t, trajectory, 5)
	assert.Equal(t, 1, trajectory[0].Tick)
	assert.Greater(t, trajectory[0].Mean, 0.0)

	events := drainEvents(o)
	assert.Equal(t, 1, countEvents(events, "run_started"))
	assert.Equal(t, 5, countEvents(events, "tick_started"))
	assert.Equal(t, 19, countEvents(events, "node_output"))
	assert.Equal(t, 1, countEvents(events, "meta_command"))
	assert.Equal(t, 1, countEvents(events, "run_completed"))
}

// Without a conclude directive ARBITER keeps deferring, deferrals are
// absorbed by the engine, and the run drains its threads before the
// budget.
func TestRunEndsWhenThreadsDrain(t *testing.T) {
	o := newOrchestrator(t, Options{Mode: ecosystem.ModeDefault, MaxTicks: 20})

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonNoThreads, reason)
	assert.Equal(t, 6, o.Tick())
}

// The lucid-dream graph feeds ECHO back into INTU on purpose; within a
// few ticks the creative cluster revisits itself and suppression has to
// kick in instead of re-delivering.
func TestLoopSuppressionInLucidDream(t *testing.T) {
	o := newOrchestrator(t, Options{Mode: ecosystem.ModeLucidDream, MaxTicks: 6})

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.NotEqual(t, ReasonEthosViolation, reason)

	suppressions := 0
	for _, a := range o.Emergence().Actions() {
		if a.Kind == envelope.AdaptiveLoopCut && strings.Contains(a.Reason, "delivery suppressed") {
			suppressions++
		}
	}
	require.Greater(t, suppressions, 0, "the feedback edge must trip suppression")
	assert.Equal(t, suppressions, countEvents(drainEvents(o), "loop_detected"))
}

// scriptedGen returns canned contributions for every node except the
// ones the test overrides. Unregistered contribution ids validate
// vacuously, so the payloads route without schema noise.
type scriptedGen struct {
	overrides map[ecosystem.Node]provider.Output
}

func (s *scriptedGen) GenerateNodeOutput(_ context.Context, node ecosystem.Node, env envelope.Envelope, _ ecosystem.Mode, _ string) (provider.Output, error) {
	if out, ok := s.overrides[node]; ok {
		return out, nil
	}
	return provider.Output{
		SchemaID: schema.ContributionID(node),
		Payload: map[string]any{
			"content":    fmt.Sprintf("%s at tick %d", node, env.Tick),
			"confidence": 0.5,
		},
		Provenance: envelope.ProvenanceOffline,
	}, nil
}

func violationGen() *scriptedGen {
	return &scriptedGen{overrides: map[ecosystem.Node]provider.Output{
		ecosystem.NodeEthos: {
			SchemaID: schema.EthosVerdictID,
			Payload: map[string]any{
				"verdict":    schema.VerdictViolation,
				"grounds":    "the thread crossed a line",
				"confidence": 0.9,
			},
			Provenance: envelope.ProvenanceOffline,
		},
	}}
}

// fhiemdien routes the memory chain into INSIGHT and INSIGHT into ETHOS,
// so a violation verdict lands on tick 5 and ends the run there.
func TestEthosViolationTerminates(t *testing.T) {
	o := New(Options{Hypothesis: testHypothesis, Mode: ecosystem.ModeFhiemdien, MaxTicks: 10}, violationGen(), nil)

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonEthosViolation, reason)
	assert.Equal(t, 5, o.Tick())
}

// In a gatekeeper-downgraded mode the same verdict is logged but not
// terminal.
func TestEthosViolationIgnoredWhenDowngraded(t *testing.T) {
	o := New(Options{Hypothesis: testHypothesis, Mode: ecosystem.ModeLucidDream, MaxTicks: 4}, violationGen(), nil)

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonTickBudget, reason)

	var verdicts int
	for _, env := range o.Log().All() {
		if env.SchemaID == schema.EthosVerdictID {
			verdicts++
			assert.True(t, env.Validation.SchemaOK)
		}
	}
	require.Greater(t, verdicts, 0, "the verdict still belongs in the log")
}

// gatedGen blocks each generation until the test feeds it a token, which
// pins tick boundaries in place for the control-flow tests.
type gatedGen struct {
	gate chan struct{}
	took chan struct{}
}

func newGatedGen() *gatedGen {
	return &gatedGen{gate: make(chan struct{}), took: make(chan struct{}, 32)}
}

func (g *gatedGen) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, _ ecosystem.Mode, _ string) (provider.Output, error) {
	select {
	case <-ctx.Done():
		return provider.Output{}, ctx.Err()
	case <-g.gate:
	}
	select {
	case g.took <- struct{}{}:
	default:
	}
	return provider.Output{
		SchemaID: schema.ContributionID(node),
		Payload: map[string]any{
			"content":    fmt.Sprintf("%s at tick %d", node, env.Tick),
			"confidence": 0.5,
		},
		Provenance: envelope.ProvenanceOffline,
	}, nil
}

func (g *gatedGen) allow(n int) {
	for i := 0; i < n; i++ {
		g.gate <- struct{}{}
	}
}

func TestPauseParksBetweenTicks(t *testing.T) {
	gen := newGatedGen()
	o := New(Options{Hypothesis: testHypothesis, Mode: ecosystem.ModeDefault, MaxTicks: 3}, gen, nil)

	require.NoError(t, o.Play(context.Background()))
	waitEvent(t, o, "tick_started", 5*time.Second)

	// Pause lands mid-tick; the tick in flight still completes.
	require.NoError(t, o.Pause())
	gen.allow(3)
	for i := 0; i < 3; i++ {
		waitEvent(t, o, "node_output", 5*time.Second)
	}

	require.Equal(t, StatePaused, o.State())
	deadline := time.After(300 * time.Millisecond)
	for parked := false; !parked; {
		select {
		case ev := <-o.Events():
			require.NotEqual(t, "tick_started", ev.Type, "no tick may start while paused")
		case <-deadline:
			parked = true
		}
	}

	require.NoError(t, o.Resume())
	close(gen.gate)
	waitEvent(t, o, "run_completed", 5*time.Second)

	state, reason := o.Outcome()
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, ReasonTickBudget, reason)
}

func TestStopLogsInflightCalls(t *testing.T) {
	gen := newGatedGen()
	o := New(Options{Hypothesis: testHypothesis, Mode: ecosystem.ModeDefault, MaxTicks: 5}, gen, nil)

	require.NoError(t, o.Play(context.Background()))
	waitEvent(t, o, "tick_started", 5*time.Second)

	gen.allow(1)
	<-gen.took
	require.NoError(t, o.Stop())
	waitEvent(t, o, "run_completed", 5*time.Second)

	state, reason := o.Outcome()
	require.Equal(t, StateAborted, state)
	require.Equal(t, ReasonAborted, reason)
	require.ErrorIs(t, o.Err(), context.Canceled)

	// Seed plus the one call that was past the gate when Stop hit.
	assert.Equal(t, 2, o.Log().Len())
	assert.Len(t, o.Log().ForTick(1), 1)
}

func TestLifecycleGuards(t *testing.T) {
	o := newOrchestrator(t, Options{Mode: ecosystem.ModeDefault, MaxTicks: 3})

	require.Error(t, o.Pause())
	require.Error(t, o.Resume())
	require.Error(t, o.Stop())
	require.NoError(t, o.Reset())

	require.NoError(t, o.Run(context.Background()))
	firstRunID := o.Log().RunID()
	require.Error(t, o.Run(context.Background()), "terminal runs need a reset")

	require.NoError(t, o.Reset())
	require.Equal(t, StateIdle, o.State())
	require.NotEqual(t, firstRunID, o.Log().RunID())
	require.Equal(t, 0, o.Log().Len())

	require.NoError(t, o.Run(context.Background()))
	state, _ := o.Outcome()
	require.Equal(t, StateCompleted, state)
}

func TestSetDurationBounds(t *testing.T) {
	o := newOrchestrator(t, Options{MaxTicks: 12})

	require.Error(t, o.SetDuration(0))
	require.NoError(t, o.SetDuration(600))
	assert.Equal(t, 500, o.Snapshot().MaxTicks)
	require.NoError(t, o.SetDuration(3))
	assert.Equal(t, 3, o.Snapshot().MaxTicks)
}

// Beacon converges everything onto INSIGHT, which faces ARBITER on tick
// 3; with the budget set there the conclude directive forces a ruling.
func TestSetControlMode(t *testing.T) {
	o := newOrchestrator(t, Options{Mode: ecosystem.ModeDefault, MaxTicks: 3})

	require.Error(t, o.SetControlMode(ecosystem.Mode("warp")))
	require.NoError(t, o.SetControlMode(ecosystem.ModeBeacon))
	require.Equal(t, ecosystem.ModeBeacon, o.Mode())

	require.NoError(t, o.Run(context.Background()))
	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonArbiterRuling, reason)
	assert.Equal(t, 3, o.Tick())
}

func TestClearMemoryHook(t *testing.T) {
	o := newOrchestrator(t, Options{})
	require.Error(t, o.ClearMemory())

	cleared := false
	o2 := New(Options{Hypothesis: testHypothesis, ClearMemory: func() error {
		cleared = true
		return nil
	}}, offlineGen(t), nil)
	require.NoError(t, o2.ClearMemory())
	assert.True(t, cleared)
}

func TestQuotaFlipRecordsAction(t *testing.T) {
	o := newOrchestrator(t, Options{})

	o.onQuotaFlip(&fhierr.QuotaExceededError{Backend: "gemini", Detail: "requests per day"})

	actions := o.Emergence().Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, envelope.AdaptiveOfflineFlip, actions[0].Kind)
	assert.Equal(t, "gemini", actions[0].Target)
	assert.Equal(t, 1, countEvents(drainEvents(o), "mode_flip"))
}

// liveUntilTick serves generations from the wrapped engine until a given
// tick, then answers every call with a quota error, the way a live
// backend dies mid-run when the daily budget runs out.
type liveUntilTick struct {
	provider.Provider
	from int
}

func (l liveUntilTick) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (provider.Output, error) {
	if env.Tick >= l.from {
		return provider.Output{}, &fhierr.QuotaExceededError{Backend: "gemini", Detail: "requests per day"}
	}
	return l.Provider.GenerateNodeOutput(ctx, node, env, mode, directive)
}

// A quota death at tick 3 flips the whole run offline. Earlier ticks keep
// live provenance, the flip tick and everything after carry substituted
// provenance, and the stream itself is unchanged so the run still reaches
// its ruling on the final tick.
func TestRunCompletesOfflineAfterQuotaFlip(t *testing.T) {
	off := provider.NewOffline(ecosystem.NewCatalog(), testHypothesis, 0)
	gen := provider.NewFailover(liveUntilTick{Provider: off, from: 3}, off)
	o := New(Options{RunID: "run-quota", Hypothesis: testHypothesis, Mode: ecosystem.ModeDefault, MaxTicks: 5}, gen, governor.New(0))

	require.NoError(t, o.Run(context.Background()))

	state, reason := o.Outcome()
	require.Equal(t, StateCompleted, state)
	require.Equal(t, ReasonArbiterRuling, reason)
	require.Equal(t, 19, o.Log().Len())

	for _, env := range o.Log().All() {
		switch {
		case env.Tick == 0:
			assert.Equal(t, envelope.ProvenanceOffline, env.Provenance, "seed")
		case env.Tick < 3:
			assert.Equal(t, envelope.ProvenanceLive, env.Provenance, "tick %d", env.Tick)
		default:
			assert.Equal(t, envelope.ProvenanceSubstituted, env.Provenance, "tick %d", env.Tick)
		}
	}

	var flip *envelope.AdaptiveAction
	for _, a := range o.Emergence().Actions() {
		if a.Kind == envelope.AdaptiveOfflineFlip {
			b := a
			flip = &b
		}
	}
	require.NotNil(t, flip, "the flip should be on the adaptive record")
	assert.Equal(t, 3, flip.Tick)
	assert.Equal(t, "gemini", flip.Target)

	assert.True(t, o.Snapshot().Offline)
	assert.Equal(t, 1, countEvents(drainEvents(o), "mode_flip"))
}

func TestInWindow(t *testing.T) {
	trace := []string{"HUMAN", "PHI", "SCI", "DMAT"}

	// Span 0 scans the whole trace.
	assert.True(t, inWindow(trace, ecosystem.NodeHuman, 0))
	assert.False(t, inWindow(trace, ecosystem.NodeMeta, 0))

	// A short span forgets the early hops.
	assert.False(t, inWindow(trace, ecosystem.NodeHuman, 2))
	assert.True(t, inWindow(trace, ecosystem.NodeDmat, 2))
}

func TestCoalescePicksPrimaryInput(t *testing.T) {
	o := newOrchestrator(t, Options{})

	mk := func(to ecosystem.Node, prio envelope.Priority, trace ...string) delivery {
		return delivery{to: to, env: envelope.Envelope{Priority: prio, Trace: trace}}
	}
	pending := []delivery{
		mk(ecosystem.NodeInsight, envelope.PriorityMedium, "HUMAN", "PHI", "LOGOS"),
		mk(ecosystem.NodeInsight, envelope.PriorityHigh, "HUMAN", "INTU"),
		mk(ecosystem.NodePhi, envelope.PriorityMedium, "HUMAN"),
		mk(ecosystem.NodePhi, envelope.PriorityMedium, "HUMAN", "MEM", "ECHO"),
	}

	inputs := o.coalesce(pending)
	require.Len(t, inputs, 2)

	// Node enumeration order puts PHI before INSIGHT.
	assert.Equal(t, ecosystem.NodePhi, inputs[0].to)
	assert.Equal(t, []string{"HUMAN", "MEM", "ECHO"}, inputs[0].env.Trace, "deeper trace wins a priority tie")
	assert.Equal(t, ecosystem.NodeInsight, inputs[1].to)
	assert.Equal(t, envelope.PriorityHigh, inputs[1].env.Priority, "priority beats depth")
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, envelope.PriorityHigh, priorityFor(ecosystem.NodeMeta, schema.MetaCommandID))
	assert.Equal(t, envelope.PriorityHigh, priorityFor(ecosystem.NodeArbiter, schema.ArbiterRulingID))
	assert.Equal(t, envelope.PriorityLow, priorityFor(ecosystem.NodeEcho, schema.ContributionID(ecosystem.NodeEcho)))
	assert.Equal(t, envelope.PriorityMedium, priorityFor(ecosystem.NodePhi, schema.PhiReflectionID))
}

func TestApplyCommands(t *testing.T) {
	o := newOrchestrator(t, Options{Mode: ecosystem.ModeDefault})
	table := routing.TableForMode(ecosystem.ModeDefault)

	mk := func(to ecosystem.Node, trace ...string) delivery {
		return delivery{to: to, env: envelope.Envelope{Trace: trace}}
	}
	cmd := func(action, target string) envelope.Envelope {
		return envelope.Envelope{
			Source:   ecosystem.NodeMeta,
			SchemaID: schema.MetaCommandID,
			Payload:  map[string]any{"action": action, "target": target, "reason": "test intervention"},
		}
	}

	t.Run("cut_loop drops the named thread", func(t *testing.T) {
		pending := []delivery{
			mk(ecosystem.NodeMeta, "HUMAN", "SCI", "DMAT"),
			mk(ecosystem.NodeInsight, "HUMAN", "PHI", "LOGOS"),
		}
		out := o.applyCommand(3, cmd(schema.ActionCutLoop, "DMAT"), table, 0, pending)
		require.Len(t, out, 1)
		assert.Equal(t, ecosystem.NodeInsight, out[0].to)
	})

	t.Run("reroute retargets through the fallback", func(t *testing.T) {
		pending := []delivery{
			mk(ecosystem.NodeWeaver, "HUMAN", "MUSE", "POET"),
			mk(ecosystem.NodeArbiter, "HUMAN", "WEAVER", "INSIGHT"),
			mk(ecosystem.NodeMuse, "HUMAN", "POET", "INSIGHT"),
		}
		out := o.applyCommand(4, cmd(schema.ActionReroute, "POET"), table, 0, pending)
		require.Len(t, out, 2, "a reroute that would revisit the fallback is dropped")
		assert.Equal(t, table.Fallback(), out[0].to)
		assert.Equal(t, ecosystem.NodeArbiter, out[1].to, "threads off the target stay put")
	})

	t.Run("throttle raises the governor interval", func(t *testing.T) {
		gov := governor.New(0)
		og := New(Options{Hypothesis: testHypothesis}, offlineGen(t), gov)
		og.applyCommand(5, cmd(schema.ActionThrottle, "SCI"), table, 0, nil)
		assert.Equal(t, 500*time.Millisecond, gov.Interval())
		og.applyCommand(6, cmd(schema.ActionThrottle, "SCI"), table, 0, nil)
		assert.Equal(t, time.Second, gov.Interval())
	})

	kinds := make([]envelope.AdaptiveActionKind, 0, 2)
	for _, a := range o.Emergence().Actions() {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []envelope.AdaptiveActionKind{envelope.AdaptiveLoopCut, envelope.AdaptiveReroute}, kinds)
}

func TestSnapshotShape(t *testing.T) {
	o := newOrchestrator(t, Options{RunID: "snap", Mode: ecosystem.ModeBeacon, MaxTicks: 3})

	snap := o.Snapshot()
	assert.Equal(t, "snap", snap.RunID)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, ecosystem.ModeBeacon, snap.Mode)
	assert.True(t, snap.Offline, "pure offline providers report offline")
	assert.Equal(t, envelope.SystemStatus{Health: 1, Stability: 1}, snap.Status)

	require.NoError(t, o.Run(context.Background()))
	snap = o.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 3, snap.Tick)
	assert.NotEmpty(t, snap.Recent)
	assert.Greater(t, snap.Messages, 0)
	assert.Empty(t, snap.Activity, "terminal runs carry no transient flags")
}
