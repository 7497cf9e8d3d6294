package simulation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/routing"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
	"golang.org/x/sync/errgroup"
)

// delivery is one envelope awaiting consumption by a node on the next
// tick. The envelope is a private clone; context markers stamped on it
// never touch the logged original.
type delivery struct {
	to  ecosystem.Node
	env envelope.Envelope
}

// injectSeed logs tick 0: the HUMAN node hands the hypothesis to the
// ecosystem and the seed's routed destinations become tick 1's selection.
func (o *Orchestrator) injectSeed() {
	o.mu.Lock()
	table := o.table
	mode := o.mode
	maxTicks := o.maxTicks
	o.mu.Unlock()

	payload := map[string]any{
		"hypothesis":      o.opts.Hypothesis,
		"mode":            mode.String(),
		"requested_ticks": maxTicks,
	}
	seed := envelope.Envelope{
		ID:           envelope.NewID(),
		Tick:         0,
		Source:       ecosystem.NodeHuman,
		Destinations: table.Resolve(ecosystem.NodeHuman),
		Payload:      payload,
		SchemaID:     schema.SeedID,
		Priority:     envelope.PriorityHigh,
		Validation:   schema.Validate(schema.SeedID, payload),
		Trace:        []string{ecosystem.NodeHuman.String()},
		Provenance:   envelope.ProvenanceOffline,
	}

	if err := o.log.Append(seed); err != nil {
		logging.Run("seed append failed: %v", err)
		return
	}
	o.emergence.RecordEnvelope(seed)
	logging.Audit().EnvelopeEmit(0, seed.Source.String(), seed.SchemaID, seed.Validation.SchemaOK)
	o.emit("node_output", 0, seed.Source.String(), seed.SchemaID, nil)

	pending := make([]delivery, 0, len(seed.Destinations))
	for _, dest := range seed.Destinations {
		pending = append(pending, delivery{to: dest, env: seed.Clone()})
	}

	o.mu.Lock()
	o.pending = pending
	o.markReceiving(pending)
	o.mu.Unlock()

	logging.Tick("seed routed to %d nodes", len(pending))
}

// runTick executes one full Select, Generate, Validate, Route, Log,
// Advance cycle. Every envelope of this tick exists and is logged before
// the method returns. A non-empty reason stops the run.
func (o *Orchestrator) runTick(ctx context.Context, tick int) TerminalReason {
	started := time.Now()

	o.mu.Lock()
	o.tick = tick
	inputs := o.coalesce(o.pending)
	o.pending = nil
	mode := o.mode
	table := o.table
	budget := o.maxTicks
	remediate := o.remediate
	o.remediate = ""
	o.activity = make(map[ecosystem.Node]NodeActivity)
	for _, in := range inputs {
		o.activity[in.to] = NodeActivity{Processing: true}
	}
	o.mu.Unlock()

	finalTick := tick >= budget
	span := o.loopSpan(mode)

	active := make([]string, 0, len(inputs))
	for _, in := range inputs {
		active = append(active, in.to.String())
	}
	logging.Tick("tick %d: %d nodes due (%s)", tick, len(inputs), strings.Join(active, ", "))
	logging.Audit().TickStart(tick, active)
	o.emit("tick_started", tick, "", fmt.Sprintf("%d nodes due", len(inputs)), active)

	// Generate concurrently. Outputs collect under a mutex so one slow
	// or cancelled call never blocks a sibling from landing.
	var (
		resMu   sync.Mutex
		results []envelope.Envelope
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, in := range inputs {
		in := in
		eg.Go(func() error {
			env := in.env
			directive := ""
			if finalTick && in.to == ecosystem.NodeArbiter {
				directive = "conclude: tick budget reached"
				env.Arbitration = "final tick, a ruling is required"
			}
			if remediate != "" && in.to == ecosystem.NodeMeta {
				env.Remediation = remediate
			}

			out, err := o.gen.GenerateNodeOutput(egCtx, in.to, env, mode, directive)
			if err != nil {
				// Only cancellation escapes the provider layer.
				logging.TickDebug("tick %d: generation for %s halted: %v", tick, in.to, err)
				return nil
			}

			built := envelope.Envelope{
				ID:           envelope.NewID(),
				Tick:         tick,
				Source:       in.to,
				Destinations: table.Resolve(in.to),
				Payload:      out.Payload,
				SchemaID:     out.SchemaID,
				Priority:     priorityFor(in.to, out.SchemaID),
				Validation:   schema.Validate(out.SchemaID, out.Payload),
				Trace:        appendTrace(env.Trace, in.to),
				Arbitration:  env.Arbitration,
				Remediation:  env.Remediation,
				Provenance:   out.Provenance,
			}
			resMu.Lock()
			results = append(results, built)
			resMu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return o.nodeOrder[results[i].Source] < o.nodeOrder[results[j].Source]
	})
	for i := range results {
		results[i].SubTick = i
	}

	// Log, detect terminal signals, and route in one deterministic pass.
	var (
		reason      TerminalReason
		commands    []envelope.Envelope
		nextPending []delivery
		attempted   int
		suppressed  int
	)
	for _, env := range results {
		if err := o.log.Append(env); err != nil {
			logging.Tick("tick %d: dropping duplicate envelope from %s: %v", tick, env.Source, err)
			continue
		}
		o.emergence.RecordEnvelope(env)
		logging.Audit().EnvelopeEmit(env.Tick, env.Source.String(), env.SchemaID, env.Validation.SchemaOK)
		o.emit("node_output", tick, env.Source.String(), env.SchemaID, envelopeDigest(env))
		if !env.Validation.SchemaOK {
			logging.Tick("tick %d: %s payload failed %s validation (%d violations)",
				tick, env.Source, env.SchemaID, len(env.Validation.Violations))
		}

		switch {
		case env.SchemaID == schema.ArbiterRulingID && env.Validation.SchemaOK:
			reason = ReasonArbiterRuling
		case env.SchemaID == schema.EthosVerdictID && env.Validation.SchemaOK &&
			env.Payload["verdict"] == schema.VerdictViolation && !mode.GatekeeperDowngraded():
			reason = ReasonEthosViolation
		case env.SchemaID == schema.MetaCommandID && env.Validation.SchemaOK:
			commands = append(commands, env)
		}

		if len(env.Destinations) == 0 {
			logging.TickDebug("tick %d: thread ends at %s", tick, env.Source)
			continue
		}
		for _, dest := range env.Destinations {
			if dest == ecosystem.NodeOrchestrator {
				// Command and verdict traffic terminates at the engine.
				continue
			}
			attempted++
			if inWindow(env.Trace, dest, span) {
				suppressed++
				o.recordLoop(tick, env, dest)
				continue
			}
			nextPending = append(nextPending, delivery{to: dest, env: env.Clone()})
		}
	}

	for _, cmd := range commands {
		nextPending = o.applyCommand(tick, cmd, table, span, nextPending)
	}

	// Loop pressure above the stall share hands the next META delivery a
	// remediation context, forcing the command variant.
	escalate := ""
	if o.opts.StallShare > 0 && attempted > 0 &&
		float64(suppressed)/float64(attempted) >= o.opts.StallShare {
		escalate = fmt.Sprintf("loop pressure at tick %d: %d of %d deliveries suppressed", tick, suppressed, attempted)
		logging.Tick("tick %d: %s", tick, escalate)
	}

	recent := o.log.Tail(o.status.Window())
	st := o.status.Update(recent, o.loopsInSpan(recent))
	o.emergence.SampleTick(tick)

	o.mu.Lock()
	o.pending = nextPending
	if escalate != "" {
		o.remediate = escalate
	}
	o.activity = make(map[ecosystem.Node]NodeActivity)
	for _, env := range results {
		o.activity[env.Source] = NodeActivity{Sending: true}
	}
	o.markReceiving(nextPending)
	o.mu.Unlock()

	logging.Audit().TickComplete(tick, len(results), time.Since(started).Milliseconds())
	logging.Tick("tick %d complete: %d envelopes, health %.2f, stability %.2f",
		tick, len(results), st.Health, st.Stability)
	return reason
}

// coalesce reduces the pending deliveries to one primary input per node,
// ordered by the node enumeration so generation order is reproducible.
// When several envelopes converge on a node in one tick the highest
// priority wins, then the deepest trace; the rest informed selection but
// are not re-consumed.
func (o *Orchestrator) coalesce(pending []delivery) []delivery {
	primary := make(map[ecosystem.Node]delivery, len(pending))
	for _, d := range pending {
		cur, ok := primary[d.to]
		if !ok || betterInput(d.env, cur.env) {
			primary[d.to] = d
		}
	}
	out := make([]delivery, 0, len(primary))
	for _, d := range primary {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return o.nodeOrder[out[i].to] < o.nodeOrder[out[j].to]
	})
	return out
}

func betterInput(a, b envelope.Envelope) bool {
	pa, pb := priorityRank(a.Priority), priorityRank(b.Priority)
	if pa != pb {
		return pa > pb
	}
	return len(a.Trace) > len(b.Trace)
}

func priorityRank(p envelope.Priority) int {
	switch p {
	case envelope.PriorityHigh:
		return 2
	case envelope.PriorityMedium:
		return 1
	default:
		return 0
	}
}

// priorityFor grades an emission. Interventions and verdicts jump the
// coalescing queue, ambient memory murmur yields to everything else.
func priorityFor(node ecosystem.Node, schemaID string) envelope.Priority {
	switch schemaID {
	case schema.SeedID, schema.MetaCommandID, schema.ArbiterRulingID, schema.EthosVerdictID:
		return envelope.PriorityHigh
	}
	if node == ecosystem.NodeEcho || node == ecosystem.NodeMem {
		return envelope.PriorityLow
	}
	return envelope.PriorityMedium
}

// loopSpan is the visited-window length for loop suppression. The config
// override wins, otherwise each mode carries its own; 0 means the whole
// trace.
func (o *Orchestrator) loopSpan(mode ecosystem.Mode) int {
	if o.opts.LoopWindow > 0 {
		return o.opts.LoopWindow
	}
	return mode.LoopWindow()
}

// inWindow reports whether dest already sits in the trailing span of the
// trace.
func inWindow(trace []string, dest ecosystem.Node, span int) bool {
	start := 0
	if span > 0 && len(trace) > span {
		start = len(trace) - span
	}
	name := dest.String()
	for _, hop := range trace[start:] {
		if hop == name {
			return true
		}
	}
	return false
}

// recordLoop logs a suppressed re-delivery. The thread is cut at that
// edge, so it lands in the adaptive-action record as a loop cut.
func (o *Orchestrator) recordLoop(tick int, env envelope.Envelope, dest ecosystem.Node) {
	thread := strings.Join(env.Trace, ">")
	logging.Tick("tick %d: LOOP_DETECTED, %s already visited on %s", tick, dest, thread)
	logging.Audit().LoopDetected(tick, dest.String(), thread)
	o.emergence.RecordAction(envelope.AdaptiveAction{
		Tick:   tick,
		Kind:   envelope.AdaptiveLoopCut,
		Node:   env.Source,
		Target: dest.String(),
		Reason: fmt.Sprintf("delivery suppressed, %s already in trace window", dest),
	})
	o.emit("loop_detected", tick, dest.String(), fmt.Sprintf("suppressed re-delivery on %s", thread), nil)

	o.mu.Lock()
	o.loopTicks = append(o.loopTicks, tick)
	o.mu.Unlock()
}

// loopsInSpan counts loop detections that overlap the trailing envelope
// window feeding the status tracker.
func (o *Orchestrator) loopsInSpan(recent []envelope.Envelope) int {
	if len(recent) == 0 {
		return 0
	}
	oldest := recent[0].Tick
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, t := range o.loopTicks {
		if t >= oldest {
			n++
		}
	}
	return n
}

// applyCommand executes one validated META command against the pending
// deliveries for the next tick.
func (o *Orchestrator) applyCommand(tick int, cmd envelope.Envelope, table *routing.Table, span int, pending []delivery) []delivery {
	action, _ := cmd.Payload["action"].(string)
	target, _ := cmd.Payload["target"].(string)
	reason, _ := cmd.Payload["reason"].(string)

	logging.Audit().MetaCommand(tick, cmd.Source.String(), action, target)
	o.emit("meta_command", tick, cmd.Source.String(), fmt.Sprintf("%s %s: %s", action, target, reason), nil)

	switch action {
	case schema.ActionCutLoop:
		kept := pending[:0]
		cut := 0
		for _, d := range pending {
			if traceContains(d.env.Trace, target) {
				cut++
				continue
			}
			kept = append(kept, d)
		}
		logging.Tick("tick %d: CUT_LOOP through %s dropped %d deliveries", tick, target, cut)
		o.emergence.RecordAction(envelope.AdaptiveAction{
			Tick: tick, Kind: envelope.AdaptiveLoopCut, Node: cmd.Source, Target: target, Reason: reason,
		})
		return kept

	case schema.ActionReroute:
		fallback := table.Fallback()
		kept := pending[:0]
		moved := 0
		for _, d := range pending {
			if traceContains(d.env.Trace, target) && d.to != fallback {
				if inWindow(d.env.Trace, fallback, span) {
					logging.TickDebug("tick %d: reroute of %s thread would revisit %s, dropping", tick, target, fallback)
					continue
				}
				d.to = fallback
				moved++
			}
			kept = append(kept, d)
		}
		logging.Tick("tick %d: REROUTE sent %d deliveries from %s threads to %s", tick, moved, target, fallback)
		o.emergence.RecordAction(envelope.AdaptiveAction{
			Tick: tick, Kind: envelope.AdaptiveReroute, Node: cmd.Source, Target: target, Reason: reason,
		})
		return kept

	case schema.ActionThrottle:
		if o.gov != nil {
			next := o.gov.Interval() * 2
			if next == 0 {
				next = 500 * time.Millisecond
			}
			o.gov.SetInterval(next)
			logging.Governor("THROTTLE raised pacing interval to %s", next)
		}
		o.emergence.RecordAction(envelope.AdaptiveAction{
			Tick: tick, Kind: envelope.AdaptiveThrottle, Node: cmd.Source, Target: target, Reason: reason,
		})
		return pending
	}

	logging.Tick("tick %d: ignoring unknown meta action %q", tick, action)
	return pending
}

func traceContains(trace []string, node string) bool {
	for _, hop := range trace {
		if hop == node {
			return true
		}
	}
	return false
}

func appendTrace(trace []string, node ecosystem.Node) []string {
	out := make([]string, 0, len(trace)+1)
	out = append(out, trace...)
	return append(out, node.String())
}

// markReceiving flags the destinations of queued deliveries. Callers
// hold the state lock.
func (o *Orchestrator) markReceiving(pending []delivery) {
	for _, d := range pending {
		a := o.activity[d.to]
		a.Receiving = true
		o.activity[d.to] = a
	}
}

// envelopeDigest is the compact event payload for one emission.
func envelopeDigest(env envelope.Envelope) map[string]any {
	dests := make([]string, 0, len(env.Destinations))
	for _, d := range env.Destinations {
		dests = append(dests, d.String())
	}
	return map[string]any{
		"schema_id":    env.SchemaID,
		"valid":        env.Validation.SchemaOK,
		"provenance":   string(env.Provenance),
		"destinations": dests,
	}
}
