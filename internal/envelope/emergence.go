package envelope

import (
	"sync"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
)

// AdaptiveActionKind names the interventions the orchestrator can take
// while a run is in flight.
type AdaptiveActionKind string

const (
	AdaptiveLoopCut     AdaptiveActionKind = "loop_cut"
	AdaptiveReroute     AdaptiveActionKind = "reroute"
	AdaptiveThrottle    AdaptiveActionKind = "throttle"
	AdaptiveOfflineFlip AdaptiveActionKind = "offline_flip"
)

// AdaptiveAction is one recorded intervention.
type AdaptiveAction struct {
	Tick   int                `json:"tick"`
	Kind   AdaptiveActionKind `json:"kind"`
	Node   ecosystem.Node     `json:"node,omitempty"`
	Target string             `json:"target,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// PayloadRecord is the emergence-facing view of one envelope: just enough
// to compute diversity, novelty, and the confidence trajectory.
type PayloadRecord struct {
	Tick       int            `json:"tick"`
	Node       ecosystem.Node `json:"node"`
	SchemaID   string         `json:"schema_id"`
	Confidence float64        `json:"confidence"`
	HasConf    bool           `json:"has_confidence"`
	Valid      bool           `json:"valid"`
}

// TickConfidence is one trajectory sample: the mean confidence of a tick.
type TickConfidence struct {
	Tick    int     `json:"tick"`
	Mean    float64 `json:"mean"`
	Samples int     `json:"samples"`
}

// EmergenceLog accumulates the per-run signals post-run analysis feeds on.
// The orchestrator writes it; analysis reads it after the run completes.
type EmergenceLog struct {
	mu         sync.RWMutex
	records    []PayloadRecord
	trajectory []TickConfidence
	actions    []AdaptiveAction
}

// NewEmergenceLog creates an empty log.
func NewEmergenceLog() *EmergenceLog {
	return &EmergenceLog{}
}

// RecordEnvelope appends the emergence view of one logged envelope.
func (e *EmergenceLog) RecordEnvelope(env Envelope) {
	conf, ok := env.Confidence()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, PayloadRecord{
		Tick:       env.Tick,
		Node:       env.Source,
		SchemaID:   env.SchemaID,
		Confidence: conf,
		HasConf:    ok,
		Valid:      env.Validation.SchemaOK,
	})
}

// SampleTick closes a tick by appending its mean confidence to the
// trajectory. Ticks whose payloads carry no confidence sample as zero mean
// with zero samples.
func (e *EmergenceLog) SampleTick(tick int) TickConfidence {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sum float64
	var n int
	for _, r := range e.records {
		if r.Tick == tick && r.HasConf {
			sum += r.Confidence
			n++
		}
	}
	sample := TickConfidence{Tick: tick, Samples: n}
	if n > 0 {
		sample.Mean = sum / float64(n)
	}
	e.trajectory = append(e.trajectory, sample)
	return sample
}

// RecordAction appends one adaptive action.
func (e *EmergenceLog) RecordAction(a AdaptiveAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = append(e.actions, a)
}

// Records returns the payload records in order.
func (e *EmergenceLog) Records() []PayloadRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]PayloadRecord(nil), e.records...)
}

// Trajectory returns the per-tick confidence samples in order.
func (e *EmergenceLog) Trajectory() []TickConfidence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]TickConfidence(nil), e.trajectory...)
}

// Actions returns the adaptive actions in order.
func (e *EmergenceLog) Actions() []AdaptiveAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]AdaptiveAction(nil), e.actions...)
}
