// Package envelope defines the message unit that moves between nodes, the
// append-only run log that records every unit, and the derived emergence
// and status signals the UI and post-run analysis read.
package envelope

import (
	"github.com/google/uuid"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

// Priority orders competing deliveries within a tick.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Provenance records how a payload came to exist. Degraded provenance stays
// visible in the run log.
type Provenance string

const (
	ProvenanceLive        Provenance = "live"
	ProvenanceOffline     Provenance = "offline"
	ProvenanceSubstituted Provenance = "substituted"
)

// Envelope is one node output in flight. Once appended to the run log it is
// never mutated; consumers that need a variant work on a clone.
type Envelope struct {
	ID           string           `json:"id"`
	Tick         int              `json:"tick"`
	SubTick      int              `json:"sub_tick"`
	Source       ecosystem.Node   `json:"source"`
	Destinations []ecosystem.Node `json:"destinations"`
	Payload      map[string]any   `json:"payload"`
	SchemaID     string           `json:"schema_id"`
	Priority     Priority         `json:"priority"`
	Validation   schema.Result    `json:"validation"`
	Trace        []string         `json:"trace"`
	Arbitration  string           `json:"arbitration_context,omitempty"`
	Remediation  string           `json:"remediation_context,omitempty"`
	Provenance   Provenance       `json:"provenance"`
}

// NewID mints an envelope id.
func NewID() string { return uuid.NewString() }

// Clone returns a deep copy; mutating the clone leaves the original intact.
func (e Envelope) Clone() Envelope {
	out := e
	out.Destinations = append([]ecosystem.Node(nil), e.Destinations...)
	out.Trace = append([]string(nil), e.Trace...)
	out.Payload = clonePayload(e.Payload)
	if e.Validation.Violations != nil {
		out.Validation.Violations = append([]schema.Violation(nil), e.Validation.Violations...)
	}
	return out
}

// Confidence extracts the payload confidence reading when present.
func (e Envelope) Confidence() (float64, bool) {
	v, ok := e.Payload["confidence"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
