package prune

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
)

func envWithTrace(n int) envelope.Envelope {
	trace := make([]string, n)
	for i := range trace {
		trace[i] = fmt.Sprintf("NODE_%02d", i)
	}
	return envelope.Envelope{
		ID:      envelope.NewID(),
		Tick:    n,
		Source:  ecosystem.NodeDmat,
		Payload: map[string]any{"confidence": 0.5},
		Trace:   trace,
	}
}

func TestTrimTrace_UnderThresholdUntouched(t *testing.T) {
	env := envWithTrace(12)
	out := TrimTrace(env, 12, 11)
	if diff := cmp.Diff(env, out); diff != "" {
		t.Errorf("envelope at threshold changed (-want +got):\n%s", diff)
	}
}

// A trace over the threshold comes back at exactly threshold entries: the
// marker plus the keep most recent.
func TestTrimTrace_MarkerPlusRecent(t *testing.T) {
	env := envWithTrace(30)
	out := TrimTrace(env, 12, 11)

	if len(out.Trace) != 12 {
		t.Fatalf("trimmed trace has %d entries, want 12", len(out.Trace))
	}
	if out.Trace[0] != "… 19 earlier steps" {
		t.Errorf("marker = %q", out.Trace[0])
	}
	want := env.Trace[len(env.Trace)-11:]
	if diff := cmp.Diff(want, out.Trace[1:]); diff != "" {
		t.Errorf("recent entries mismatch (-want +got):\n%s", diff)
	}
}

func TestTrimTrace_OriginalNeverMutated(t *testing.T) {
	env := envWithTrace(40)
	snapshot := env.Clone()

	out := TrimTrace(env, 12, 11)
	out.Trace[0] = "TAMPERED"
	out.Payload["confidence"] = 0.0

	if diff := cmp.Diff(snapshot, env); diff != "" {
		t.Errorf("original envelope changed (-want +got):\n%s", diff)
	}
}

func TestTrimTrace_DegenerateBounds(t *testing.T) {
	env := envWithTrace(10)
	out := TrimTrace(env, 0, 0)
	// threshold floors to 2, keep to 1: marker plus most recent entry
	if len(out.Trace) != 2 || out.Trace[1] != "NODE_09" {
		t.Errorf("degenerate trim produced %v", out.Trace)
	}

	out2 := TrimTrace(env, 4, 9)
	// keep clamps below threshold
	if len(out2.Trace) != 4 {
		t.Errorf("keep clamp produced %d entries, want 4", len(out2.Trace))
	}
}

func TestPruner_TrimEnvelopeUsesOptions(t *testing.T) {
	p := New(Options{TraceThreshold: 6, KeepRecent: 3})
	out := p.TrimEnvelope(envWithTrace(20))
	if len(out.Trace) != 4 {
		t.Errorf("trace length %d, want marker plus 3", len(out.Trace))
	}
	if out.Trace[0] != "… 17 earlier steps" {
		t.Errorf("marker = %q", out.Trace[0])
	}
}
