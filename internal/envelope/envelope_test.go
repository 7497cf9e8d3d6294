package envelope

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

func sampleEnvelope() Envelope {
	return Envelope{
		ID:           NewID(),
		Tick:         3,
		SubTick:      1,
		Source:       ecosystem.NodeDmat,
		Destinations: []ecosystem.Node{ecosystem.NodeMeta},
		Payload: map[string]any{
			"observations": []any{"first", "second"},
			"derived_metrics": map[string]any{
				"spread": 0.4,
			},
			"confidence": 0.62,
		},
		SchemaID:   schema.DmatObservationID,
		Priority:   PriorityMedium,
		Validation: schema.Result{SchemaOK: true},
		Trace:      []string{"HUMAN", "PHI", "SCI", "DMAT"},
		Provenance: ProvenanceOffline,
	}
}

func TestClone_DeepIsolation(t *testing.T) {
	original := sampleEnvelope()
	snapshot := original.Clone()

	mutant := original.Clone()
	mutant.Payload["confidence"] = 0.1
	mutant.Payload["derived_metrics"].(map[string]any)["spread"] = 9.9
	mutant.Payload["observations"].([]any)[0] = "tampered"
	mutant.Trace[0] = "X"
	mutant.Destinations[0] = ecosystem.NodeEcho

	if diff := cmp.Diff(snapshot, original); diff != "" {
		t.Errorf("original changed through clone (-want +got):\n%s", diff)
	}
}

func TestConfidenceExtraction(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		want   float64
		wantOK bool
	}{
		{"float64", 0.5, 0.5, true},
		{"int", 1, 1, true},
		{"int64", int64(0), 0, true},
		{"string rejected", "high", 0, false},
	}
	for _, tc := range cases {
		e := Envelope{Payload: map[string]any{"confidence": tc.value}}
		got, ok := e.Confidence()
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("%s: Confidence() = (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}

	e := Envelope{Payload: map[string]any{}}
	if _, ok := e.Confidence(); ok {
		t.Error("absent confidence reported present")
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if id == "" || seen[id] {
			t.Fatalf("id %q empty or repeated", id)
		}
		seen[id] = true
	}
}
