package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
)

func logged(t *testing.T, l *RunLog, tick int, source ecosystem.Node) Envelope {
	t.Helper()
	e := sampleEnvelope()
	e.ID = NewID()
	e.Tick = tick
	e.Source = source
	if err := l.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return e
}

func TestRunLog_AppendAndLookup(t *testing.T) {
	l := NewRunLog("run-001")
	first := logged(t, l, 1, ecosystem.NodePhi)
	logged(t, l, 1, ecosystem.NodeIntu)
	logged(t, l, 2, ecosystem.NodeSci)

	if l.Len() != 3 {
		t.Fatalf("Len = %d", l.Len())
	}
	got, ok := l.Get(first.ID)
	if !ok || got.Source != ecosystem.NodePhi {
		t.Errorf("Get(%s) = (%v, %v)", first.ID, got.Source, ok)
	}
	if _, ok := l.Get("missing"); ok {
		t.Error("Get on unknown id succeeded")
	}
	if n := len(l.ForTick(1)); n != 2 {
		t.Errorf("ForTick(1) returned %d envelopes", n)
	}
	if n := len(l.Tail(2)); n != 2 {
		t.Errorf("Tail(2) returned %d envelopes", n)
	}
	if n := len(l.Tail(50)); n != 3 {
		t.Errorf("Tail(50) returned %d envelopes", n)
	}
}

func TestRunLog_RejectsDuplicatesAndBlanks(t *testing.T) {
	l := NewRunLog("run-002")
	e := sampleEnvelope()
	if err := l.Append(e); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := l.Append(e); err == nil {
		t.Error("duplicate id accepted")
	}
	blank := sampleEnvelope()
	blank.ID = ""
	if err := l.Append(blank); err == nil {
		t.Error("blank id accepted")
	}
	if l.Len() != 1 {
		t.Errorf("rejects still appended, Len = %d", l.Len())
	}
}

func TestRunLog_AppendIsolatesCallerCopy(t *testing.T) {
	l := NewRunLog("run-003")
	e := sampleEnvelope()
	if err := l.Append(e); err != nil {
		t.Fatal(err)
	}
	e.Payload["confidence"] = 0.01
	e.Trace[0] = "X"

	stored, _ := l.Get(e.ID)
	if stored.Payload["confidence"] != 0.62 {
		t.Error("caller mutation reached the log through Payload")
	}
	if stored.Trace[0] != "HUMAN" {
		t.Error("caller mutation reached the log through Trace")
	}

	// Mutating an accessor result must not reach the log either.
	all := l.All()
	all[0].Payload["confidence"] = 0.99
	again, _ := l.Get(e.ID)
	if again.Payload["confidence"] != 0.62 {
		t.Error("accessor result aliased log storage")
	}
}

func TestRunLog_MarshalJSON(t *testing.T) {
	l := NewRunLog("run-004")
	logged(t, l, 1, ecosystem.NodePhi)

	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		RunID     string `json:"run_id"`
		Envelopes []struct {
			Tick       int    `json:"tick"`
			SchemaID   string `json:"schema_id"`
			Provenance string `json:"provenance"`
		} `json:"envelopes"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.RunID != "run-004" || len(decoded.Envelopes) != 1 {
		t.Errorf("decoded %+v", decoded)
	}
	if !strings.HasPrefix(decoded.Envelopes[0].SchemaID, "FD.") {
		t.Errorf("schema id not serialized: %+v", decoded.Envelopes[0])
	}
}

func TestRunLogFromJSON_Roundtrip(t *testing.T) {
	l := NewRunLog("run-005")
	first := logged(t, l, 1, ecosystem.NodePhi)
	logged(t, l, 2, ecosystem.NodeDmat)

	raw, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rebuilt, err := RunLogFromJSON(raw)
	if err != nil {
		t.Fatalf("RunLogFromJSON: %v", err)
	}
	if rebuilt.RunID() != "run-005" || rebuilt.Len() != 2 {
		t.Fatalf("rebuilt run=%s len=%d", rebuilt.RunID(), rebuilt.Len())
	}
	got, ok := rebuilt.Get(first.ID)
	if !ok {
		t.Fatalf("rebuilt log lost envelope %s", first.ID)
	}
	if got.Source != ecosystem.NodePhi || got.SchemaID != first.SchemaID {
		t.Errorf("rebuilt envelope = %+v", got)
	}
	// JSON turns payload numbers into float64; confidence must survive that.
	if conf, ok := got.Confidence(); !ok || conf != 0.62 {
		t.Errorf("Confidence after roundtrip = (%v, %v)", conf, ok)
	}
	if len(got.Trace) == 0 || got.Trace[0] != "HUMAN" {
		t.Errorf("trace lost in roundtrip: %v", got.Trace)
	}
}

func TestRunLogFromJSON_Rejects(t *testing.T) {
	if _, err := RunLogFromJSON([]byte("{not json")); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := RunLogFromJSON([]byte(`{"envelopes":[]}`)); err == nil {
		t.Error("missing run id accepted")
	}

	dup := sampleEnvelope()
	raw, err := json.Marshal(struct {
		RunID     string     `json:"run_id"`
		Envelopes []Envelope `json:"envelopes"`
	}{"run-006", []Envelope{dup, dup}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := RunLogFromJSON(raw); err == nil {
		t.Error("duplicate envelope ids accepted")
	}
}
