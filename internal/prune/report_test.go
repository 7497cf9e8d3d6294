package prune

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

func bulkMessages(n, payloadLen int) []Message {
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = Message{
			Tick:     i,
			Node:     "PHI",
			SchemaID: "FD.PHI.REFLECTION.v1",
			Valid:    true,
			Payload:  strings.Repeat("x", payloadLen),
		}
	}
	return msgs
}

func TestEstimateSize(t *testing.T) {
	s := strings.Repeat("a", 400)
	got := EstimateSize(s)
	// 400 chars plus JSON quotes, over the 4:1 calibration
	if got < 98 || got > 102 {
		t.Errorf("EstimateSize = %d", got)
	}
}

func TestReduceReport_WithinBudgetUntouched(t *testing.T) {
	p := New(DefaultOptions())
	r := Report{Hypothesis: "small", Messages: bulkMessages(5, 40)}
	out, stages := p.ReduceReport(r)
	if len(stages) != 0 {
		t.Errorf("stages applied to a small report: %v", stages)
	}
	if len(out.Messages) != 5 {
		t.Errorf("messages changed: %d", len(out.Messages))
	}
}

func TestReduceReport_SampleStageProportions(t *testing.T) {
	opts := DefaultOptions()
	opts.BudgetChars = 400000
	p := New(opts)

	r := Report{Hypothesis: "big", Messages: bulkMessages(1200, 700)}
	out, stages := p.ReduceReport(r)

	if len(stages) == 0 || stages[0] != StageSample {
		t.Fatalf("stages = %v", stages)
	}
	if len(out.Messages) != 500 {
		t.Fatalf("sampled to %d messages, want 500", len(out.Messages))
	}

	// Head block is the first 200 originals, tail block the last 200.
	for i := 0; i < 200; i++ {
		if out.Messages[i].Tick != i {
			t.Fatalf("head message %d has tick %d", i, out.Messages[i].Tick)
		}
	}
	for i := 0; i < 200; i++ {
		want := 1200 - 200 + i
		if out.Messages[300+i].Tick != want {
			t.Fatalf("tail message %d has tick %d, want %d", i, out.Messages[300+i].Tick, want)
		}
	}

	// Middle stays ordered and strictly between the blocks.
	prev := -1
	for _, m := range out.Messages[200:300] {
		if m.Tick < 200 || m.Tick >= 1000 {
			t.Fatalf("middle sample tick %d outside the middle span", m.Tick)
		}
		if m.Tick <= prev {
			t.Fatalf("middle sample out of order at tick %d", m.Tick)
		}
		prev = m.Tick
	}

	// Oversized payloads became one-line summaries.
	for _, m := range out.Messages {
		if utf8.RuneCountInString(m.Payload) > 600 {
			t.Fatalf("payload left at %d runes", utf8.RuneCountInString(m.Payload))
		}
	}
	if !strings.Contains(out.Note, "1200 to 500") {
		t.Errorf("note = %q", out.Note)
	}

	// This budget is achievable after sampling alone.
	if len(stages) != 1 {
		t.Errorf("extra stages applied: %v", stages)
	}
}

func TestReduceReport_CollapseStage(t *testing.T) {
	opts := DefaultOptions()
	opts.SampleCap = 50
	opts.BudgetChars = 16000
	p := New(opts)

	final := map[string]NodeFinal{}
	for i := 0; i < 22; i++ {
		final[fmt.Sprintf("NODE_%02d", i)] = NodeFinal{
			SchemaID:   "FD.X.CONTRIBUTION.v1",
			Confidence: 0.5,
			Payload:    map[string]any{"content": strings.Repeat("y", 400)},
		}
	}
	r := Report{Messages: bulkMessages(60, 100), FinalState: final}
	out, stages := p.ReduceReport(r)

	if len(stages) != 2 || stages[1] != StageCollapse {
		t.Fatalf("stages = %v", stages)
	}
	if len(out.FinalState) != 22 {
		t.Fatalf("final state shrank to %d nodes", len(out.FinalState))
	}
	for n, f := range out.FinalState {
		if f.Payload != nil {
			t.Errorf("final state payload for %s survived collapse", n)
		}
		if f.SchemaID == "" {
			t.Errorf("schema id for %s lost", n)
		}
	}
}

func TestReduceReport_HardCap(t *testing.T) {
	opts := DefaultOptions()
	opts.SampleCap = 100
	opts.BudgetChars = 40 // unreachable on purpose
	p := New(opts)

	r := Report{
		Messages:   bulkMessages(1000, 300),
		FinalState: map[string]NodeFinal{"PHI": {SchemaID: "FD.PHI.REFLECTION.v1", Confidence: 0.4}},
	}
	out, stages := p.ReduceReport(r)

	if len(stages) != 3 || stages[2] != StageHardCap {
		t.Fatalf("stages = %v", stages)
	}
	if out.FinalState != nil {
		t.Error("final state survived the hard cap")
	}
	// head 40 + tail 40 of the 100 cap
	if len(out.Messages) != 80 {
		t.Errorf("hard cap kept %d messages, want 80", len(out.Messages))
	}
	if out.Messages[0].Tick != 0 || out.Messages[79].Tick != 999 {
		t.Errorf("cap lost the ends: first %d last %d", out.Messages[0].Tick, out.Messages[79].Tick)
	}
}

func TestMessageAndFinalStateBuilders(t *testing.T) {
	envs := []envelope.Envelope{
		{
			ID: envelope.NewID(), Tick: 1, Source: ecosystem.NodePhi,
			SchemaID:   schema.PhiReflectionID,
			Payload:    map[string]any{"reflection": "assumes minds compose", "confidence": 0.7},
			Validation: schema.Result{SchemaOK: true},
		},
		{
			ID: envelope.NewID(), Tick: 2, Source: ecosystem.NodePhi,
			SchemaID:   schema.PhiInquiryID,
			Payload:    map[string]any{"inquiry": "composes into what?", "confidence": 0.6},
			Validation: schema.Result{SchemaOK: true},
		},
		{
			ID: envelope.NewID(), Tick: 2, Source: ecosystem.NodeDmat,
			SchemaID:   schema.DmatObservationID,
			Payload:    map[string]any{"observations": []any{"two threads"}, "confidence": 0.9},
			Validation: schema.Result{SchemaOK: false},
		},
	}

	msgs := MessagesFromEnvelopes(envs)
	if len(msgs) != 3 {
		t.Fatalf("messages %d", len(msgs))
	}
	if msgs[2].Valid {
		t.Error("invalid envelope rendered as valid")
	}
	if !strings.Contains(msgs[0].Payload, "assumes minds compose") {
		t.Errorf("payload render %q", msgs[0].Payload)
	}

	final := FinalStateFromEnvelopes(envs)
	if len(final) != 2 {
		t.Fatalf("final state %v", final)
	}
	// Later envelope wins per node.
	if final["PHI"].SchemaID != schema.PhiInquiryID {
		t.Errorf("PHI final schema %s", final["PHI"].SchemaID)
	}
	if final["PHI"].Confidence != 0.6 {
		t.Errorf("PHI final confidence %v", final["PHI"].Confidence)
	}
}

func TestSummarizeLine(t *testing.T) {
	multi := "first line\n\tsecond   line"
	if got := summarizeLine(multi, 600); got != "first line second line" {
		t.Errorf("whitespace collapse got %q", got)
	}
	long := strings.Repeat("word ", 50)
	got := summarizeLine(long, 40)
	if len(got) > 43 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncation got %q (len %d)", got, len(got))
	}
}
