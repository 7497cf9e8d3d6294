package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced with prose", "Sure, here it is:\n```json\n{\"a\": {\"b\": [1, 2]}}\n```\nDone.", `{"a": {"b": [1, 2]}}`},
		{"outermost object only", `lead {"x":{"y":{}}} trailing {"z":1}`, `{"x":{"y":{}}}`},
		{"no object", "I cannot produce JSON for that.", ""},
		{"unbalanced", `{"a": [1, 2`, ""},
		{"empty input", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.response); got != tc.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tc.response, got, tc.want)
			}
		})
	}
}

// stubBackend feeds canned completions to the live provider and records
// what it was asked.
type stubBackend struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	lastTemp   float64
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	s.lastSystem = systemPrompt
	s.lastUser = userPrompt
	s.lastTemp = temperature
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func testLive(t *testing.T, b Backend) *Live {
	t.Helper()
	return NewLive(b, ecosystem.NewCatalog(), governor.New(0), prune.New(prune.Options{}), testHypothesis)
}

func TestLiveGenerateResolvesSchema(t *testing.T) {
	stub := &stubBackend{response: "Here is my contribution:\n" +
		`{"reflection": "the claim presumes a stable observer", "assumptions": ["observers persist"], "confidence": 0.72}`}
	l := testLive(t, stub)

	out, err := l.GenerateNodeOutput(context.Background(), ecosystem.NodePhi, inboundEnv(2, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.NoError(t, err)

	assert.Equal(t, schema.PhiReflectionID, out.SchemaID, "resolved by the reflection discriminator")
	assert.Equal(t, "the claim presumes a stable observer", out.Payload["reflection"])

	assert.Contains(t, stub.lastSystem, "PHI", "system prompt names the node")
	assert.Contains(t, stub.lastUser, testHypothesis)
	assert.Greater(t, stub.lastTemp, 0.0, "persona temperature is passed through")
}

func TestLiveGenerateMalformed(t *testing.T) {
	l := testLive(t, &stubBackend{response: "I would rather discuss something else."})
	_, err := l.GenerateNodeOutput(context.Background(), ecosystem.NodePhi, inboundEnv(2, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	var malformed *fhierr.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "no JSON object in response", malformed.Reason)

	l = testLive(t, &stubBackend{response: "{}"})
	_, err = l.GenerateNodeOutput(context.Background(), ecosystem.NodePhi, inboundEnv(2, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "empty JSON object", malformed.Reason)
}

func TestLiveGenerateAmbiguousPayload(t *testing.T) {
	stub := &stubBackend{response: `{"ruling": "SUPPORTED", "deferral": "but also not yet", "confidence": 0.5}`}
	l := testLive(t, stub)

	_, err := l.GenerateNodeOutput(context.Background(), ecosystem.NodeArbiter, inboundEnv(2, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	var amb *fhierr.RoutingAmbiguityError
	require.ErrorAs(t, err, &amb)
	assert.ElementsMatch(t, []string{"ruling", "deferral"}, amb.Discriminators)
}

func TestLiveGenerateBackendErrorPassesThrough(t *testing.T) {
	want := &fhierr.QuotaExceededError{Backend: "stub"}
	l := testLive(t, &stubBackend{err: want})

	_, err := l.GenerateNodeOutput(context.Background(), ecosystem.NodePhi, inboundEnv(2, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	assert.True(t, fhierr.IsQuota(err), "backend classification is preserved")
}

func TestLivePreAnalysisNormalizes(t *testing.T) {
	stub := &stubBackend{response: `{"recommended_mode": "lucid-dream", "recommended_ticks": 9999, "rationale": "r", "structured_hypothesis": "s"}`}
	l := testLive(t, stub)

	pre, err := l.PerformPreAnalysis(context.Background(), "Can machines dream?")
	require.NoError(t, err)
	assert.Equal(t, "lucid-dream", pre.RecommendedMode)
	assert.Equal(t, 500, pre.RecommendedTicks, "tick budget is clamped")

	stub.response = `{"recommended_mode": "warp", "recommended_ticks": 0, "rationale": "r", "structured_hypothesis": "s"}`
	pre, err = l.PerformPreAnalysis(context.Background(), "Can machines dream?")
	require.NoError(t, err)
	assert.Equal(t, "default", pre.RecommendedMode, "unknown modes fall back")
	assert.Equal(t, 1, pre.RecommendedTicks)
}

func TestLiveArbiterDecisionEnum(t *testing.T) {
	stub := &stubBackend{response: `{"ruling": "MAYBE", "confidence": 0.5, "rationale": "r"}`}
	l := testLive(t, stub)

	_, err := l.ArbiterDecision(context.Background(), Request{Hypothesis: testHypothesis, Mode: ecosystem.ModeDefault})
	var malformed *fhierr.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Reason, "outside the enum")

	stub.response = `{"ruling": "SUPPORTED", "confidence": 1.7, "cited": ["e1"], "rationale": "r"}`
	dec, err := l.ArbiterDecision(context.Background(), Request{Hypothesis: testHypothesis, Mode: ecosystem.ModeDefault})
	require.NoError(t, err)
	assert.Equal(t, schema.RulingSupported, dec.Ruling)
	assert.Equal(t, 1.0, dec.Confidence, "confidence is clamped to [0,1]")
}

func TestLiveEmergenceClamps(t *testing.T) {
	stub := &stubBackend{response: `{"diversity": 1.4, "novelty": -0.2, "cohesion": 0.5, "adaptability": 0.9, "surprise": 0.1, "commentary": "c"}`}
	l := testLive(t, stub)

	scores, err := l.EmergenceAnalysis(context.Background(), Request{Mode: ecosystem.ModeDefault})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores.Diversity)
	assert.Equal(t, 0.0, scores.Novelty)
	assert.Equal(t, 0.5, scores.Cohesion)
}

func TestLiveReportPromptCarriesReport(t *testing.T) {
	stub := &stubBackend{response: `{"headline": "h", "body": "b"}`}
	l := testLive(t, stub)

	req := Request{
		Hypothesis: testHypothesis,
		Mode:       ecosystem.ModeBeacon,
		Report: prune.Report{
			Messages: []prune.Message{{Tick: 1, Node: "PHI", SchemaID: schema.PhiReflectionID, Valid: true, Payload: `{"reflection":"r"}`}},
		},
	}
	_, err := l.ReportSummary(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, stub.lastUser, testHypothesis)
	assert.Contains(t, stub.lastUser, "Control mode: beacon")
	assert.Contains(t, stub.lastUser, schema.PhiReflectionID, "the serialized report reaches the backend")
	assert.Equal(t, 0.3, stub.lastTemp, "analysis runs cool")
}
