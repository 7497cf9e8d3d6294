package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

// scriptedProvider stands in for the live provider; err applies to every
// method so each failover path can be driven from one knob.
type scriptedProvider struct {
	mu            sync.Mutex
	genCalls      int
	analysisCalls int
	out           Output
	err           error
}

func (s *scriptedProvider) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (Output, error) {
	s.mu.Lock()
	s.genCalls++
	s.mu.Unlock()
	if s.err != nil {
		return Output{}, s.err
	}
	return s.out, nil
}

func (s *scriptedProvider) countAnalysis() error {
	s.mu.Lock()
	s.analysisCalls++
	s.mu.Unlock()
	return s.err
}

func (s *scriptedProvider) PerformPreAnalysis(ctx context.Context, hypothesis string) (PreAnalysis, error) {
	if err := s.countAnalysis(); err != nil {
		return PreAnalysis{}, err
	}
	return PreAnalysis{RecommendedMode: "beacon", RecommendedTicks: 9}, nil
}

func (s *scriptedProvider) MetaAnalysis(ctx context.Context, req Request) (MetaReport, error) {
	if err := s.countAnalysis(); err != nil {
		return MetaReport{}, err
	}
	return MetaReport{Narrative: "live narrative"}, nil
}

func (s *scriptedProvider) ArbiterDecision(ctx context.Context, req Request) (Decision, error) {
	if err := s.countAnalysis(); err != nil {
		return Decision{}, err
	}
	return Decision{Ruling: schema.RulingSupported, Confidence: 0.9}, nil
}

func (s *scriptedProvider) ReportSummary(ctx context.Context, req Request) (Summary, error) {
	if err := s.countAnalysis(); err != nil {
		return Summary{}, err
	}
	return Summary{Headline: "live headline"}, nil
}

func (s *scriptedProvider) EmergenceAnalysis(ctx context.Context, req Request) (EmergenceScores, error) {
	if err := s.countAnalysis(); err != nil {
		return EmergenceScores{}, err
	}
	return EmergenceScores{Diversity: 0.5}, nil
}

func (s *scriptedProvider) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genCalls
}

func testFailover(t *testing.T, live Provider) *Failover {
	t.Helper()
	return NewFailover(live, NewOffline(ecosystem.NewCatalog(), testHypothesis, 0))
}

func TestFailoverPassesThroughLive(t *testing.T) {
	live := &scriptedProvider{out: Output{
		Payload:  map[string]any{"content": "from the wire", "keywords": []string{"wire"}, "confidence": 0.8},
		SchemaID: schema.ContributionID(ecosystem.NodeSci),
	}}
	f := testFailover(t, live)

	out, err := f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, inboundEnv(1, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.NoError(t, err)

	assert.Equal(t, envelope.ProvenanceLive, out.Provenance)
	assert.Equal(t, "from the wire", out.Payload["content"])
	assert.False(t, f.OfflineActive())
	assert.Equal(t, 1, live.calls())
}

func TestFailoverSubstitutesOnTransport(t *testing.T) {
	live := &scriptedProvider{err: &fhierr.TransportError{Backend: "gemini", Op: "generateContent", Err: context.DeadlineExceeded}}
	f := testFailover(t, live)
	env := inboundEnv(1, ecosystem.NodeHuman)

	out, err := f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)

	want, err := NewOffline(ecosystem.NewCatalog(), testHypothesis, 0).
		GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)

	assert.Equal(t, envelope.ProvenanceSubstituted, out.Provenance)
	assert.Equal(t, want.SchemaID, out.SchemaID)
	assert.Equal(t, want.Payload, out.Payload)

	// Transport failures stay call-scoped: the next call tries live again.
	assert.False(t, f.OfflineActive())
	_, err = f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)
	assert.Equal(t, 2, live.calls())
}

func TestFailoverQuotaFlipIsSticky(t *testing.T) {
	live := &scriptedProvider{err: &fhierr.QuotaExceededError{Backend: "gemini"}}
	f := testFailover(t, live)

	fired := 0
	f.SetOnQuota(func(q *fhierr.QuotaExceededError) {
		fired++
		assert.Equal(t, "gemini", q.Backend)
	})

	env := inboundEnv(1, ecosystem.NodeHuman)
	out, err := f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)
	assert.Equal(t, envelope.ProvenanceSubstituted, out.Provenance)

	assert.True(t, f.OfflineActive())
	require.NotNil(t, f.QuotaError())
	assert.Equal(t, 1, fired)

	// Flipped: live is never consulted again until reset.
	out, err = f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)
	assert.Equal(t, envelope.ProvenanceSubstituted, out.Provenance)
	assert.Equal(t, 1, live.calls())
	assert.Equal(t, 1, fired)

	f.ResetQuota()
	assert.False(t, f.OfflineActive())
	assert.Nil(t, f.QuotaError())
	_, err = f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, env, ecosystem.ModeDefault, "")
	require.NoError(t, err)
	assert.Equal(t, 2, live.calls())
}

func TestFailoverPureOffline(t *testing.T) {
	f := testFailover(t, nil)

	assert.True(t, f.OfflineActive())
	out, err := f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, inboundEnv(1, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.NoError(t, err)
	assert.Equal(t, envelope.ProvenanceOffline, out.Provenance, "no live backend, nothing was substituted")
}

func TestFailoverForceOffline(t *testing.T) {
	live := &scriptedProvider{out: Output{SchemaID: schema.ContributionID(ecosystem.NodeSci), Payload: map[string]any{}}}
	f := testFailover(t, live)

	f.ForceOffline()
	out, err := f.GenerateNodeOutput(context.Background(), ecosystem.NodeSci, inboundEnv(1, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.NoError(t, err)

	assert.Equal(t, envelope.ProvenanceSubstituted, out.Provenance)
	assert.Zero(t, live.calls())
	assert.Nil(t, f.QuotaError(), "forced flip is not a quota event")
}

func TestFailoverContextErrorPassesThrough(t *testing.T) {
	live := &scriptedProvider{err: context.Canceled}
	f := testFailover(t, live)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.GenerateNodeOutput(ctx, ecosystem.NodeSci, inboundEnv(1, ecosystem.NodeHuman), ecosystem.ModeDefault, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.OfflineActive(), "cancellation is not a backend failure")
}

func TestFailoverAnalysisFallsBack(t *testing.T) {
	live := &scriptedProvider{err: &fhierr.MalformedResponseError{Backend: "gemini", Reason: "no JSON object in response"}}
	f := testFailover(t, live)

	pre, err := f.PerformPreAnalysis(context.Background(), testHypothesis)
	require.NoError(t, err)
	assert.Equal(t, 14, pre.RecommendedTicks, "offline heuristic: 8 plus one per content term")
	assert.False(t, f.OfflineActive(), "malformed responses do not flip the run")

	dec, err := f.ArbiterDecision(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, schema.RulingUndecided, dec.Ruling)
}

func TestFailoverAnalysisUsesLiveFirst(t *testing.T) {
	live := &scriptedProvider{}
	f := testFailover(t, live)

	sum, err := f.ReportSummary(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "live headline", sum.Headline)

	f.ForceOffline()
	sum, err = f.ReportSummary(context.Background(), Request{Mode: ecosystem.ModeDefault})
	require.NoError(t, err)
	assert.Contains(t, sum.Headline, "Run digest", "flipped analysis comes from the offline digest")
}
