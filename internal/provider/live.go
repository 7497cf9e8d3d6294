package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

// Backend is the completion surface a live generation endpoint exposes.
// Implementations classify their own failures into the error taxonomy.
type Backend interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// Live renders persona prompts, paces calls through the rate governor, and
// parses backend responses into schema-resolved payloads.
type Live struct {
	backend    Backend
	catalog    *ecosystem.Catalog
	governor   *governor.Governor
	pruner     *prune.Pruner
	hypothesis string
}

// NewLive wires a live provider for one run.
func NewLive(b Backend, catalog *ecosystem.Catalog, gov *governor.Governor, pruner *prune.Pruner, hypothesis string) *Live {
	return &Live{
		backend:    b,
		catalog:    catalog,
		governor:   gov,
		pruner:     pruner,
		hypothesis: hypothesis,
	}
}

// GenerateNodeOutput runs one persona call: trim, schedule, complete,
// extract, resolve. Errors come back already classified.
func (l *Live) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (Output, error) {
	profile, ok := l.catalog.Get(node)
	if !ok {
		return Output{}, fmt.Errorf("no persona profile for node %s", node)
	}
	candidates := schema.CandidatesFor(node, mode, profile.CandidateSchemas)
	trimmed := l.pruner.TrimEnvelope(env)

	if err := l.governor.Schedule(ctx); err != nil {
		return Output{}, err
	}

	start := time.Now()
	raw, err := l.backend.Complete(ctx,
		renderSystem(profile, mode, candidates),
		renderUser(l.hypothesis, trimmed, directive),
		profile.Temperature)
	if err != nil {
		logging.Provider("live %s call failed for %s tick %d: %v", l.backend.Name(), node, env.Tick, err)
		return Output{}, err
	}

	payload, err := parsePayload(raw, l.backend.Name())
	if err != nil {
		return Output{}, err
	}

	id, err := schema.ResolveEmitted(node, payload, candidates, schema.ResolveOpts{
		Arbitration: env.Arbitration != "",
		Remediation: env.Remediation != "",
	})
	if err != nil {
		return Output{}, err
	}

	logging.ProviderDebug("live %s tick %d -> %s in %s", node, env.Tick, id, time.Since(start).Round(time.Millisecond))
	return Output{Payload: payload, SchemaID: id, Provenance: envelope.ProvenanceLive}, nil
}

// PerformPreAnalysis asks the backend to recommend a mode and tick budget.
func (l *Live) PerformPreAnalysis(ctx context.Context, hypothesis string) (PreAnalysis, error) {
	var modeNames []string
	for _, m := range ecosystem.AllModes() {
		modeNames = append(modeNames, fmt.Sprintf("%s (%s)", m, m.Description()))
	}
	system := "You prepare a hypothesis for a cognitive ecosystem simulation. Available control modes:\n- " +
		strings.Join(modeNames, "\n- ") +
		"\n\nRespond with one JSON object: {\"recommended_mode\": string, \"recommended_ticks\": number, \"rationale\": string, \"structured_hypothesis\": string}. JSON only."

	var out PreAnalysis
	if err := l.analysisCall(ctx, system, "Hypothesis:\n"+hypothesis, &out); err != nil {
		return PreAnalysis{}, err
	}
	out.RecommendedMode = ecosystem.ParseMode(out.RecommendedMode).String()
	if out.RecommendedTicks < 1 {
		out.RecommendedTicks = 1
	}
	if out.RecommendedTicks > 500 {
		out.RecommendedTicks = 500
	}
	return out, nil
}

// MetaAnalysis surveys the run through the backend.
func (l *Live) MetaAnalysis(ctx context.Context, req Request) (MetaReport, error) {
	system := "You analyze a completed simulation run. Respond with one JSON object: " +
		`{"surveys": [{"node": string, "envelopes": number, "invalid": number, "themes": [string]}], "dominant_themes": [string], "failure_clusters": [string], "narrative": string}. JSON only.`
	var out MetaReport
	if err := l.analysisCall(ctx, system, l.reportPrompt(req), &out); err != nil {
		return MetaReport{}, err
	}
	return out, nil
}

// ArbiterDecision asks the backend for a final ruling over the logged vote
// material.
func (l *Live) ArbiterDecision(ctx context.Context, req Request) (Decision, error) {
	system := "You issue the final ruling on a simulated hypothesis. Respond with one JSON object: " +
		`{"ruling": "SUPPORTED"|"REFUTED"|"UNDECIDED", "confidence": number, "cited": [string], "rationale": string}. JSON only.`

	user := l.reportPrompt(req)
	if len(req.Votes) > 0 {
		votes, _ := json.Marshal(req.Votes)
		user += "\n\nWeighed opinions (node, schema, ruling, confidence):\n" + string(votes)
	}

	var out Decision
	if err := l.analysisCall(ctx, system, user, &out); err != nil {
		return Decision{}, err
	}
	switch out.Ruling {
	case schema.RulingSupported, schema.RulingRefuted, schema.RulingUndecided:
	default:
		return Decision{}, &fhierr.MalformedResponseError{
			Backend: l.backend.Name(),
			Reason:  fmt.Sprintf("ruling %q outside the enum", out.Ruling),
		}
	}
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

// ReportSummary renders the run digest into prose.
func (l *Live) ReportSummary(ctx context.Context, req Request) (Summary, error) {
	system := "You summarize a completed simulation run as markdown. Respond with one JSON object: " +
		`{"headline": string, "body": string}. The body is markdown. JSON only.`
	var out Summary
	if err := l.analysisCall(ctx, system, l.reportPrompt(req), &out); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// EmergenceAnalysis grades the run's emergent behavior through the backend.
func (l *Live) EmergenceAnalysis(ctx context.Context, req Request) (EmergenceScores, error) {
	system := "You grade the emergent behavior of a simulation run. Each axis is a number in [0,1]. Respond with one JSON object: " +
		`{"diversity": number, "novelty": number, "cohesion": number, "adaptability": number, "surprise": number, "commentary": string}. JSON only.`

	user := l.reportPrompt(req)
	user += fmt.Sprintf("\n\nEmergence log: %d payload records, %d adaptive actions over %d ticks.",
		len(req.Emergence.Records), len(req.Emergence.Actions), req.Emergence.Ticks)

	var out EmergenceScores
	if err := l.analysisCall(ctx, system, user, &out); err != nil {
		return EmergenceScores{}, err
	}
	out.Diversity = clamp01(out.Diversity)
	out.Novelty = clamp01(out.Novelty)
	out.Cohesion = clamp01(out.Cohesion)
	out.Adaptability = clamp01(out.Adaptability)
	out.Surprise = clamp01(out.Surprise)
	return out, nil
}

// analysisCall is the shared live analysis path: schedule, complete,
// extract, decode into out.
func (l *Live) analysisCall(ctx context.Context, system, user string, out any) error {
	if err := l.governor.Schedule(ctx); err != nil {
		return err
	}
	raw, err := l.backend.Complete(ctx, system, user, 0.3)
	if err != nil {
		return err
	}
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return &fhierr.MalformedResponseError{Backend: l.backend.Name(), Reason: "no JSON object in response", Snippet: raw}
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return &fhierr.MalformedResponseError{Backend: l.backend.Name(), Reason: err.Error(), Snippet: jsonStr}
	}
	return nil
}

// reportPrompt serializes the (budget-reduced) report for an analysis call.
// Reduction here keeps oversized reports from reaching the backend even if
// the caller skipped its own pass.
func (l *Live) reportPrompt(req Request) string {
	report := req.Report
	if l.pruner != nil {
		report, _ = l.pruner.ReduceReport(report)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf("Hypothesis:\n%s\n\nControl mode: %s\n\nRun report:\n%s", req.Hypothesis, req.Mode, raw)
}

func parsePayload(raw, backendName string) (map[string]any, error) {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, &fhierr.MalformedResponseError{Backend: backendName, Reason: "no JSON object in response", Snippet: raw}
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, &fhierr.MalformedResponseError{Backend: backendName, Reason: err.Error(), Snippet: jsonStr}
	}
	if len(payload) == 0 {
		return nil, &fhierr.MalformedResponseError{Backend: backendName, Reason: "empty JSON object", Snippet: raw}
	}
	return payload, nil
}

// extractJSON finds the outermost JSON object in a response, tolerating
// surrounding prose and markdown fences.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
