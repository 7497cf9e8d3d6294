// Package provider generates node payloads and post-run analyses, either
// against a live generation backend or through the deterministic offline
// engine. The failover wrapper guarantees the orchestrator a usable result
// for every call regardless of backend health.
package provider

import (
	"context"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
)

// Output is one generated payload with its resolved schema.
type Output struct {
	Payload    map[string]any
	SchemaID   string
	Provenance envelope.Provenance
}

// PreAnalysis is the pre-run hypothesis assessment.
type PreAnalysis struct {
	RecommendedMode      string `json:"recommended_mode"`
	RecommendedTicks     int    `json:"recommended_ticks"`
	Rationale            string `json:"rationale"`
	StructuredHypothesis string `json:"structured_hypothesis"`
}

// NodeSurvey is one node's row in the meta-analysis.
type NodeSurvey struct {
	Node      string   `json:"node"`
	Envelopes int      `json:"envelopes"`
	Invalid   int      `json:"invalid"`
	Themes    []string `json:"themes,omitempty"`
}

// MetaReport surveys how the run's contributions distributed and failed.
type MetaReport struct {
	Surveys         []NodeSurvey `json:"surveys"`
	DominantThemes  []string     `json:"dominant_themes"`
	FailureClusters []string     `json:"failure_clusters,omitempty"`
	Narrative       string       `json:"narrative"`
}

// Decision is the final hypothesis ruling.
type Decision struct {
	Ruling     string   `json:"ruling"`
	Confidence float64  `json:"confidence"`
	Cited      []string `json:"cited,omitempty"`
	Rationale  string   `json:"rationale"`
}

// Summary is the prose digest of a completed run.
type Summary struct {
	Headline string `json:"headline"`
	Body     string `json:"body"`
}

// EmergenceScores grades the run's emergent behavior, each axis in [0,1].
type EmergenceScores struct {
	Diversity    float64 `json:"diversity"`
	Novelty      float64 `json:"novelty"`
	Cohesion     float64 `json:"cohesion"`
	Adaptability float64 `json:"adaptability"`
	Surprise     float64 `json:"surprise"`
	Commentary   string  `json:"commentary,omitempty"`
}

// Vote is one weighed opinion feeding the arbiter decision.
type Vote struct {
	EnvelopeID string
	Node       ecosystem.Node
	SchemaID   string
	Ruling     string // explicit ruling or verdict carried by the payload
	Confidence float64
}

// EmergenceInputs carries the emergence-log views the offline formulas
// need. Traces aligns with Records by index.
type EmergenceInputs struct {
	Records    []envelope.PayloadRecord
	Trajectory []envelope.TickConfidence
	Actions    []envelope.AdaptiveAction
	Traces     [][]string
	Ticks      int
}

// Request bundles the reduced run digest for one analysis call.
type Request struct {
	Hypothesis string
	Mode       ecosystem.Mode
	Report     prune.Report
	Votes      []Vote
	Emergence  EmergenceInputs
}

// Provider produces node payloads during a run and analyses after it.
// GenerateNodeOutput returns the payload a node emits in response to an
// incoming envelope; directive carries an orchestrator instruction that
// overrides the node's ordinary posture (conclude, remediate).
type Provider interface {
	GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (Output, error)
	PerformPreAnalysis(ctx context.Context, hypothesis string) (PreAnalysis, error)
	MetaAnalysis(ctx context.Context, req Request) (MetaReport, error)
	ArbiterDecision(ctx context.Context, req Request) (Decision, error)
	ReportSummary(ctx context.Context, req Request) (Summary, error)
	EmergenceAnalysis(ctx context.Context, req Request) (EmergenceScores, error)
}
