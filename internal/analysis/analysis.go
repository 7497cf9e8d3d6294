// Package analysis turns a completed run into its post-run digest: the
// per-node meta-analysis, the final arbiter decision, the emergence
// scores, and the markdown monitor report. Everything reads the run log
// and emergence log as-is; the run is over by the time this executes.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/provider"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
)

// Provider is the post-run slice of the provider surface. The failover
// wrapper satisfies it with the live-then-offline guarantee already
// applied.
type Provider interface {
	MetaAnalysis(ctx context.Context, req provider.Request) (provider.MetaReport, error)
	ArbiterDecision(ctx context.Context, req provider.Request) (provider.Decision, error)
	ReportSummary(ctx context.Context, req provider.Request) (provider.Summary, error)
	EmergenceAnalysis(ctx context.Context, req provider.Request) (provider.EmergenceScores, error)
}

// RunData is what a finished run hands over for analysis.
type RunData struct {
	Hypothesis string
	Mode       ecosystem.Mode
	Outcome    string
	Status     envelope.SystemStatus
	Log        *envelope.RunLog
	Emergence  *envelope.EmergenceLog
}

// ValidationFailure is one schema rejection surfaced in the report.
type ValidationFailure struct {
	Tick     int      `json:"tick"`
	Node     string   `json:"node"`
	SchemaID string   `json:"schema_id"`
	Problems []string `json:"problems"`
}

// Result is the full post-run digest.
type Result struct {
	RunID      string                    `json:"run_id"`
	Hypothesis string                    `json:"hypothesis"`
	Mode       ecosystem.Mode            `json:"mode"`
	Outcome    string                    `json:"outcome"`
	Ticks      int                       `json:"ticks"`
	Messages   int                       `json:"messages"`
	Status     envelope.SystemStatus     `json:"status"`
	Meta       provider.MetaReport       `json:"meta"`
	Decision   provider.Decision         `json:"decision"`
	Summary    provider.Summary          `json:"summary"`
	Emergence  provider.EmergenceScores  `json:"emergence"`
	Trajectory []envelope.TickConfidence `json:"trajectory"`
	Actions    []envelope.AdaptiveAction `json:"actions"`
	Failures   []ValidationFailure       `json:"failures,omitempty"`
	Reduction  []string                  `json:"reduction,omitempty"`
	Generated  time.Time                 `json:"generated"`
}

// Analyzer drives the post-run pipeline.
type Analyzer struct {
	prov   Provider
	pruner *prune.Pruner
}

// New builds an analyzer over the given provider and pruner.
func New(prov Provider, pruner *prune.Pruner) *Analyzer {
	if pruner == nil {
		pruner = prune.New(prune.DefaultOptions())
	}
	return &Analyzer{prov: prov, pruner: pruner}
}

// Analyze runs the four post-run calls over the reduced run digest. An
// error here is context-class only; provider degradation is absorbed
// upstream.
func (a *Analyzer) Analyze(ctx context.Context, run RunData) (Result, error) {
	if run.Log == nil || run.Emergence == nil {
		return Result{}, fmt.Errorf("analysis needs both the run log and the emergence log")
	}
	started := time.Now()
	req, stages := a.buildRequest(run)
	logging.Analysis("analyzing run %s: %d messages in digest, %d votes, reduction=%v",
		run.Log.RunID(), len(req.Report.Messages), len(req.Votes), stages)

	meta, err := a.prov.MetaAnalysis(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("meta-analysis: %w", err)
	}
	decision, err := a.prov.ArbiterDecision(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("arbiter decision: %w", err)
	}
	summary, err := a.prov.ReportSummary(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("report summary: %w", err)
	}
	emergence, err := a.prov.EmergenceAnalysis(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("emergence analysis: %w", err)
	}

	envs := run.Log.All()
	res := Result{
		RunID:      run.Log.RunID(),
		Hypothesis: run.Hypothesis,
		Mode:       run.Mode,
		Outcome:    run.Outcome,
		Ticks:      lastTick(envs),
		Messages:   len(envs),
		Status:     run.Status,
		Meta:       meta,
		Decision:   decision,
		Summary:    summary,
		Emergence:  emergence,
		Trajectory: run.Emergence.Trajectory(),
		Actions:    run.Emergence.Actions(),
		Failures:   collectFailures(envs),
		Reduction:  stages,
		Generated:  time.Now(),
	}
	logging.Analysis("run %s analyzed in %s: ruling=%s confidence=%.2f",
		res.RunID, time.Since(started).Round(time.Millisecond), decision.Ruling, decision.Confidence)
	return res, nil
}

// buildRequest reduces the run log into the provider request. The report
// reduction stages applied are returned for the digest.
func (a *Analyzer) buildRequest(run RunData) (provider.Request, []string) {
	envs := run.Log.All()
	report := prune.Report{
		Hypothesis: run.Hypothesis,
		Mode:       run.Mode.String(),
		Messages:   prune.MessagesFromEnvelopes(envs),
		FinalState: prune.FinalStateFromEnvelopes(envs),
	}
	report, stages := a.pruner.ReduceReport(report)

	return provider.Request{
		Hypothesis: run.Hypothesis,
		Mode:       run.Mode,
		Report:     report,
		Votes:      CollectVotes(envs),
		Emergence:  EmergenceFrom(run.Emergence, envs),
	}, stages
}

// CollectVotes extracts the arbiter-class opinions from the log: ARBITER
// rulings and deferrals, ETHOS verdicts, INSIGHT syntheses. The ruling
// field carries whatever explicit ruling or verdict the payload holds.
func CollectVotes(envs []envelope.Envelope) []provider.Vote {
	var votes []provider.Vote
	for _, e := range envs {
		switch e.Source {
		case ecosystem.NodeArbiter, ecosystem.NodeInsight, ecosystem.NodeEthos:
		default:
			continue
		}
		ruling := ""
		if r, ok := e.Payload["ruling"].(string); ok {
			ruling = r
		} else if v, ok := e.Payload["verdict"].(string); ok {
			ruling = v
		}
		conf, _ := e.Confidence()
		votes = append(votes, provider.Vote{
			EnvelopeID: e.ID,
			Node:       e.Source,
			SchemaID:   e.SchemaID,
			Ruling:     ruling,
			Confidence: conf,
		})
	}
	return votes
}

// EmergenceFrom pairs the emergence log views with the causal traces the
// cohesion formula needs. Records and envelopes append in the same
// order, so traces align by index.
func EmergenceFrom(em *envelope.EmergenceLog, envs []envelope.Envelope) provider.EmergenceInputs {
	records := em.Records()
	traces := make([][]string, len(records))
	for i := range records {
		if i < len(envs) {
			traces[i] = envs[i].Trace
		}
	}
	return provider.EmergenceInputs{
		Records:    records,
		Trajectory: em.Trajectory(),
		Actions:    em.Actions(),
		Traces:     traces,
		Ticks:      lastTick(envs),
	}
}

func collectFailures(envs []envelope.Envelope) []ValidationFailure {
	var out []ValidationFailure
	for _, e := range envs {
		if e.Validation.SchemaOK {
			continue
		}
		problems := make([]string, 0, len(e.Validation.Violations))
		for _, v := range e.Validation.Violations {
			problems = append(problems, fmt.Sprintf("%s: %s", v.Field, v.Message))
		}
		out = append(out, ValidationFailure{
			Tick:     e.Tick,
			Node:     e.Source.String(),
			SchemaID: e.SchemaID,
			Problems: problems,
		})
	}
	return out
}

func lastTick(envs []envelope.Envelope) int {
	last := 0
	for _, e := range envs {
		if e.Tick > last {
			last = e.Tick
		}
	}
	return last
}
