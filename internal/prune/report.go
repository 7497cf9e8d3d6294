package prune

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/config"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// Message is the report-facing view of one logged envelope.
type Message struct {
	Tick     int    `json:"tick"`
	Node     string `json:"node"`
	SchemaID string `json:"schema_id"`
	Valid    bool   `json:"valid"`
	Payload  string `json:"payload"`
}

// NodeFinal is a node's last word in the run.
type NodeFinal struct {
	SchemaID   string         `json:"schema_id"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Report is the run digest handed to post-run analysis prompts.
type Report struct {
	Hypothesis string               `json:"hypothesis"`
	Mode       string               `json:"mode"`
	Messages   []Message            `json:"messages"`
	FinalState map[string]NodeFinal `json:"final_state,omitempty"`
	Note       string               `json:"note,omitempty"`
}

// Stage names reported by ReduceReport.
const (
	StageSample   = "sample_messages"
	StageCollapse = "collapse_final_state"
	StageHardCap  = "hard_cap"
)

// Options tunes the pruner. Zero values fall back to defaults.
type Options struct {
	TraceThreshold   int     // trace entries that trigger trimming
	KeepRecent       int     // trace entries kept after the marker
	BudgetChars      int     // report budget, in serialized characters
	HeadShare        float64 // share of the sample cap kept from the head
	TailShare        float64 // share of the sample cap kept from the tail
	SampleCap        int     // message count after the sampling stage
	PayloadCharLimit int     // payloads above this render as one-line summaries
}

// DefaultOptions mirrors the shipped configuration defaults.
func DefaultOptions() Options {
	return Options{
		TraceThreshold:   12,
		KeepRecent:       11,
		BudgetChars:      24000,
		HeadShare:        0.4,
		TailShare:        0.4,
		SampleCap:        500,
		PayloadCharLimit: 600,
	}
}

// OptionsFromConfig maps the prune config block onto pruner options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TraceThreshold:   cfg.Prune.TraceThreshold,
		KeepRecent:       cfg.Prune.KeepRecent,
		BudgetChars:      cfg.Prune.ReportBudgetChars,
		HeadShare:        cfg.Prune.HeadShare,
		TailShare:        cfg.Prune.TailShare,
		SampleCap:        cfg.Prune.SampleCap,
		PayloadCharLimit: cfg.Prune.PayloadCharLimit,
	}
}

// Pruner applies the configured reductions.
type Pruner struct {
	opts   Options
	budget int // in estimator units
}

// New builds a pruner, normalizing unusable option values.
func New(opts Options) *Pruner {
	def := DefaultOptions()
	if opts.TraceThreshold < 2 {
		opts.TraceThreshold = def.TraceThreshold
	}
	if opts.KeepRecent < 1 || opts.KeepRecent >= opts.TraceThreshold {
		opts.KeepRecent = opts.TraceThreshold - 1
	}
	if opts.BudgetChars < 1 {
		opts.BudgetChars = def.BudgetChars
	}
	if opts.HeadShare <= 0 || opts.TailShare <= 0 || opts.HeadShare+opts.TailShare > 1 {
		opts.HeadShare, opts.TailShare = def.HeadShare, def.TailShare
	}
	if opts.SampleCap < 3 {
		opts.SampleCap = def.SampleCap
	}
	if opts.PayloadCharLimit < 16 {
		opts.PayloadCharLimit = def.PayloadCharLimit
	}
	return &Pruner{opts: opts, budget: opts.BudgetChars / charsPerToken}
}

// TrimEnvelope applies the configured trace trim.
func (p *Pruner) TrimEnvelope(env envelope.Envelope) envelope.Envelope {
	return TrimTrace(env, p.opts.TraceThreshold, p.opts.KeepRecent)
}

// ReduceReport shrinks a report until it fits the budget, applying stages
// only as long as the previous output still exceeds it. Returns the reduced
// report and the stages applied.
func (p *Pruner) ReduceReport(r Report) (Report, []string) {
	if !p.overBudget(r) {
		return r, nil
	}
	var applied []string

	r = p.sampleStage(r)
	applied = append(applied, StageSample)
	if !p.overBudget(r) {
		logging.Prune("report reduced within budget after %s", StageSample)
		return r, applied
	}

	r = collapseFinalState(r)
	applied = append(applied, StageCollapse)
	if !p.overBudget(r) {
		logging.Prune("report reduced within budget after %s", StageCollapse)
		return r, applied
	}

	r = p.hardCapStage(r)
	applied = append(applied, StageHardCap)
	logging.Prune("report hard-capped, estimate %d against budget %d", EstimateSize(r), p.budget)
	return r, applied
}

func (p *Pruner) overBudget(r Report) bool {
	return EstimateSize(r) > p.budget
}

// sampleStage keeps head and tail blocks plus an evenly strided middle
// sample, and summarizes oversized payloads to one line.
func (p *Pruner) sampleStage(r Report) Report {
	msgs := r.Messages
	origin := len(msgs)

	if origin > p.opts.SampleCap {
		headN := int(p.opts.HeadShare * float64(p.opts.SampleCap))
		tailN := int(p.opts.TailShare * float64(p.opts.SampleCap))
		midN := p.opts.SampleCap - headN - tailN

		sampled := make([]Message, 0, p.opts.SampleCap)
		sampled = append(sampled, msgs[:headN]...)

		middle := msgs[headN : origin-tailN]
		if midN > 0 && len(middle) > 0 {
			stride := len(middle) / midN
			if stride < 1 {
				stride = 1
			}
			for i := 0; i < midN && i*stride < len(middle); i++ {
				sampled = append(sampled, middle[i*stride])
			}
		}
		sampled = append(sampled, msgs[origin-tailN:]...)
		msgs = sampled
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if len(m.Payload) > p.opts.PayloadCharLimit {
			m.Payload = summarizeLine(m.Payload, p.opts.PayloadCharLimit)
		}
		out[i] = m
	}

	r.Messages = out
	if len(out) < origin {
		r.Note = fmt.Sprintf("messages sampled from %d to %d", origin, len(out))
	}
	return r
}

// collapseFinalState drops final payload detail, leaving schema id and
// confidence per node.
func collapseFinalState(r Report) Report {
	if r.FinalState == nil {
		return r
	}
	collapsed := make(map[string]NodeFinal, len(r.FinalState))
	for n, f := range r.FinalState {
		collapsed[n] = NodeFinal{SchemaID: f.SchemaID, Confidence: f.Confidence}
	}
	r.FinalState = collapsed
	return r
}

// hardCapStage is the last resort: final state gone, messages down to the
// head and tail blocks alone.
func (p *Pruner) hardCapStage(r Report) Report {
	headN := int(p.opts.HeadShare * float64(p.opts.SampleCap))
	tailN := int(p.opts.TailShare * float64(p.opts.SampleCap))

	msgs := r.Messages
	if len(msgs) > headN+tailN {
		capped := make([]Message, 0, headN+tailN)
		capped = append(capped, msgs[:headN]...)
		capped = append(capped, msgs[len(msgs)-tailN:]...)
		msgs = capped
	}

	r.Messages = msgs
	r.FinalState = nil
	r.Note = fmt.Sprintf("hard-capped to %d messages", len(msgs))
	return r
}

func summarizeLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	cut := limit - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// MessagesFromEnvelopes renders logged envelopes into report messages.
func MessagesFromEnvelopes(envs []envelope.Envelope) []Message {
	out := make([]Message, len(envs))
	for i, e := range envs {
		out[i] = Message{
			Tick:     e.Tick,
			Node:     e.Source.String(),
			SchemaID: e.SchemaID,
			Valid:    e.Validation.SchemaOK,
			Payload:  renderPayload(e.Payload),
		}
	}
	return out
}

// FinalStateFromEnvelopes keeps each node's last envelope.
func FinalStateFromEnvelopes(envs []envelope.Envelope) map[string]NodeFinal {
	out := make(map[string]NodeFinal)
	for _, e := range envs {
		conf, _ := e.Confidence()
		out[e.Source.String()] = NodeFinal{
			SchemaID:   e.SchemaID,
			Confidence: conf,
			Payload:    e.Clone().Payload,
		}
	}
	return out
}

func renderPayload(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(raw)
}
