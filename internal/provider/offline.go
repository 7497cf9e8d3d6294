package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

// =============================================================================
// OFFLINE ENGINE
// =============================================================================

// Offline is the deterministic generator. Identical (node, tick, mode,
// hypothesis) always produces an identical payload, confidence included,
// so offline runs replay exactly.
type Offline struct {
	catalog    *ecosystem.Catalog
	hypothesis string
	keywords   []string
	latency    time.Duration
}

// NewOffline builds the offline engine for one run. Latency is an
// artificial per-call delay for UI pacing, zero in tests.
func NewOffline(catalog *ecosystem.Catalog, hypothesis string, latency time.Duration) *Offline {
	return &Offline{
		catalog:    catalog,
		hypothesis: hypothesis,
		keywords:   Keywords(hypothesis),
		latency:    latency,
	}
}

// GenerateNodeOutput builds the node's payload for this tick. The branch
// cycle injects the recurring special cases: branch 2 adds an undeclared
// intent field (a validation failure on strict schemas), branches 3 and 4
// turn META assessments into CUT_LOOP and REROUTE commands.
func (o *Offline) GenerateNodeOutput(ctx context.Context, node ecosystem.Node, env envelope.Envelope, mode ecosystem.Mode, directive string) (Output, error) {
	if err := o.pace(ctx); err != nil {
		return Output{}, err
	}

	profile, _ := o.catalog.Get(node)
	candidates := schema.CandidatesFor(node, mode, profile.CandidateSchemas)
	branch := (env.Tick + len(node.String())) % 5
	conf := o.confidence(node, env.Tick, mode)

	id := o.pickSchema(node, env, branch, candidates, directive)
	payload := o.payloadFor(id, env, branch, conf)

	if branch == 2 {
		payload["intent"] = "probe the thread for drift"
	}

	logging.ProviderDebug("offline %s tick %d branch %d -> %s", node, env.Tick, branch, id)
	return Output{Payload: payload, SchemaID: id, Provenance: envelope.ProvenanceOffline}, nil
}

// pickSchema chooses which candidate shape the node emits. ARBITER defers
// unless the envelope carries arbitration context or the directive asks it
// to conclude; META escalates to a command on its command branches or under
// remediation context. The other polymorphic nodes alternate on branch 1.
func (o *Offline) pickSchema(node ecosystem.Node, env envelope.Envelope, branch int, candidates []string, directive string) string {
	switch node {
	case ecosystem.NodeArbiter:
		if env.Arbitration != "" || strings.Contains(strings.ToLower(directive), "conclude") {
			return schema.ArbiterRulingID
		}
		return schema.ArbiterDeferralID
	case ecosystem.NodeMeta:
		if env.Remediation != "" || branch == 3 || branch == 4 {
			return schema.MetaCommandID
		}
		return schema.MetaAssessmentID
	case ecosystem.NodeEthos:
		// Downgraded modes carry the advisory candidate alone
		if len(candidates) == 1 {
			return candidates[0]
		}
		if branch == 1 {
			return schema.EthosAdvisoryID
		}
		return schema.EthosVerdictID
	case ecosystem.NodePhi:
		if branch == 1 {
			return schema.PhiInquiryID
		}
		return schema.PhiReflectionID
	case ecosystem.NodePhiLogic:
		if branch == 1 {
			return schema.LogicParadoxID
		}
		return schema.LogicDerivationID
	default:
		if len(candidates) > 0 {
			return candidates[0]
		}
		return schema.ContributionID(node)
	}
}

func (o *Offline) payloadFor(id string, env envelope.Envelope, branch int, conf float64) map[string]any {
	kws := o.keywords
	phrase := strings.Join(kws, " ")
	if phrase == "" {
		phrase = "the bare hypothesis"
	}
	tick := env.Tick

	switch id {
	case schema.DmatObservationID:
		obs := make([]string, 0, len(kws)+1)
		for i, k := range kws {
			obs = append(obs, fmt.Sprintf("observation %d: %q persists through tick %d", i+1, k, tick))
		}
		if len(obs) == 0 {
			obs = append(obs, "observation 1: hypothesis text carries no content terms")
		}
		return map[string]any{
			"observations": obs,
			"derived_metrics": map[string]any{
				"keyword_count": float64(len(kws)),
				"tick":          float64(tick),
			},
			"confidence": conf,
		}

	case schema.PhiReflectionID:
		return map[string]any{
			"reflection":  fmt.Sprintf("the claim presumes %s holds steady; tick %d has not shaken that", phrase, tick),
			"assumptions": []string{fmt.Sprintf("%s is well defined", phrase), "the frame survives restatement"},
			"confidence":  conf,
		}
	case schema.PhiInquiryID:
		return map[string]any{
			"inquiry":    fmt.Sprintf("what observation would separate %s from its nearest rival account?", phrase),
			"motivation": "an undistinguished claim cannot be weighed",
			"confidence": conf,
		}

	case schema.LogicDerivationID:
		return map[string]any{
			"derivation": []string{
				fmt.Sprintf("p1: %s is asserted", phrase),
				fmt.Sprintf("p2: the thread at tick %d has produced no counterexample", tick),
				"p3: absence of counterexample is weak affirmative evidence",
			},
			"conclusion": fmt.Sprintf("tentatively consistent as of tick %d", tick),
			"confidence": conf,
		}
	case schema.LogicParadoxID:
		return map[string]any{
			"paradox":            fmt.Sprintf("%s both requires and forbids a fixed reference frame", phrase),
			"colliding_premises": []string{"the claim generalizes", "the claim is indexed to its observer"},
			"confidence":         conf,
		}

	case schema.MetaAssessmentID:
		return map[string]any{
			"assessment": fmt.Sprintf("circulation steady at tick %d, no thread starving", tick),
			"loop_risk":  round2(1 - conf),
			"confidence": conf,
		}
	case schema.MetaCommandID:
		return o.commandPayload(env, branch, conf)

	case schema.ArbiterRulingID:
		return map[string]any{
			"ruling":     rulingFor(conf),
			"cited":      lastN(env.Trace, 3),
			"confidence": conf,
		}
	case schema.ArbiterDeferralID:
		return map[string]any{
			"deferral":   fmt.Sprintf("the record on %s is thin at tick %d; a ruling now would be guesswork", phrase, tick),
			"confidence": conf,
		}

	case schema.EthosVerdictID:
		return map[string]any{
			"verdict":    schema.VerdictClear,
			"grounds":    fmt.Sprintf("pursuing %s as framed exposes no party to harm", phrase),
			"confidence": conf,
		}
	case schema.EthosAdvisoryID:
		return map[string]any{
			"advisory":   fmt.Sprintf("keep %s anchored to cases a reader could check", phrase),
			"severity":   "note",
			"confidence": conf,
		}

	default:
		return map[string]any{
			"content":    fmt.Sprintf("tick %d reading: %s, taken through %s", tick, phrase, env.Source),
			"keywords":   append([]string(nil), kws...),
			"confidence": conf,
		}
	}
}

// commandPayload picks the intervention. Remediation text steers the
// action when present; otherwise branch 3 cuts and branch 4 reroutes.
func (o *Offline) commandPayload(env envelope.Envelope, branch int, conf float64) map[string]any {
	action := schema.ActionCutLoop
	reason := fmt.Sprintf("thread through %s repeats without gain", env.Source)

	if env.Remediation != "" {
		rem := strings.ToLower(env.Remediation)
		switch {
		case strings.Contains(rem, "loop"):
			action = schema.ActionCutLoop
		case strings.Contains(rem, "pace") || strings.Contains(rem, "rate") || strings.Contains(rem, "throttle"):
			action = schema.ActionThrottle
		default:
			action = schema.ActionReroute
		}
		reason = fmt.Sprintf("remediation requested: %s", env.Remediation)
	} else if branch == 4 {
		action = schema.ActionReroute
		reason = fmt.Sprintf("thread from %s drifting off the active cluster", env.Source)
	}

	return map[string]any{
		"action":     action,
		"target":     env.Source.String(),
		"reason":     reason,
		"confidence": conf,
	}
}

// confidence derives a stable value in [0.35, 0.95] from the generation
// coordinates. No RNG anywhere in the offline path.
func (o *Offline) confidence(node ecosystem.Node, tick int, mode ecosystem.Mode) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d|%s|%s", node, tick, mode, o.hypothesis)
	return 0.35 + float64(h.Sum32()%61)/100
}

func (o *Offline) pace(ctx context.Context) error {
	if o.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rulingFor(conf float64) string {
	switch {
	case conf >= 0.6:
		return schema.RulingSupported
	case conf >= 0.45:
		return schema.RulingUndecided
	default:
		return schema.RulingRefuted
	}
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return append([]string(nil), s...)
	}
	return append([]string(nil), s[len(s)-n:]...)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// =============================================================================
// KEYWORD EXTRACTION
// =============================================================================

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "could": {}, "do": {}, "for": {},
	"from": {}, "has": {}, "have": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "may": {}, "more": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "such": {},
	"than": {}, "that": {}, "the": {}, "their": {}, "then": {},
	"there": {}, "these": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"what": {}, "when": {}, "which": {}, "will": {}, "with": {}, "would": {},
}

// Keywords lowercases the text, drops stopwords, and keeps the first six
// distinct content terms in order of appearance.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, 6)
	out := make([]string, 0, 6)
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) == 6 {
			break
		}
	}
	return out
}

// =============================================================================
// OFFLINE ANALYSIS
// =============================================================================

var modeHints = []struct {
	cue       string
	mode      ecosystem.Mode
	rationale string
}{
	{"dream", ecosystem.ModeLucidDream, "oneiric framing wants creative drift with the gatekeeper advisory"},
	{"imagin", ecosystem.ModeLucidDream, "imaginative framing wants creative drift with the gatekeeper advisory"},
	{"holistic", ecosystem.ModeHolistic, "the claim spans role classes, wide fan-out fits"},
	{"whole", ecosystem.ModeHolistic, "the claim spans role classes, wide fan-out fits"},
	{"focus", ecosystem.ModeBeacon, "a narrow question converges fastest under the beacon"},
	{"converge", ecosystem.ModeBeacon, "a narrow question converges fastest under the beacon"},
	{"facet", ecosystem.ModePrisma, "decomposable claim, parallel facets pay off"},
	{"decompos", ecosystem.ModePrisma, "decomposable claim, parallel facets pay off"},
	{"deep", ecosystem.ModeFhiemdien, "depth cue, full-protocol traversal"},
}

// PerformPreAnalysis recommends a mode and tick budget from surface cues in
// the hypothesis text.
func (o *Offline) PerformPreAnalysis(ctx context.Context, hypothesis string) (PreAnalysis, error) {
	kws := Keywords(hypothesis)
	mode := ecosystem.ModeDefault
	rationale := "no framing cue in the text, balanced circulation is the safe default"

	lower := strings.ToLower(hypothesis)
	for _, hint := range modeHints {
		if strings.Contains(lower, hint.cue) {
			mode = hint.mode
			rationale = hint.rationale
			break
		}
	}

	return PreAnalysis{
		RecommendedMode:      mode.String(),
		RecommendedTicks:     8 + len(kws),
		Rationale:            rationale,
		StructuredHypothesis: fmt.Sprintf("CLAIM: %s | TERMS: %s", firstSentence(hypothesis), strings.Join(kws, ", ")),
	}, nil
}

// MetaAnalysis surveys the reduced report: traffic per node, dominant
// vocabulary, and where validation failed.
func (o *Offline) MetaAnalysis(ctx context.Context, req Request) (MetaReport, error) {
	counts := map[string]int{}
	invalid := map[string]int{}
	freq := map[string]int{}

	for _, m := range req.Report.Messages {
		counts[m.Node]++
		if !m.Valid {
			invalid[m.Node]++
		}
		for _, w := range contentWords(m.Payload) {
			freq[w]++
		}
	}

	nodes := make([]string, 0, len(counts))
	for n := range counts {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	surveys := make([]NodeSurvey, 0, len(nodes))
	var clusters []string
	for _, n := range nodes {
		surveys = append(surveys, NodeSurvey{Node: n, Envelopes: counts[n], Invalid: invalid[n]})
		if invalid[n] > 0 {
			clusters = append(clusters, fmt.Sprintf("%s: %d invalid payloads", n, invalid[n]))
		}
	}

	themes := topWords(freq, 5)
	narrative := fmt.Sprintf("%d messages across %d nodes", len(req.Report.Messages), len(nodes))
	if len(themes) > 0 {
		narrative += fmt.Sprintf("; the vocabulary circles %s", strings.Join(themes, ", "))
	}
	if len(clusters) > 0 {
		narrative += fmt.Sprintf("; validation failed in %d node(s)", len(clusters))
	}

	return MetaReport{
		Surveys:         surveys,
		DominantThemes:  themes,
		FailureClusters: clusters,
		Narrative:       narrative + ".",
	}, nil
}

// ArbiterDecision tallies a confidence-weighted vote. Explicit rulings
// weigh double, an ethics violation votes against, a clear verdict votes
// weakly for, and synthesis contributions vote for at face confidence.
func (o *Offline) ArbiterDecision(ctx context.Context, req Request) (Decision, error) {
	if len(req.Votes) == 0 {
		return Decision{
			Ruling:    schema.RulingUndecided,
			Rationale: "no arbiter-class envelopes logged",
		}, nil
	}

	type cite struct {
		id     string
		weight float64
	}
	tally := map[string]float64{}
	cites := map[string][]cite{}
	total := 0.0

	for _, v := range req.Votes {
		var ruling string
		weight := v.Confidence
		switch v.Ruling {
		case schema.RulingSupported, schema.RulingRefuted, schema.RulingUndecided:
			ruling = v.Ruling
			weight *= 2
		case schema.VerdictViolation:
			ruling = schema.RulingRefuted
		case schema.VerdictClear:
			ruling = schema.RulingSupported
			weight /= 2
		default:
			if v.Node == ecosystem.NodeArbiter {
				ruling = schema.RulingUndecided
			} else {
				ruling = schema.RulingSupported
			}
		}
		tally[ruling] += weight
		total += weight
		cites[ruling] = append(cites[ruling], cite{id: v.EnvelopeID, weight: weight})
	}

	winner := schema.RulingUndecided
	best := -1.0
	for _, r := range []string{schema.RulingSupported, schema.RulingRefuted, schema.RulingUndecided} {
		if tally[r] > best {
			winner, best = r, tally[r]
		}
	}

	confidence := 0.0
	if total > 0 {
		confidence = best / total
	}

	backing := cites[winner]
	sort.SliceStable(backing, func(i, j int) bool {
		if backing[i].weight != backing[j].weight {
			return backing[i].weight > backing[j].weight
		}
		return backing[i].id < backing[j].id
	})
	if len(backing) > 5 {
		backing = backing[:5]
	}
	cited := make([]string, 0, len(backing))
	for _, c := range backing {
		if c.id != "" {
			cited = append(cited, c.id)
		}
	}

	return Decision{
		Ruling:     winner,
		Confidence: round2(confidence),
		Cited:      cited,
		Rationale:  fmt.Sprintf("%s carries %.2f of %.2f weighted vote mass across %d voters", winner, best, total, len(req.Votes)),
	}, nil
}

// ReportSummary renders the reduced report as markdown.
func (o *Offline) ReportSummary(ctx context.Context, req Request) (Summary, error) {
	msgs := req.Report.Messages
	invalid := 0
	for _, m := range msgs {
		if !m.Valid {
			invalid++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Hypothesis\n\n%s\n\n", req.Hypothesis)
	fmt.Fprintf(&b, "## Traffic\n\n- %d messages logged, %d failed validation\n- control mode: %s\n", len(msgs), invalid, req.Mode)
	if req.Report.Note != "" {
		fmt.Fprintf(&b, "- %s\n", req.Report.Note)
	}

	if len(req.Report.FinalState) > 0 {
		fmt.Fprintf(&b, "\n## Final positions\n\n")
		nodes := make([]string, 0, len(req.Report.FinalState))
		for n := range req.Report.FinalState {
			nodes = append(nodes, n)
		}
		sort.Strings(nodes)
		for _, n := range nodes {
			f := req.Report.FinalState[n]
			fmt.Fprintf(&b, "- %s closed on %s at confidence %.2f\n", n, f.SchemaID, f.Confidence)
		}
	}

	return Summary{
		Headline: fmt.Sprintf("Run digest: %d messages in %s mode", len(msgs), req.Mode),
		Body:     b.String(),
	}, nil
}

// EmergenceAnalysis scores the run on the five emergence axes using the
// closed-form formulas over the emergence log.
func (o *Offline) EmergenceAnalysis(ctx context.Context, req Request) (EmergenceScores, error) {
	in := req.Emergence
	s := EmergenceScores{
		Diversity:    schemaEntropy(in.Records),
		Novelty:      noveltyRate(in.Records),
		Cohesion:     traceOverlap(in.Traces),
		Adaptability: adaptability(in.Records, in.Actions),
		Surprise:     surpriseRate(in.Trajectory),
	}
	s.Commentary = emergenceCommentary(s)
	return s, nil
}

// schemaEntropy is the normalized Shannon entropy of the schema mix.
func schemaEntropy(records []envelope.PayloadRecord) float64 {
	counts := map[string]int{}
	for _, r := range records {
		counts[r.SchemaID]++
	}
	if len(counts) <= 1 {
		return 0
	}
	h := 0.0
	n := float64(len(records))
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log(p)
	}
	return round2(h / math.Log(float64(len(counts))))
}

// noveltyRate is the share of records introducing a schema not seen before.
func noveltyRate(records []envelope.PayloadRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	seen := map[string]struct{}{}
	news := 0
	for _, r := range records {
		if _, ok := seen[r.SchemaID]; !ok {
			seen[r.SchemaID] = struct{}{}
			news++
		}
	}
	return round2(float64(news) / float64(len(records)))
}

// traceOverlap is the mean Jaccard overlap between consecutive causal
// traces. Threads that share history score high.
func traceOverlap(traces [][]string) float64 {
	if len(traces) < 2 {
		return 0
	}
	sum := 0.0
	pairs := 0
	for i := 1; i < len(traces); i++ {
		a, b := traces[i-1], traces[i]
		if len(a) == 0 && len(b) == 0 {
			continue
		}
		set := map[string]struct{}{}
		for _, s := range a {
			set[s] = struct{}{}
		}
		inter := 0
		bSeen := map[string]struct{}{}
		for _, s := range b {
			if _, dup := bSeen[s]; dup {
				continue
			}
			bSeen[s] = struct{}{}
			if _, ok := set[s]; ok {
				inter++
			}
		}
		union := len(set) + len(bSeen) - inter
		sum += float64(inter) / float64(union)
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return round2(sum / float64(pairs))
}

// adaptability is adaptive actions taken per problem observed, capped at
// one. A run with nothing to adapt to scores full marks.
func adaptability(records []envelope.PayloadRecord, actions []envelope.AdaptiveAction) float64 {
	problems := 0
	for _, r := range records {
		if !r.Valid {
			problems++
		}
	}
	if problems == 0 {
		return 1
	}
	return round2(math.Min(1, float64(len(actions))/float64(problems)))
}

// surpriseRate is the share of tick transitions where mean confidence
// jumped by more than 0.15.
func surpriseRate(trajectory []envelope.TickConfidence) float64 {
	if len(trajectory) < 2 {
		return 0
	}
	jumps := 0
	for i := 1; i < len(trajectory); i++ {
		if math.Abs(trajectory[i].Mean-trajectory[i-1].Mean) > 0.15 {
			jumps++
		}
	}
	return round2(float64(jumps) / float64(len(trajectory)-1))
}

func emergenceCommentary(s EmergenceScores) string {
	axes := []struct {
		name  string
		value float64
	}{
		{"diversity", s.Diversity},
		{"novelty", s.Novelty},
		{"cohesion", s.Cohesion},
		{"adaptability", s.Adaptability},
		{"surprise", s.Surprise},
	}
	lead := axes[0]
	for _, a := range axes[1:] {
		if a.value > lead.value {
			lead = a
		}
	}
	return fmt.Sprintf("%s leads the emergence profile at %.2f", lead.name, lead.value)
}

// fieldNoise keeps declared schema field names out of theme counting;
// payloads arrive as serialized JSON, so the keys would otherwise dominate.
var fieldNoise = map[string]struct{}{
	"confidence": {}, "content": {}, "keywords": {}, "observations": {},
	"derived": {}, "metrics": {}, "reflection": {}, "assumptions": {},
	"inquiry": {}, "motivation": {}, "derivation": {}, "conclusion": {},
	"paradox": {}, "colliding": {}, "premises": {}, "assessment": {},
	"action": {}, "target": {}, "reason": {}, "ruling": {}, "cited": {},
	"deferral": {}, "verdict": {}, "grounds": {}, "advisory": {},
	"severity": {}, "hypothesis": {}, "mode": {}, "requested": {}, "ticks": {},
}

func contentWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 4 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, noise := fieldNoise[f]; noise {
			continue
		}
		out = append(out, f)
	}
	return out
}

func topWords(freq map[string]int, n int) []string {
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '?' || r == '!' {
			return text[:i+1]
		}
		if i >= 120 {
			return text[:i]
		}
	}
	return text
}
