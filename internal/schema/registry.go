package schema

import (
	"sort"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
)

// Well-known schema ids referenced outside this package.
const (
	SeedID            = "FD.SEED.v1"
	DmatObservationID = "FD.DMAT.OBSERVATION.v1"
	PhiReflectionID   = "FD.PHI.REFLECTION.v1"
	PhiInquiryID      = "FD.PHI.INQUIRY.v1"
	LogicDerivationID = "FD.PHI_LOGIC.DERIVATION.v1"
	LogicParadoxID    = "FD.PHI_LOGIC.PARADOX.v1"
	MetaAssessmentID  = "FD.META.ASSESSMENT.v1"
	MetaCommandID     = "FD.META.COMMAND.v1"
	ArbiterRulingID   = "FD.ARBITER.RULING.v1"
	ArbiterDeferralID = "FD.ARBITER.DEFERRAL.v1"
	EthosVerdictID    = "FD.ETHOS.VERDICT.v1"
	EthosAdvisoryID   = "FD.ETHOS.ADVISORY.v1"
)

// Actions accepted by FD.META.COMMAND.v1.
const (
	ActionCutLoop  = "CUT_LOOP"
	ActionReroute  = "REROUTE"
	ActionThrottle = "THROTTLE"
)

// Rulings accepted by FD.ARBITER.RULING.v1.
const (
	RulingSupported = "SUPPORTED"
	RulingRefuted   = "REFUTED"
	RulingUndecided = "UNDECIDED"
)

// Verdicts accepted by FD.ETHOS.VERDICT.v1.
const (
	VerdictClear     = "CLEAR"
	VerdictViolation = "VIOLATION"
)

// ContributionID returns the plain single-variant schema id for a node.
func ContributionID(node ecosystem.Node) string {
	return "FD." + string(node) + ".CONTRIBUTION.v1"
}

var (
	registry map[string]*Schema
	nodeIDs  map[ecosystem.Node][]string
)

func register(s *Schema) {
	if _, dup := registry[s.ID]; dup {
		panic("schema " + s.ID + " registered twice")
	}
	registry[s.ID] = s.compile()
	nodeIDs[s.Node] = append(nodeIDs[s.Node], s.ID)
}

func bound(v float64) *float64 { return &v }

func confidenceField(required bool) Field {
	return Field{Name: "confidence", Type: TypeNumber, Required: required, Min: bound(0), Max: bound(1)}
}

// contribution is the shared single-variant contract: free-form content,
// extracted keywords, and a confidence reading.
func contribution(node ecosystem.Node) *Schema {
	return &Schema{
		ID:   ContributionID(node),
		Node: node,
		Fields: []Field{
			{Name: "content", Type: TypeString, Required: true},
			{Name: "keywords", Type: TypeArray},
			confidenceField(true),
		},
	}
}

func init() {
	registry = make(map[string]*Schema, 32)
	nodeIDs = make(map[ecosystem.Node][]string, 24)

	modeNames := make([]string, 0, 6)
	for _, m := range ecosystem.AllModes() {
		modeNames = append(modeNames, m.String())
	}
	register(&Schema{
		ID:   SeedID,
		Node: ecosystem.NodeHuman,
		Fields: []Field{
			{Name: "hypothesis", Type: TypeString, Required: true},
			{Name: "mode", Type: TypeString, Enum: modeNames},
			{Name: "requested_ticks", Type: TypeNumber, Min: bound(1), Max: bound(500)},
		},
	})

	for _, n := range []ecosystem.Node{
		ecosystem.NodeSci, ecosystem.NodeLogos,
		ecosystem.NodeIntu, ecosystem.NodeImag, ecosystem.NodeMuse, ecosystem.NodePoet, ecosystem.NodePathos,
		ecosystem.NodeInsight, ecosystem.NodeWeaver, ecosystem.NodeEcho, ecosystem.NodeMem,
		ecosystem.NodeChronos, ecosystem.NodeKairos, ecosystem.NodeHorizon,
	} {
		register(contribution(n))
	}

	// DMAT is the strict node: any field outside the declared set fails
	// validation, which the offline generator exercises on purpose.
	register(&Schema{
		ID:     DmatObservationID,
		Node:   ecosystem.NodeDmat,
		Strict: true,
		Fields: []Field{
			{Name: "observations", Type: TypeArray, Required: true},
			{Name: "derived_metrics", Type: TypeObject},
			confidenceField(true),
		},
	})

	register(&Schema{
		ID:            PhiReflectionID,
		Node:          ecosystem.NodePhi,
		Discriminator: "reflection",
		Fields: []Field{
			{Name: "reflection", Type: TypeString, Required: true},
			{Name: "assumptions", Type: TypeArray},
			confidenceField(true),
		},
	})
	register(&Schema{
		ID:            PhiInquiryID,
		Node:          ecosystem.NodePhi,
		Discriminator: "inquiry",
		Fields: []Field{
			{Name: "inquiry", Type: TypeString, Required: true},
			{Name: "motivation", Type: TypeString},
			confidenceField(true),
		},
	})

	register(&Schema{
		ID:            LogicDerivationID,
		Node:          ecosystem.NodePhiLogic,
		Discriminator: "derivation",
		Fields: []Field{
			{Name: "derivation", Type: TypeArray, Required: true},
			{Name: "conclusion", Type: TypeString, Required: true},
			confidenceField(true),
		},
	})
	register(&Schema{
		ID:            LogicParadoxID,
		Node:          ecosystem.NodePhiLogic,
		Discriminator: "paradox",
		Fields: []Field{
			{Name: "paradox", Type: TypeString, Required: true},
			{Name: "colliding_premises", Type: TypeArray},
			confidenceField(true),
		},
	})

	register(&Schema{
		ID:            MetaAssessmentID,
		Node:          ecosystem.NodeMeta,
		Discriminator: "assessment",
		Fields: []Field{
			{Name: "assessment", Type: TypeString, Required: true},
			{Name: "loop_risk", Type: TypeNumber, Min: bound(0), Max: bound(1)},
			confidenceField(true),
		},
	})
	register(&Schema{
		ID:            MetaCommandID,
		Node:          ecosystem.NodeMeta,
		Discriminator: "action",
		Fields: []Field{
			{Name: "action", Type: TypeString, Required: true, Enum: []string{ActionCutLoop, ActionReroute, ActionThrottle}},
			{Name: "target", Type: TypeString, Required: true},
			{Name: "reason", Type: TypeString, Required: true},
			confidenceField(false),
		},
	})

	register(&Schema{
		ID:            ArbiterRulingID,
		Node:          ecosystem.NodeArbiter,
		Discriminator: "ruling",
		Fields: []Field{
			{Name: "ruling", Type: TypeString, Required: true, Enum: []string{RulingSupported, RulingRefuted, RulingUndecided}},
			{Name: "cited", Type: TypeArray},
			confidenceField(true),
		},
	})
	register(&Schema{
		ID:            ArbiterDeferralID,
		Node:          ecosystem.NodeArbiter,
		Discriminator: "deferral",
		Fields: []Field{
			{Name: "deferral", Type: TypeString, Required: true},
			confidenceField(true),
		},
	})

	register(&Schema{
		ID:            EthosVerdictID,
		Node:          ecosystem.NodeEthos,
		Discriminator: "verdict",
		Fields: []Field{
			{Name: "verdict", Type: TypeString, Required: true, Enum: []string{VerdictClear, VerdictViolation}},
			{Name: "grounds", Type: TypeString},
			confidenceField(true),
		},
	})
	register(&Schema{
		ID:            EthosAdvisoryID,
		Node:          ecosystem.NodeEthos,
		Discriminator: "advisory",
		Fields: []Field{
			{Name: "advisory", Type: TypeString, Required: true},
			{Name: "severity", Type: TypeString, Enum: []string{"note", "caution", "strong"}},
			confidenceField(true),
		},
	})
}

// Lookup returns the compiled schema for id, nil when unregistered.
func Lookup(id string) *Schema {
	return registry[id]
}

// SchemasForNode returns the registered schema ids a node owns, in
// registration order.
func SchemasForNode(node ecosystem.Node) []string {
	ids := nodeIDs[node]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// AllIDs returns every registered schema id, sorted.
func AllIDs() []string {
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks payload against the registered schema. Unknown ids are
// vacuously valid; HUMAN contributions and external payloads rely on that.
func Validate(schemaID string, payload map[string]any) Result {
	s := Lookup(schemaID)
	if s == nil {
		return Result{SchemaOK: true}
	}
	return s.Validate(payload)
}
