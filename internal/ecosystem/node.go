// Package ecosystem defines the node catalog of the cognitive ecosystem:
// the node enumeration, role classes, destination aliases, control modes,
// and per-node persona profiles.
package ecosystem

import "fmt"

// =============================================================================
// NODE TYPES AND CONSTANTS
// =============================================================================

// Node identifies one agent in the ecosystem.
type Node string

const (
	// Sentinel nodes (no generation of their own)
	NodeHuman        Node = "HUMAN"        // Seed injector, run entry point
	NodeOrchestrator Node = "ORCHESTRATOR" // Engine itself as addressable endpoint

	// Analytic nodes
	NodePhi      Node = "PHI"       // Philosopher
	NodePhiLogic Node = "PHI_LOGIC" // Formal logician
	NodeSci      Node = "SCI"       // Empirical scientist
	NodeDmat     Node = "DMAT"      // Data formalist
	NodeLogos    Node = "LOGOS"     // Argument structurer

	// Creative nodes
	NodeIntu   Node = "INTU"   // Intuition
	NodeImag   Node = "IMAG"   // Imagination
	NodeMuse   Node = "MUSE"   // Lateral association
	NodePoet   Node = "POET"   // Figurative compressor
	NodePathos Node = "PATHOS" // Affective resonance

	// Integrative nodes
	NodeInsight Node = "INSIGHT" // Synthesis
	NodeWeaver  Node = "WEAVER"  // Cross-thread braiding
	NodeEcho    Node = "ECHO"    // Restatement and contrast
	NodeMem     Node = "MEM"     // Recall surface
	NodeChronos Node = "CHRONOS" // Temporal framing
	NodeKairos  Node = "KAIROS"  // Opportune-moment framing
	NodeHorizon Node = "HORIZON" // Long-range extrapolation

	// Guardian nodes
	NodeMeta    Node = "META"    // Loop monitor, adaptive commands
	NodeEthos   Node = "ETHOS"   // Ethics gatekeeper
	NodeArbiter Node = "ARBITER" // Terminal ruling
)

// Role classifies a node by its function in the graph.
type Role string

const (
	RoleSentinel    Role = "sentinel"
	RoleAnalytic    Role = "analytic"
	RoleCreative    Role = "creative"
	RoleIntegrative Role = "integrative"
	RoleGuardian    Role = "guardian"
)

// allNodes is the authoritative enumeration order. Routing table
// verification iterates this list, so every node must appear exactly once.
var allNodes = []Node{
	NodeHuman, NodeOrchestrator,
	NodePhi, NodePhiLogic, NodeSci, NodeDmat, NodeLogos,
	NodeIntu, NodeImag, NodeMuse, NodePoet, NodePathos,
	NodeInsight, NodeWeaver, NodeEcho, NodeMem, NodeChronos, NodeKairos, NodeHorizon,
	NodeMeta, NodeEthos, NodeArbiter,
}

var nodeRoles = map[Node]Role{
	NodeHuman:        RoleSentinel,
	NodeOrchestrator: RoleSentinel,
	NodePhi:          RoleAnalytic,
	NodePhiLogic:     RoleAnalytic,
	NodeSci:          RoleAnalytic,
	NodeDmat:         RoleAnalytic,
	NodeLogos:        RoleAnalytic,
	NodeIntu:         RoleCreative,
	NodeImag:         RoleCreative,
	NodeMuse:         RoleCreative,
	NodePoet:         RoleCreative,
	NodePathos:       RoleCreative,
	NodeInsight:      RoleIntegrative,
	NodeWeaver:       RoleIntegrative,
	NodeEcho:         RoleIntegrative,
	NodeMem:          RoleIntegrative,
	NodeChronos:      RoleIntegrative,
	NodeKairos:       RoleIntegrative,
	NodeHorizon:      RoleIntegrative,
	NodeMeta:         RoleGuardian,
	NodeEthos:        RoleGuardian,
	NodeArbiter:      RoleGuardian,
}

// AllNodes returns the node enumeration in canonical order.
func AllNodes() []Node {
	out := make([]Node, len(allNodes))
	copy(out, allNodes)
	return out
}

// ParticipantNodes returns every node that produces output during a run
// (everything except the sentinels).
func ParticipantNodes() []Node {
	out := make([]Node, 0, len(allNodes)-2)
	for _, n := range allNodes {
		if !n.IsSentinel() {
			out = append(out, n)
		}
	}
	return out
}

// Valid reports whether the node is part of the enumeration.
func (n Node) Valid() bool {
	_, ok := nodeRoles[n]
	return ok
}

// Role returns the node's role class.
func (n Node) Role() Role {
	return nodeRoles[n]
}

// IsSentinel reports whether the node never generates payloads itself.
func (n Node) IsSentinel() bool {
	return n == NodeHuman || n == NodeOrchestrator
}

// String returns the node identifier.
func (n Node) String() string {
	return string(n)
}

// ParseNode validates a raw identifier.
func ParseNode(s string) (Node, error) {
	n := Node(s)
	if !n.Valid() {
		return "", fmt.Errorf("unknown node %q", s)
	}
	return n, nil
}

// =============================================================================
// DESTINATION ALIASES
// =============================================================================

// Alias is an abstract destination name expanded at route resolution.
type Alias string

const (
	AliasCreative Alias = "CREATIVE"
	AliasAnalytic Alias = "ANALYTIC"
	AliasGuardian Alias = "GUARDIAN"
)

var aliasMembers = map[Alias][]Node{
	AliasCreative: {NodeIntu, NodeImag, NodeMuse, NodePoet},
	AliasAnalytic: {NodePhiLogic, NodeSci, NodeDmat, NodeLogos},
	AliasGuardian: {NodeMeta, NodeEthos},
}

// IsAlias reports whether an identifier names an alias rather than a node.
func IsAlias(s string) bool {
	_, ok := aliasMembers[Alias(s)]
	return ok
}

// ExpandAlias returns the alias members in declaration order, or nil for an
// unknown alias.
func ExpandAlias(a Alias) []Node {
	members, ok := aliasMembers[a]
	if !ok {
		return nil
	}
	out := make([]Node, len(members))
	copy(out, members)
	return out
}

// ExpandDestination resolves one destination identifier to concrete nodes:
// a node maps to itself, an alias to its members. Unknown identifiers
// resolve to nothing.
func ExpandDestination(s string) []Node {
	if IsAlias(s) {
		return ExpandAlias(Alias(s))
	}
	n := Node(s)
	if n.Valid() {
		return []Node{n}
	}
	return nil
}
