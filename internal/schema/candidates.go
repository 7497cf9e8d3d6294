package schema

import (
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/fhierr"
)

// CandidatesFor resolves the schema ids a node may emit in a mode.
// declared comes from the node's persona profile; empty falls back to the
// registry. In gatekeeper-downgraded modes ETHOS loses VERDICT candidacy
// and speaks through ADVISORY instead.
func CandidatesFor(node ecosystem.Node, mode ecosystem.Mode, declared []string) []string {
	base := declared
	if len(base) == 0 {
		base = SchemasForNode(node)
	}
	out := make([]string, 0, len(base))
	seen := make(map[string]bool, len(base))
	for _, id := range base {
		if node == ecosystem.NodeEthos && mode.GatekeeperDowngraded() && id == EthosVerdictID {
			id = EthosAdvisoryID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ResolveOpts carries the contexts that pin a polymorphic node to one
// variant regardless of payload shape.
type ResolveOpts struct {
	Arbitration bool // forces ARBITER's RULING variant
	Remediation bool // forces META's COMMAND variant
}

// ResolveEmitted decides which candidate schema a payload claims.
// Single-candidate nodes resolve directly. Polymorphic nodes resolve by
// discriminator presence; zero or several present discriminators cannot be
// attributed to a variant and come back as a routing ambiguity.
func ResolveEmitted(node ecosystem.Node, payload map[string]any, candidates []string, opts ResolveOpts) (string, error) {
	if opts.Arbitration && node == ecosystem.NodeArbiter {
		return ArbiterRulingID, nil
	}
	if opts.Remediation && node == ecosystem.NodeMeta {
		return MetaCommandID, nil
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	var hits []string
	var matched []string
	for _, id := range candidates {
		s := Lookup(id)
		if s == nil || s.Discriminator == "" {
			continue
		}
		if _, present := payload[s.Discriminator]; present {
			hits = append(hits, s.Discriminator)
			matched = append(matched, id)
		}
	}
	if len(matched) == 1 {
		return matched[0], nil
	}
	return "", &fhierr.RoutingAmbiguityError{Node: node.String(), Discriminators: hits}
}
