// Package routing owns the per-mode destination tables.
// A table maps every node in the catalog to an ordered destination list;
// the active set of tick N+1 is the union of the resolved destinations of
// everything emitted on tick N. An empty list is a terminal sink.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

// Entry pairs one node with its authored destination list. Destinations may
// be concrete node ids or aliases; aliases expand at resolution time.
// Tables are authored as entry slices rather than map literals so that a
// duplicated key is representable and rejected instead of silently merged.
type Entry struct {
	Node  ecosystem.Node
	Dests []string
}

// Table is a verified, immutable routing table for one control mode.
type Table struct {
	mode     ecosystem.Mode
	dests    map[ecosystem.Node][]string
	fallback ecosystem.Node // reroute target for META REROUTE commands
}

// NewTable builds and verifies a table from authored entries.
// Construction fails on a duplicate key; Verify covers the rest.
func NewTable(mode ecosystem.Mode, fallback ecosystem.Node, entries []Entry) (*Table, error) {
	t := &Table{
		mode:     mode,
		dests:    make(map[ecosystem.Node][]string, len(entries)),
		fallback: fallback,
	}
	for _, e := range entries {
		if _, dup := t.dests[e.Node]; dup {
			return nil, fmt.Errorf("routing table %q: duplicate entry for node %s", mode, e.Node)
		}
		t.dests[e.Node] = append([]string(nil), e.Dests...)
	}
	if err := t.Verify(); err != nil {
		return nil, err
	}
	return t, nil
}

// MustTable is NewTable for the compiled-in tables; a failure here is an
// authoring bug, caught the first time the package loads.
func MustTable(mode ecosystem.Mode, fallback ecosystem.Node, entries []Entry) *Table {
	t, err := NewTable(mode, fallback, entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Mode returns the control mode this table serves.
func (t *Table) Mode() ecosystem.Mode { return t.mode }

// Fallback returns the node a REROUTE command retargets a thread to.
func (t *Table) Fallback() ecosystem.Node { return t.fallback }

// Destinations returns the authored destination list for node, aliases
// unexpanded, as a copy. Nil for a node with no entry.
func (t *Table) Destinations(node ecosystem.Node) []string {
	raw, ok := t.dests[node]
	if !ok {
		return nil
	}
	return append([]string(nil), raw...)
}

// Resolve expands aliases and de-duplicates while preserving first-seen
// order. The result is the concrete set of nodes woken by an envelope
// emitted from node.
func (t *Table) Resolve(node ecosystem.Node) []ecosystem.Node {
	raw, ok := t.dests[node]
	if !ok {
		return nil
	}
	out := make([]ecosystem.Node, 0, len(raw))
	seen := make(map[ecosystem.Node]bool, len(raw))
	for _, d := range raw {
		for _, n := range ecosystem.ExpandDestination(d) {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Verify checks totality and destination validity: every enumerated node has
// exactly one entry, every destination is a known node or alias, HUMAN never
// appears as a destination, no list repeats a destination verbatim, and the
// fallback is a participant.
func (t *Table) Verify() error {
	var problems []string

	all := ecosystem.AllNodes()
	if len(t.dests) != len(all) {
		problems = append(problems, fmt.Sprintf("%d entries for %d nodes", len(t.dests), len(all)))
	}
	for _, n := range all {
		if _, ok := t.dests[n]; !ok {
			problems = append(problems, fmt.Sprintf("missing entry for %s", n))
		}
	}
	for n := range t.dests {
		if !n.Valid() {
			problems = append(problems, fmt.Sprintf("entry for unknown node %q", n))
		}
	}

	for n, raw := range t.dests {
		listed := make(map[string]bool, len(raw))
		for _, d := range raw {
			if listed[d] {
				problems = append(problems, fmt.Sprintf("%s lists %s twice", n, d))
			}
			listed[d] = true
			if ecosystem.Node(d) == ecosystem.NodeHuman {
				problems = append(problems, fmt.Sprintf("%s routes to HUMAN", n))
				continue
			}
			if len(ecosystem.ExpandDestination(d)) == 0 {
				problems = append(problems, fmt.Sprintf("%s routes to unknown destination %q", n, d))
			}
		}
	}

	if !t.fallback.Valid() || t.fallback.IsSentinel() {
		problems = append(problems, fmt.Sprintf("fallback %q is not a participant", t.fallback))
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("routing table %q invalid: %s", t.mode, strings.Join(problems, "; "))
}

// TableForMode returns the verified table for mode. Unknown modes get the
// default table so a bad mode string degrades rather than halts.
func TableForMode(mode ecosystem.Mode) *Table {
	if t, ok := tables[mode]; ok {
		return t
	}
	logging.RoutingDebug("TableForMode: no table for mode %q, using %s", mode, ecosystem.ModeDefault)
	return tables[ecosystem.ModeDefault]
}
