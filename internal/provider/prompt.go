package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/schema"
)

// renderSystem builds the system prompt: persona identity, the control
// mode, and the exact output contract for every candidate schema.
func renderSystem(profile ecosystem.PersonaProfile, mode ecosystem.Mode, candidates []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are node %s (%s) in a cognitive ecosystem simulation running in %s mode: %s.\n\n",
		profile.Node, profile.DisplayName, mode, mode.Description())
	b.WriteString(profile.Instruction)
	b.WriteString("\n\nRespond with exactly one JSON object matching one of these shapes:\n")

	for _, id := range candidates {
		s := schema.Lookup(id)
		if s == nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", id)
		for _, f := range s.Fields {
			b.WriteString("  " + describeField(f) + "\n")
		}
		if s.Strict {
			b.WriteString("  (no fields beyond these)\n")
		}
	}

	b.WriteString("\nEmit the JSON object alone, no prose around it.")
	return b.String()
}

func describeField(f schema.Field) string {
	parts := []string{string(f.Type)}
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Enum) > 0 {
		parts = append(parts, "one of "+strings.Join(f.Enum, "/"))
	}
	if f.Min != nil && f.Max != nil {
		parts = append(parts, fmt.Sprintf("%g..%g", *f.Min, *f.Max))
	}
	return fmt.Sprintf("%s (%s)", f.Name, strings.Join(parts, ", "))
}

// renderUser builds the user prompt from the (already trimmed) envelope.
func renderUser(hypothesis string, env envelope.Envelope, directive string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hypothesis under simulation:\n%s\n", hypothesis)
	fmt.Fprintf(&b, "\nIncoming envelope, tick %d from %s:\n%s\n", env.Tick, env.Source, compactJSON(env.Payload))

	if len(env.Trace) > 0 {
		fmt.Fprintf(&b, "\nCausal trace: %s\n", strings.Join(env.Trace, " -> "))
	}
	if env.Arbitration != "" {
		fmt.Fprintf(&b, "\nArbitration context: %s\n", env.Arbitration)
	}
	if env.Remediation != "" {
		fmt.Fprintf(&b, "\nRemediation context: %s\n", env.Remediation)
	}
	if directive != "" {
		fmt.Fprintf(&b, "\nOrchestrator directive: %s\n", directive)
	}
	return b.String()
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
