package analysis

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders the digest as the monitor report. The CLI pipes
// this through a terminal renderer; on disk it is plain markdown.
func RenderMarkdown(res Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run report %s\n\n", res.RunID)
	if res.Summary.Headline != "" {
		fmt.Fprintf(&b, "> %s\n\n", res.Summary.Headline)
	}
	fmt.Fprintf(&b, "- Mode: `%s`\n", res.Mode)
	fmt.Fprintf(&b, "- Outcome: `%s`\n", res.Outcome)
	fmt.Fprintf(&b, "- Ticks: %d\n", res.Ticks)
	fmt.Fprintf(&b, "- Envelopes: %d\n", res.Messages)
	fmt.Fprintf(&b, "- Generated: %s\n\n", res.Generated.Format("2006-01-02 15:04:05 MST"))
	if res.Summary.Body != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Summary.Body)
	}

	b.WriteString("## Hypothesis\n\n")
	fmt.Fprintf(&b, "%s\n\n", res.Hypothesis)

	b.WriteString("## Decision\n\n")
	fmt.Fprintf(&b, "**%s** at confidence %.2f.\n\n", res.Decision.Ruling, res.Decision.Confidence)
	if res.Decision.Rationale != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Decision.Rationale)
	}
	if len(res.Decision.Cited) > 0 {
		b.WriteString("Cited envelopes:\n\n")
		for _, id := range res.Decision.Cited {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Emergence profile\n\n")
	b.WriteString("| Axis | Score |\n")
	b.WriteString("|------|-------|\n")
	fmt.Fprintf(&b, "| Diversity | %.2f |\n", res.Emergence.Diversity)
	fmt.Fprintf(&b, "| Novelty | %.2f |\n", res.Emergence.Novelty)
	fmt.Fprintf(&b, "| Cohesion | %.2f |\n", res.Emergence.Cohesion)
	fmt.Fprintf(&b, "| Adaptability | %.2f |\n", res.Emergence.Adaptability)
	fmt.Fprintf(&b, "| Surprise | %.2f |\n\n", res.Emergence.Surprise)
	if res.Emergence.Commentary != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Emergence.Commentary)
	}

	b.WriteString("## Health and stability\n\n")
	fmt.Fprintf(&b, "Final health %.2f, stability %.2f.\n\n", res.Status.Health, res.Status.Stability)
	if len(res.Trajectory) > 0 {
		b.WriteString("| Tick | Mean confidence | Samples |\n")
		b.WriteString("|------|-----------------|--------|\n")
		for _, tc := range res.Trajectory {
			fmt.Fprintf(&b, "| %d | %.2f | %d |\n", tc.Tick, tc.Mean, tc.Samples)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Adaptive actions\n\n")
	if len(res.Actions) == 0 {
		b.WriteString("None.\n\n")
	} else {
		for _, a := range res.Actions {
			line := fmt.Sprintf("- tick %d: `%s`", a.Tick, a.Kind)
			if a.Node != "" {
				line += fmt.Sprintf(" by %s", a.Node)
			}
			if a.Target != "" {
				line += fmt.Sprintf(" targeting %s", a.Target)
			}
			if a.Reason != "" {
				line += fmt.Sprintf(" (%s)", a.Reason)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Validation failures\n\n")
	if len(res.Failures) == 0 {
		b.WriteString("None.\n\n")
	} else {
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "- tick %d %s `%s`: %s\n", f.Tick, f.Node, f.SchemaID, strings.Join(f.Problems, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Node survey\n\n")
	if len(res.Meta.Surveys) > 0 {
		b.WriteString("| Node | Envelopes | Invalid | Themes |\n")
		b.WriteString("|------|-----------|---------|--------|\n")
		for _, s := range res.Meta.Surveys {
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n", s.Node, s.Envelopes, s.Invalid, strings.Join(s.Themes, ", "))
		}
		b.WriteString("\n")
	}
	if len(res.Meta.DominantThemes) > 0 {
		fmt.Fprintf(&b, "Dominant themes: %s.\n\n", strings.Join(res.Meta.DominantThemes, ", "))
	}
	if len(res.Meta.FailureClusters) > 0 {
		fmt.Fprintf(&b, "Failure clusters: %s.\n\n", strings.Join(res.Meta.FailureClusters, "; "))
	}
	if res.Meta.Narrative != "" {
		fmt.Fprintf(&b, "%s\n", res.Meta.Narrative)
	}

	if len(res.Reduction) > 0 {
		fmt.Fprintf(&b, "\n---\n\nDigest reduced before analysis: %s.\n", strings.Join(res.Reduction, ", "))
	}

	return b.String()
}
