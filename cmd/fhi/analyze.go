package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/analysis"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/memory"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/provider"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
)

var analyzeOffline bool

// analyzeCmd re-runs post-run analysis over an archived run log
var analyzeCmd = &cobra.Command{
	Use:   "analyze [run-id]",
	Short: "Re-analyze an archived run and refresh its report",
	Long: `Rebuilds the run log from the memory archive and runs the full
post-run analysis over it again. Useful after editing persona profiles or
when the original analysis degraded to the offline provider.`,
	Args: cobra.ExactArgs(1),
	RunE: analyzeRun,
}

// reportCmd prints a previously written report
var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Render a run's saved report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.ResolveReportDir(), args[0]+".md")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no report for run %s; generate one with `fhi analyze %s`", args[0], args[0])
			}
			return err
		}
		printMarkdown(string(data))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeOffline, "offline", false, "Analyze with the deterministic provider only")
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runID := args[0]

	store, err := memory.Open(cfg.ResolveDatabasePath())
	if err != nil {
		return fmt.Errorf("open run memory: %w", err)
	}
	defer store.Close()

	rec, err := store.Run(ctx, runID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("run %s not found in memory", runID)
	}
	blob, err := store.Archive(ctx, runID)
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("run %s has no archived log", runID)
	}
	log, err := envelope.RunLogFromJSON(blob)
	if err != nil {
		return err
	}

	if analyzeOffline {
		cfg.Provider.Backend = "offline"
	}
	catalog := ecosystem.NewCatalog()
	if err := catalog.LoadDir(resolvePersonaDir()); err != nil {
		return err
	}
	pruner := prune.New(prune.OptionsFromConfig(cfg))
	gov := governor.New(cfg.GetGovernorInterval())
	gen, err := provider.FromConfig(cfg, catalog, gov, pruner, rec.Hypothesis)
	if err != nil {
		return err
	}

	res, err := analysis.New(gen, pruner).Analyze(ctx, analysis.RunData{
		Hypothesis: rec.Hypothesis,
		Mode:       ecosystem.ParseMode(rec.Mode),
		Outcome:    rec.Outcome,
		Status:     envelope.SystemStatus{Health: rec.Health, Stability: rec.Stability},
		Log:        log,
		Emergence:  replayEmergence(log),
	})
	if err != nil {
		return err
	}

	md := analysis.RenderMarkdown(res)
	printMarkdown(md)

	path, err := writeReport(runID, md)
	if err != nil {
		return err
	}
	fmt.Printf("Report refreshed at %s\n", path)
	return nil
}

// replayEmergence reconstructs the emergence log from an archived run log.
// Per-envelope records and the confidence trajectory replay exactly;
// adaptive actions are not archived and come back empty.
func replayEmergence(log *envelope.RunLog) *envelope.EmergenceLog {
	em := envelope.NewEmergenceLog()
	seen := make(map[int]bool)
	var ticks []int
	for _, env := range log.All() {
		em.RecordEnvelope(env)
		if env.Tick >= 1 && !seen[env.Tick] {
			seen[env.Tick] = true
			ticks = append(ticks, env.Tick)
		}
	}
	for _, t := range ticks {
		em.SampleTick(t)
	}
	return em
}

// writeReport saves the rendered markdown under the reports directory.
func writeReport(runID, md string) (string, error) {
	dir := cfg.ResolveReportDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, runID+".md")
	if err := os.WriteFile(path, []byte(md), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// printMarkdown renders markdown for the terminal, falling back to the
// raw text when the renderer cannot start.
func printMarkdown(md string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(md)
		return
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Println(md)
		return
	}
	fmt.Print(out)
}
