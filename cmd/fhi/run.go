package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/analysis"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/config"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/envelope"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/governor"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/memory"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/provider"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/prune"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/simulation"
)

var (
	runMode    string
	runTicks   int
	runOffline bool
	watchRun   bool
)

// runCmd drives one full simulation from seed to report
var runCmd = &cobra.Command{
	Use:   "run [hypothesis]",
	Short: "Seed a hypothesis and run the ecosystem to a terminal state",
	Long: `Runs one full simulation: pre-analysis of the hypothesis, seed injection
at HUMAN, tick circulation along the selected mode's routes, then post-run
analysis. The finished run is archived in run memory and its report written
to the reports directory.

Example:
  fhi run "Distributed cognition emerges from message passing" --mode beacon --ticks 20`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulation,
}

func init() {
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "Control mode (default, holistic, beacon, lucid-dream, fhiemdien, prisma)")
	runCmd.Flags().IntVarP(&runTicks, "ticks", "t", 0, "Tick budget override")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Skip the live backend, deterministic generation only")
	runCmd.Flags().BoolVarP(&watchRun, "watch", "w", false, "Attach the live watch UI")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.CLI("interrupt received, stopping run")
		cancel()
	}()

	hypothesis := strings.Join(args, " ")
	if runOffline {
		cfg.Provider.Backend = "offline"
	}

	// Persona catalog, optionally hot-reloaded from the profile directory
	catalog := ecosystem.NewCatalog()
	personaDir := resolvePersonaDir()
	if err := catalog.LoadDir(personaDir); err != nil {
		return err
	}
	if cfg.Personas.HotReload {
		if watcher, err := ecosystem.NewPersonaWatcher(personaDir, catalog); err != nil {
			logging.CLI("persona hot reload unavailable: %v", err)
		} else if err := watcher.Start(ctx); err == nil {
			defer watcher.Stop()
		}
	}

	pruner := prune.New(prune.OptionsFromConfig(cfg))
	gov := governor.New(cfg.GetGovernorInterval())
	gen, err := provider.FromConfig(cfg, catalog, gov, pruner, hypothesis)
	if err != nil {
		return err
	}

	// Run memory: recall before, archive after. A broken store degrades
	// the run to memoryless rather than failing it.
	store, err := memory.Open(cfg.ResolveDatabasePath())
	if err != nil {
		logging.CLI("run memory unavailable: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	var embedder memory.Embedder
	if cfg.Memory.Embedding.Enabled && cfg.Provider.APIKey != "" {
		if genaiEmb, err := memory.NewGenAIEmbedder(ctx, cfg.Provider.APIKey, cfg.Memory.Embedding.Model); err != nil {
			logging.CLI("embedding upgrade unavailable: %v", err)
		} else {
			embedder = genaiEmb
		}
	}
	vector := memory.Vectorize(ctx, embedder, hypothesis)

	var recalled []memory.Recalled
	if store != nil {
		recalled, _ = store.Recall(ctx, vector, cfg.Memory.RecallLimit)
		if !watchRun {
			printRecall(recalled)
		}
	}

	// Pre-analysis fills in whatever the flags left unset; remembered
	// similar runs ride along so it can weigh how related inquiries ended
	if pre, err := gen.PerformPreAnalysis(ctx, preAnalysisInput(hypothesis, recalled)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		logging.CLI("pre-analysis failed, proceeding with configured defaults: %v", err)
	} else {
		if runMode == "" && pre.RecommendedMode != "" {
			runMode = pre.RecommendedMode
		}
		if runTicks == 0 && pre.RecommendedTicks > 0 {
			runTicks = pre.RecommendedTicks
		}
		if pre.Rationale != "" && !watchRun {
			fmt.Printf("Pre-analysis: %s\n\n", pre.Rationale)
		}
	}

	opts := simulation.OptionsFromConfig(cfg)
	opts.Hypothesis = hypothesis
	if runMode != "" {
		opts.Mode = ecosystem.ParseMode(runMode)
	}
	if runTicks > 0 {
		opts.MaxTicks = runTicks
	}
	// A routing proposal left by an earlier run in this mode tunes the
	// loop window when neither config nor flags pinned one
	if store != nil && opts.LoopWindow == 0 {
		if w := recallLoopWindow(ctx, store, opts.Mode); w > 0 {
			opts.LoopWindow = w
			logging.CLI("loop window %d adopted from the %s routing proposal", w, opts.Mode)
		}
	}
	if store != nil {
		opts.ClearMemory = func() error { return store.Clear(context.Background()) }
	}

	orch := simulation.New(opts, gen, gov)
	started := time.Now()

	if watchRun {
		if err := runWatch(ctx, orch); err != nil {
			return err
		}
	} else {
		fmt.Printf("Run %s  mode=%s  max_ticks=%d  backend=%s\n",
			orch.Log().RunID(), orch.Mode(), opts.MaxTicks, cfg.Provider.Backend)
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}

	state, reason := orch.Outcome()
	if state == simulation.StateAborted {
		fmt.Printf("\nRun aborted after %d ticks (%d envelopes). Partial history kept, no analysis.\n",
			orch.Tick(), orch.Log().Len())
		if store != nil {
			saveAborted(store, orch, hypothesis, vector, started)
		}
		return nil
	}

	fmt.Printf("\nRun %s completed: %s after %d ticks (%d envelopes)\n\n",
		orch.Log().RunID(), reason, orch.Tick(), orch.Log().Len())

	return finishRun(ctx, orch, gen, store, pruner, hypothesis, vector, started)
}

// finishRun analyzes a completed run, renders and writes the report, and
// persists the run to memory.
func finishRun(ctx context.Context, orch *simulation.Orchestrator, gen *provider.Failover, store *memory.Store, pruner *prune.Pruner, hypothesis string, vector []float32, started time.Time) error {
	_, reason := orch.Outcome()
	snap := orch.Snapshot()

	res, err := analysis.New(gen, pruner).Analyze(ctx, analysis.RunData{
		Hypothesis: hypothesis,
		Mode:       orch.Mode(),
		Outcome:    string(reason),
		Status:     snap.Status,
		Log:        orch.Log(),
		Emergence:  orch.Emergence(),
	})
	if err != nil {
		return fmt.Errorf("post-run analysis: %w", err)
	}

	md := analysis.RenderMarkdown(res)
	printMarkdown(md)

	if path, err := writeReport(res.RunID, md); err != nil {
		logging.CLI("report not written: %v", err)
	} else {
		fmt.Printf("Report written to %s\n", path)
	}

	if store != nil {
		persistRun(store, res, orch.Log(), vector, started)
	}
	return nil
}

// persistRun records the finished run in memory: the history row, the
// archived log, and the per-mode routing proposal. Failures log and move
// on; memory is advisory.
func persistRun(store *memory.Store, res analysis.Result, log *envelope.RunLog, vector []float32, started time.Time) {
	ctx := context.Background()

	rec := memory.RunRecord{
		ID:         res.RunID,
		Hypothesis: res.Hypothesis,
		Mode:       res.Mode.String(),
		Ticks:      res.Ticks,
		Envelopes:  res.Messages,
		Outcome:    res.Outcome,
		Ruling:     res.Decision.Ruling,
		Confidence: res.Decision.Confidence,
		Health:     res.Status.Health,
		Stability:  res.Status.Stability,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := store.SaveRun(ctx, rec, vector); err != nil {
		logging.CLI("run not saved to memory: %v", err)
	}

	if raw, err := json.Marshal(log); err == nil {
		if err := store.ArchiveRun(ctx, res.RunID, raw); err != nil {
			logging.CLI("run log not archived: %v", err)
		}
	}

	if blob := proposeRouting(res); blob != nil {
		p := memory.RoutingProposal{Mode: res.Mode.String(), RunID: res.RunID, Proposal: blob}
		if err := store.SaveProposal(ctx, p); err != nil {
			logging.CLI("routing proposal not saved: %v", err)
		}
	}
}

// saveAborted keeps the history row for an interrupted run so a later
// `fhi history` still shows it.
func saveAborted(store *memory.Store, orch *simulation.Orchestrator, hypothesis string, vector []float32, started time.Time) {
	snap := orch.Snapshot()
	rec := memory.RunRecord{
		ID:         orch.Log().RunID(),
		Hypothesis: hypothesis,
		Mode:       orch.Mode().String(),
		Ticks:      orch.Tick(),
		Envelopes:  orch.Log().Len(),
		Outcome:    string(simulation.ReasonAborted),
		Health:     snap.Status.Health,
		Stability:  snap.Status.Stability,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err := store.SaveRun(context.Background(), rec, vector); err != nil {
		logging.CLI("aborted run not saved to memory: %v", err)
	}
}

// proposeRouting condenses a run's adaptive actions into the per-mode blob
// the next run in the same mode can consult.
func proposeRouting(res analysis.Result) []byte {
	cuts, reroutes, throttles := 0, 0, 0
	for _, a := range res.Actions {
		switch a.Kind {
		case envelope.AdaptiveLoopCut:
			cuts++
		case envelope.AdaptiveReroute:
			reroutes++
		case envelope.AdaptiveThrottle:
			throttles++
		}
	}

	// Repeated loop cuts argue for a tighter visited window next time
	window := res.Mode.LoopWindow()
	if cuts >= 2 {
		switch {
		case window == 0:
			window = 6
		case window > 4:
			window -= 2
		}
	}

	blob, err := json.Marshal(map[string]any{
		"run_id":      res.RunID,
		"loop_cuts":   cuts,
		"reroutes":    reroutes,
		"throttles":   throttles,
		"loop_window": window,
	})
	if err != nil {
		return nil
	}
	return blob
}

// recallLoopWindow reads the stored per-mode routing proposal and returns
// its suggested loop window, or 0 when none is remembered.
func recallLoopWindow(ctx context.Context, store *memory.Store, mode ecosystem.Mode) int {
	p, err := store.Proposal(ctx, mode.String())
	if err != nil || p == nil {
		return 0
	}
	var blob struct {
		LoopWindow int `json:"loop_window"`
	}
	if err := json.Unmarshal(p.Proposal, &blob); err != nil {
		return 0
	}
	return blob.LoopWindow
}

// preAnalysisInput appends remembered similar runs to the hypothesis text
// handed to pre-analysis.
func preAnalysisInput(hypothesis string, recalled []memory.Recalled) string {
	if len(recalled) == 0 {
		return hypothesis
	}
	var b strings.Builder
	b.WriteString(hypothesis)
	b.WriteString("\n\nRelated past runs:")
	for _, r := range recalled {
		fmt.Fprintf(&b, "\n- %s (%s): %s", r.Outcome, r.Mode, ellipsize(r.Hypothesis, 80))
	}
	return b.String()
}

func printRecall(similar []memory.Recalled) {
	if len(similar) == 0 {
		return
	}
	fmt.Println("Similar past runs:")
	for _, r := range similar {
		fmt.Printf("  %.2f  %s  [%s, %s]  %s\n",
			r.Similarity, r.ID, r.Mode, r.Outcome, ellipsize(r.Hypothesis, 60))
	}
	fmt.Println()
}

// resolvePersonaDir anchors a relative profile directory at the workspace
// root so `fhi` behaves the same from any subdirectory.
func resolvePersonaDir() string {
	dir := cfg.Personas.Dir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	root, err := config.FindWorkspaceRoot()
	if err != nil {
		return dir
	}
	return filepath.Join(root, dir)
}

func ellipsize(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
