package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/ecosystem"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/memory"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/routing"
)

var (
	routesMode   string
	historyLimit int
)

// nodesCmd lists the ecosystem's stations
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the ecosystem's nodes and their persona profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := ecosystem.NewCatalog()
		if err := catalog.LoadDir(resolvePersonaDir()); err != nil {
			return err
		}
		fmt.Printf("%-14s %-12s %-22s %s\n", "NODE", "ROLE", "PERSONA", "INSTRUCTION")
		for _, n := range ecosystem.AllNodes() {
			p, ok := catalog.Get(n)
			if !ok {
				fmt.Printf("%-14s %-12s %-22s %s\n", n, n.Role(), "-", "-")
				continue
			}
			fmt.Printf("%-14s %-12s %-22s %s\n", n, n.Role(), p.DisplayName, ellipsize(p.Instruction, 64))
		}
		return nil
	},
}

// routesCmd prints one mode's routing table
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the routing table for a control mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := ecosystem.ParseMode(routesMode)
		table := routing.TableForMode(mode)

		gatekeeper := "gatekeeping"
		if mode.GatekeeperDowngraded() {
			gatekeeper = "advisory only"
		}
		window := "full trace"
		if w := mode.LoopWindow(); w > 0 {
			window = fmt.Sprintf("last %d", w)
		}
		fmt.Printf("Mode %s: %s\n", mode, mode.Description())
		fmt.Printf("Loop window: %s   Ethos: %s   Reroute fallback: %s\n\n", window, gatekeeper, table.Fallback())

		fmt.Printf("%-14s %s\n", "NODE", "DESTINATIONS")
		for _, n := range ecosystem.AllNodes() {
			dests := table.Destinations(n)
			if len(dests) == 0 {
				fmt.Printf("%-14s (terminal)\n", n)
				continue
			}
			fmt.Printf("%-14s %s\n", n, strings.Join(dests, ", "))
		}
		return nil
	},
}

// historyCmd lists remembered runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List remembered runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.ResolveDatabasePath())
		if err != nil {
			return fmt.Errorf("open run memory: %w", err)
		}
		defer store.Close()

		runs, err := store.History(context.Background(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs remembered yet.")
			return nil
		}

		fmt.Printf("%-38s %-12s %-6s %-18s %-10s %s\n", "RUN", "MODE", "TICKS", "OUTCOME", "RULING", "HYPOTHESIS")
		for _, r := range runs {
			ruling := r.Ruling
			if ruling == "" {
				ruling = "-"
			}
			fmt.Printf("%-38s %-12s %-6d %-18s %-10s %s\n",
				r.ID, r.Mode, r.Ticks, r.Outcome, ruling, ellipsize(r.Hypothesis, 48))
		}
		return nil
	},
}

// clearMemoryCmd truncates the run memory store
var clearMemoryCmd = &cobra.Command{
	Use:   "clear-memory",
	Short: "Erase all remembered runs, proposals, and archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := memory.Open(cfg.ResolveDatabasePath())
		if err != nil {
			return fmt.Errorf("open run memory: %w", err)
		}
		defer store.Close()

		if err := store.Clear(context.Background()); err != nil {
			return err
		}
		fmt.Printf("Run memory cleared (%s).\n", store.Path())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fhi %s\n", engineVersion)
	},
}

func init() {
	routesCmd.Flags().StringVarP(&routesMode, "mode", "m", "default", "Control mode to display")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list")
}
