package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/config"
	"github.com/fhiemdien/Fhi-Protocol-V9-sub000/internal/logging"
)

const engineVersion = "9.0.0"

var (
	// Global flags
	cfgPath string
	verbose bool
	quiet   bool

	// Loaded configuration, shared by every subcommand
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fhi",
	Short: "fhiemdien - cognitive ecosystem simulation engine",
	Long: `fhiemdien runs structured-dialogue simulations over a fixed ecosystem
of twenty-two persona nodes. A hypothesis is seeded at the HUMAN node and
circulates as schema-validated envelopes along mode-dependent routes until
the arbiter rules, the ethics gatekeeper halts the run, or the tick budget
runs out. Finished runs are analyzed, reported, and remembered for
similar-hypothesis recall.

Start with:
  fhi run "Distributed cognition emerges from message passing agents"`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version answers without config or logging
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		// The watch UI owns the terminal; console logging would tear it
		quietConsole := quiet || cfg.Logging.Quiet
		if watchRun {
			quietConsole = true
		}
		if err := logging.Init(logging.Options{
			Level:      level,
			Format:     cfg.Logging.Format,
			Dir:        cfg.ResolveLogDir(),
			Categories: cfg.Logging.Categories,
			Quiet:      quietConsole,
		}); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		if err := logging.InitAudit(cfg.ResolveLogDir()); err != nil {
			return fmt.Errorf("initialize audit log: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
		logging.CloseAudit()
		logging.Close()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress console log output")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearMemoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
