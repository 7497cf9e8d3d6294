package config

// AnalysisConfig configures post-run analysis output.
type AnalysisConfig struct {
	// Report output directory. Empty resolves to <home>/reports.
	OutputDir string `yaml:"output_dir"`
}
