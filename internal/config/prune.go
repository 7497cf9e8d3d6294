package config

// PruneConfig configures context size reduction.
type PruneConfig struct {
	// Trace length above which envelope copies are trimmed
	TraceThreshold int `yaml:"trace_threshold"`

	// Recent trace entries kept verbatim after a trim
	KeepRecent int `yaml:"keep_recent"`

	// Character budget for the post-run report context
	ReportBudgetChars int `yaml:"report_budget_chars"`

	// Stage-one sampling proportions
	HeadShare float64 `yaml:"head_share"`
	TailShare float64 `yaml:"tail_share"`
	SampleCap int     `yaml:"sample_cap"`

	// Payloads above this size are summarized to one line
	PayloadCharLimit int `yaml:"payload_char_limit"`
}
