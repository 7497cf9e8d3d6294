package config

// SimulationConfig configures the tick loop.
type SimulationConfig struct {
	// Tick budget for a run unless overridden per run
	MaxTicks int `yaml:"max_ticks"`

	// Control mode used when none is requested
	DefaultMode string `yaml:"default_mode"`

	// Trailing envelope window for health/stability scoring
	StatusWindow int `yaml:"status_window"`

	// Loop suppression span override. 0 keeps each mode's own window.
	LoopWindow int `yaml:"loop_window"`

	// Share of a thread's window that must be repeats before the
	// thread counts as stalled
	StallShare float64 `yaml:"stall_share"`

	// EMA smoothing factor for the stability score
	ConfidenceAlpha float64 `yaml:"confidence_alpha"`
}
