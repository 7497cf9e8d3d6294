package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json

	// Log file directory. Empty keeps logging console-only.
	Dir string `yaml:"dir"`

	// Per-category enables; absent categories default to on
	Categories map[string]bool `yaml:"categories"`

	// Suppress console output (file sink only)
	Quiet bool `yaml:"quiet"`
}
