// Package config holds the engine configuration. A single YAML file
// (fhi.yaml) feeds every subsystem; environment variables override the
// file, and compiled-in defaults keep the engine runnable with no file
// at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fhiemdien engine configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Simulation loop settings
	Simulation SimulationConfig `yaml:"simulation"`

	// Output provider configuration
	Provider ProviderConfig `yaml:"provider"`

	// Context pruning thresholds
	Prune PruneConfig `yaml:"prune"`

	// Persona profile loading
	Personas PersonaConfig `yaml:"personas"`

	// Run memory store
	Memory MemoryConfig `yaml:"memory"`

	// Post-run analysis output
	Analysis AnalysisConfig `yaml:"analysis"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fhiemdien",
		Version: "9.0.0",

		Simulation: SimulationConfig{
			MaxTicks:        12,
			DefaultMode:     "default",
			StatusWindow:    24,
			LoopWindow:      0,
			StallShare:      0.6,
			ConfidenceAlpha: 0.3,
		},

		Provider: ProviderConfig{
			Backend:          "gemini",
			Model:            "gemini-2.0-flash",
			BaseURL:          "https://generativelanguage.googleapis.com/v1beta",
			Timeout:          "90s",
			MaxRetries:       2,
			GovernorInterval: "1100ms",
			OfflineLatency:   "0ms",
		},

		Prune: PruneConfig{
			TraceThreshold:    12,
			KeepRecent:        11,
			ReportBudgetChars: 24000,
			HeadShare:         0.4,
			TailShare:         0.4,
			SampleCap:         500,
			PayloadCharLimit:  600,
		},

		Personas: PersonaConfig{
			Dir:       "personas",
			HotReload: true,
		},

		Memory: MemoryConfig{
			DatabasePath: "",
			RecallLimit:  5,
		},

		Analysis: AnalysisConfig{
			OutputDir: "",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Dir:    "",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file, defaults plus env are enough
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key resolution (most specific wins)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		if c.Provider.Backend == "" {
			c.Provider.Backend = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
		c.Provider.Backend = "openai"
	}
	if key := os.Getenv("FHI_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}

	if v := os.Getenv("FHI_OFFLINE"); v == "1" || v == "true" {
		c.Provider.Backend = "offline"
	}
	if model := os.Getenv("FHI_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if url := os.Getenv("FHI_BASE_URL"); url != "" {
		c.Provider.BaseURL = url
	}

	if mode := os.Getenv("FHI_MODE"); mode != "" {
		c.Simulation.DefaultMode = mode
	}
	if ticks := os.Getenv("FHI_TICKS"); ticks != "" {
		if n, err := strconv.Atoi(ticks); err == nil && n > 0 {
			c.Simulation.MaxTicks = n
		}
	}

	if path := os.Getenv("FHI_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
}

// ValidBackends lists all supported provider backends.
var ValidBackends = []string{"gemini", "openai", "offline"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validBackend := false
	for _, b := range ValidBackends {
		if c.Provider.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid provider backend: %s (valid: %v)", c.Provider.Backend, ValidBackends)
	}

	if c.Provider.Backend != "offline" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider API key not configured (set GEMINI_API_KEY, OPENAI_API_KEY, or FHI_API_KEY, or run with FHI_OFFLINE=1)")
	}

	if c.Simulation.MaxTicks < 1 {
		return fmt.Errorf("simulation.max_ticks must be at least 1, got %d", c.Simulation.MaxTicks)
	}
	if c.Simulation.StatusWindow < 1 {
		return fmt.Errorf("simulation.status_window must be at least 1, got %d", c.Simulation.StatusWindow)
	}
	if c.Simulation.ConfidenceAlpha <= 0 || c.Simulation.ConfidenceAlpha > 1 {
		return fmt.Errorf("simulation.confidence_alpha must be in (0,1], got %v", c.Simulation.ConfidenceAlpha)
	}

	if c.Prune.HeadShare < 0 || c.Prune.TailShare < 0 || c.Prune.HeadShare+c.Prune.TailShare > 1 {
		return fmt.Errorf("prune head/tail shares must be non-negative and sum to at most 1")
	}
	if c.Prune.KeepRecent >= c.Prune.TraceThreshold {
		return fmt.Errorf("prune.keep_recent (%d) must be below prune.trace_threshold (%d)", c.Prune.KeepRecent, c.Prune.TraceThreshold)
	}

	if _, err := time.ParseDuration(c.Provider.GovernorInterval); err != nil {
		return fmt.Errorf("invalid provider.governor_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		return fmt.Errorf("invalid provider.timeout: %w", err)
	}

	return nil
}

// GetProviderTimeout returns the provider call timeout as a duration.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

// GetGovernorInterval returns the minimum spacing between admitted calls.
func (c *Config) GetGovernorInterval() time.Duration {
	d, err := time.ParseDuration(c.Provider.GovernorInterval)
	if err != nil {
		return 1100 * time.Millisecond
	}
	return d
}

// GetOfflineLatency returns the artificial offline generation delay.
func (c *Config) GetOfflineLatency() time.Duration {
	d, err := time.ParseDuration(c.Provider.OfflineLatency)
	if err != nil {
		return 0
	}
	return d
}

// IsOffline reports whether the offline backend is selected.
func (c *Config) IsOffline() bool {
	return c.Provider.Backend == "offline"
}
