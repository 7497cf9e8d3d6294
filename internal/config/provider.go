package config

// ProviderConfig configures the output provider.
type ProviderConfig struct {
	Backend string `yaml:"backend"` // gemini, openai, offline
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`

	// Retries per live call before the failure taxonomy applies
	MaxRetries int `yaml:"max_retries"`

	// Minimum spacing between admitted outbound calls
	GovernorInterval string `yaml:"governor_interval"`

	// Artificial delay for offline generation, UI pacing only
	OfflineLatency string `yaml:"offline_latency"`
}
