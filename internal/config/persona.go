package config

// PersonaConfig configures persona profile loading.
type PersonaConfig struct {
	// Directory of per-node YAML profiles, relative to the workspace
	Dir string `yaml:"dir"`

	// Watch the directory and reload edited profiles between ticks
	HotReload bool `yaml:"hot_reload"`
}
