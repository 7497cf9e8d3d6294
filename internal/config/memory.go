package config

// MemoryConfig configures the run memory store.
type MemoryConfig struct {
	// SQLite database path. Empty resolves to <home>/fhi.db.
	DatabasePath string `yaml:"database_path"`

	// Similar-hypothesis recall cap
	RecallLimit int `yaml:"recall_limit"`

	// Gemini embedding upgrade for recall vectors
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig configures optional vector upgrades for recall.
type EmbeddingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
}
