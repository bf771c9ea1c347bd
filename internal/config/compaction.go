package config

// CompactionConfig governs history compression.
type CompactionConfig struct {
	// Enabled controls the pre-turn compression check (default: true)
	Enabled bool `yaml:"enabled"`

	// Threshold triggers compression at threshold x model token limit (default: 0.7)
	Threshold float64 `yaml:"threshold"`

	// PreserveFraction is the newest share of history kept verbatim (default: 0.3)
	PreserveFraction float64 `yaml:"preserve_fraction"`

	// ModelTokenLimit is the context window used when the model's own
	// limit is unknown (default: 128000)
	ModelTokenLimit int `yaml:"model_token_limit"`
}

// DefaultCompactionConfig returns sensible compression defaults.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:          true,
		Threshold:        0.7,
		PreserveFraction: 0.3,
		ModelTokenLimit:  128000,
	}
}
