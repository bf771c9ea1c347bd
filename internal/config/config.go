// Package config loads and persists coil's configuration.
// The config file lives at .coil/config.yaml in the project directory,
// falling back to ~/.coil/config.yaml. API keys never live here; they
// are resolved from the environment by the provider package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all coil configuration.
type Config struct {
	// Provider selection for new sessions
	Provider ProviderConfig `yaml:"provider"`

	// History compression
	Compaction CompactionConfig `yaml:"compaction"`

	// Tool dispatch
	Tools ToolsConfig `yaml:"tools"`

	// Debug logging
	Logging LoggingConfig `yaml:"logging"`

	// Chat presentation
	UI UIConfig `yaml:"ui"`
}

// ProviderConfig selects the backend and model for new sessions.
type ProviderConfig struct {
	Default         string `yaml:"default"` // openai, anthropic, google
	Model           string `yaml:"model"`   // empty picks the connector's default model
	SystemPrompt    string `yaml:"system_prompt"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			Default:         "anthropic",
			MaxOutputTokens: 4096,
		},
		Compaction: DefaultCompactionConfig(),
		Tools:      DefaultToolsConfig(),
		Logging:    LoggingConfig{Debug: false},
		UI:         UIConfig{Theme: "dark"},
	}
}

// Dir returns the directory where config is stored.
// Prefers a project-local .coil directory if present or creatable,
// falling back to ~/.coil.
func Dir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		localDir := filepath.Join(cwd, ".coil")
		if stat, err := os.Stat(localDir); (err == nil && stat.IsDir()) || os.IsNotExist(err) {
			return localDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coil"), nil
}

// File returns the full path to the config file.
func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the configuration from the default location.
// A missing file yields defaults, not an error.
func Load() (Config, error) {
	path, err := File()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads a configuration from an explicit path.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyBounds()
	return cfg, nil
}

// Save writes the configuration to the default location.
func Save(cfg Config) error {
	path, err := File()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to an explicit path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyBounds clamps out-of-range values back to defaults so a
// hand-edited file cannot leave the compressor or cache unusable.
func (c *Config) applyBounds() {
	def := DefaultConfig()
	if c.Provider.Default == "" {
		c.Provider.Default = def.Provider.Default
	}
	if c.Provider.MaxOutputTokens <= 0 {
		c.Provider.MaxOutputTokens = def.Provider.MaxOutputTokens
	}
	if c.Compaction.Threshold <= 0 || c.Compaction.Threshold >= 1 {
		c.Compaction.Threshold = def.Compaction.Threshold
	}
	if c.Compaction.PreserveFraction <= 0 || c.Compaction.PreserveFraction >= 1 {
		c.Compaction.PreserveFraction = def.Compaction.PreserveFraction
	}
	if c.Compaction.ModelTokenLimit <= 0 {
		c.Compaction.ModelTokenLimit = def.Compaction.ModelTokenLimit
	}
	if c.Tools.MaxToolRounds <= 0 {
		c.Tools.MaxToolRounds = def.Tools.MaxToolRounds
	}
}

// parseDuration converts a config duration string, falling back on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
