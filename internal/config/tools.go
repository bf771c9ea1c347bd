package config

import "time"

// ToolsConfig governs tool dispatch.
type ToolsConfig struct {
	// Enabled controls whether tool schemas are sent to the model (default: true)
	Enabled bool `yaml:"enabled"`

	// CacheTTL bounds how long read-only tool results are memoized (default: 5s)
	CacheTTL string `yaml:"cache_ttl"`

	// Timeout bounds a single tool execution (default: 60s)
	Timeout string `yaml:"timeout"`

	// MaxToolRounds bounds the driver's dispatch-and-feed-back loop (default: 8)
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// DefaultToolsConfig returns sensible tool defaults.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		Enabled:       true,
		CacheTTL:      "5s",
		Timeout:       "60s",
		MaxToolRounds: 8,
	}
}

// GetCacheTTL returns the cache TTL as a duration.
func (c ToolsConfig) GetCacheTTL() time.Duration {
	return parseDuration(c.CacheTTL, 5*time.Second)
}

// GetTimeout returns the per-call tool timeout as a duration.
func (c ToolsConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}
