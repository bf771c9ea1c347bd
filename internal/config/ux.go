package config

// LoggingConfig controls debug file logging under .coil/logs/.
type LoggingConfig struct {
	// Debug is the master toggle; false means no category logs are written.
	// COIL_DEBUG=1 overrides at runtime.
	Debug bool `yaml:"debug"`
}

// UIConfig holds chat presentation preferences.
type UIConfig struct {
	Theme string `yaml:"theme"` // "light" or "dark"
}
