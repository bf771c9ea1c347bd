// Package logging provides categorized file-based logging for coil.
// Logs are written to .coil/logs/ with a separate file per category.
// Nothing is written unless debug logging is enabled through Initialize
// or the COIL_DEBUG environment variable.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategorySession  Category = "session"  // Turn orchestration, driver loop
	CategoryProvider Category = "provider" // Connector HTTP and SSE traffic
	CategoryStream   Category = "stream"   // Event normalization
	CategoryCompact  Category = "compact"  // History compression
	CategoryTools    Category = "tools"    // Tool dispatch, cache activity
	CategoryStore    Category = "store"    // Session files and turn archive
	CategoryConfig   Category = "config"   // Config load/save/watch
	CategoryChat     Category = "chat"     // TUI lifecycle
)

var (
	mu      sync.RWMutex
	loggers = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
	logsDir string
	enabled bool
)

// Initialize sets up the logging directory under the given workspace.
// Should be called once at startup. When debug is false the COIL_DEBUG
// environment variable can still turn logging on.
func Initialize(workspace string, debug bool) error {
	if workspace == "" {
		return fmt.Errorf("logging: workspace path required")
	}

	mu.Lock()
	defer mu.Unlock()

	enabled = debug || os.Getenv("COIL_DEBUG") == "1"
	logsDir = filepath.Join(workspace, ".coil", "logs")

	if !enabled {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("logging: create logs directory: %w", err)
	}
	return nil
}

// Enabled reports whether debug logging is active.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Get returns (or lazily creates) the logger for a category.
// Returns a no-op logger when debug logging is disabled or the
// category's log file cannot be opened.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if !enabled || logsDir == "" {
		mu.RUnlock()
		return nop
	}
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring the write lock.
	if l, ok := loggers[category]; ok {
		return l
	}

	logPath := filepath.Join(logsDir, fmt.Sprintf("%s.log", category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open %s: %v\n", logPath, err)
		return nop
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(file),
		zapcore.DebugLevel,
	)

	l := zap.New(core).Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// CloseAll flushes every open category logger and closes the audit
// trail. Call at shutdown.
func CloseAll() {
	closeAudit()

	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = make(map[Category]*zap.SugaredLogger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without fetching a logger first
// These are no-ops when debug logging is disabled
// =============================================================================

// Session logs to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Infof(format, args...)
}

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debugf(format, args...)
}

// SessionWarn logs warning to the session category.
func SessionWarn(format string, args ...interface{}) {
	Get(CategorySession).Warnf(format, args...)
}

// SessionError logs error to the session category.
func SessionError(format string, args ...interface{}) {
	Get(CategorySession).Errorf(format, args...)
}

// Provider logs to the provider category.
func Provider(format string, args ...interface{}) {
	Get(CategoryProvider).Infof(format, args...)
}

// ProviderDebug logs debug to the provider category.
func ProviderDebug(format string, args ...interface{}) {
	Get(CategoryProvider).Debugf(format, args...)
}

// ProviderWarn logs warning to the provider category.
func ProviderWarn(format string, args ...interface{}) {
	Get(CategoryProvider).Warnf(format, args...)
}

// ProviderError logs error to the provider category.
func ProviderError(format string, args ...interface{}) {
	Get(CategoryProvider).Errorf(format, args...)
}

// Stream logs to the stream category.
func Stream(format string, args ...interface{}) {
	Get(CategoryStream).Infof(format, args...)
}

// StreamDebug logs debug to the stream category.
func StreamDebug(format string, args ...interface{}) {
	Get(CategoryStream).Debugf(format, args...)
}

// Compact logs to the compact category.
func Compact(format string, args ...interface{}) {
	Get(CategoryCompact).Infof(format, args...)
}

// CompactDebug logs debug to the compact category.
func CompactDebug(format string, args ...interface{}) {
	Get(CategoryCompact).Debugf(format, args...)
}

// CompactWarn logs warning to the compact category.
func CompactWarn(format string, args ...interface{}) {
	Get(CategoryCompact).Warnf(format, args...)
}

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) {
	Get(CategoryTools).Infof(format, args...)
}

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) {
	Get(CategoryTools).Debugf(format, args...)
}

// ToolsWarn logs warning to the tools category.
func ToolsWarn(format string, args ...interface{}) {
	Get(CategoryTools).Warnf(format, args...)
}

// ToolsError logs error to the tools category.
func ToolsError(format string, args ...interface{}) {
	Get(CategoryTools).Errorf(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Infof(format, args...)
}

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}

// StoreWarn logs warning to the store category.
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warnf(format, args...)
}

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Errorf(format, args...)
}

// Config logs to the config category.
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Infof(format, args...)
}

// ConfigDebug logs debug to the config category.
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debugf(format, args...)
}

// ConfigWarn logs warning to the config category.
func ConfigWarn(format string, args ...interface{}) {
	Get(CategoryConfig).Warnf(format, args...)
}

// Chat logs to the chat category.
func Chat(format string, args ...interface{}) {
	Get(CategoryChat).Infof(format, args...)
}

// ChatDebug logs debug to the chat category.
func ChatDebug(format string, args ...interface{}) {
	Get(CategoryChat).Debugf(format, args...)
}

// ChatError logs error to the chat category.
func ChatError(format string, args ...interface{}) {
	Get(CategoryChat).Errorf(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
