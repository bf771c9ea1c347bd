package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of recorded action.
type AuditEventType string

const (
	// Exchange lifecycle
	AuditTurnStart AuditEventType = "turn_start"
	AuditTurnEnd   AuditEventType = "turn_end"

	// Tool execution
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// History compression
	AuditCompaction AuditEventType = "compaction"

	// Session lifecycle
	AuditSessionOpen AuditEventType = "session_open"
	AuditModelSwitch AuditEventType = "model_switch"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent is one line of the trail: what ran, against what, whether it
// worked, and how long it took. Events serialize as JSON lines so the file
// stays greppable and machine-parseable at the same time.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	SessionID  string         `json:"session,omitempty"`
	Target     string         `json:"target,omitempty"` // tool name, provider/model
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu   sync.Mutex
	auditFile *os.File
)

// AuditLogger records what the assistant actually did: every tool run,
// every completed exchange, every history compression. The trail lands in
// a per-day file under the logs directory and follows the same debug gate
// as the category loggers; when debug logging is off, every method is a
// no-op.
type AuditLogger struct {
	sessionID string
}

// Audit returns the process-wide audit logger.
func Audit() *AuditLogger { return &AuditLogger{} }

// AuditWithSession returns an audit logger whose events carry the session id.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes one event, filling in timestamp and session scope.
func (a *AuditLogger) Log(event AuditEvent) {
	if !Enabled() {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil && !openAuditLocked() {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// openAuditLocked opens the day's audit file. Caller holds auditMu.
func openAuditLocked() bool {
	mu.RLock()
	dir := logsDir
	mu.RUnlock()
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}

	name := fmt.Sprintf("%s_audit.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open audit log: %v\n", err)
		return false
	}
	auditFile = file
	return true
}

// closeAudit closes the audit file. CloseAll calls this at shutdown.
func closeAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// TurnStart records the beginning of one user exchange.
func (a *AuditLogger) TurnStart() {
	a.Log(AuditEvent{
		EventType: AuditTurnStart,
		Success:   true,
	})
}

// TurnEnd records the outcome of one user exchange, tool rounds included.
func (a *AuditLogger) TurnEnd(elapsed time.Duration, err error) {
	event := AuditEvent{
		EventType:  AuditTurnEnd,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	a.Log(event)
}

// ToolExec records one tool execution. Cache hits never reach this; the
// trail holds only work that actually ran.
func (a *AuditLogger) ToolExec(tool string, elapsed time.Duration, success bool, errMsg string) {
	eventType := AuditToolComplete
	if !success {
		eventType = AuditToolError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     tool,
		Success:    success,
		DurationMs: elapsed.Milliseconds(),
		Error:      errMsg,
		Message:    fmt.Sprintf("tool %s (%dms, success=%v)", tool, elapsed.Milliseconds(), success),
	})
}

// Compaction records a completed history compression.
func (a *AuditLogger) Compaction(originalTokens, newTokens int) {
	a.Log(AuditEvent{
		EventType: AuditCompaction,
		Success:   true,
		Fields:    map[string]any{"from_tokens": originalTokens, "to_tokens": newTokens},
		Message:   fmt.Sprintf("history compressed %d -> %d tokens", originalTokens, newTokens),
	})
}

// SessionOpen records a new runtime session binding to a provider model.
func (a *AuditLogger) SessionOpen(sessionID, providerID, modelID string) {
	a.Log(AuditEvent{
		EventType: AuditSessionOpen,
		SessionID: sessionID,
		Target:    providerID + "/" + modelID,
		Success:   true,
	})
}

// ModelSwitch records a provider or model change on a live session.
func (a *AuditLogger) ModelSwitch(sessionID, providerID, modelID string) {
	a.Log(AuditEvent{
		EventType: AuditModelSwitch,
		SessionID: sessionID,
		Target:    providerID + "/" + modelID,
		Success:   true,
	})
}
