// Package main provides the coil CLI entry point.
// This file contains slash command handling for the chat interface.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"coil/internal/compact"
	"coil/internal/history"
	"coil/internal/types"
)

// =============================================================================
// COMMAND HANDLING
// =============================================================================
// handleCommand processes all /command inputs from the user. Commands only
// fire while no turn is in flight, so they may touch the session directly.

// compressResultMsg reports a forced /compress run back to the update loop.
type compressResultMsg struct {
	outcome compact.Outcome
}

func (m chatModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := parts[0]

	switch cmd {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/clear":
		m.history = []chatMessage{}
		m.streaming = ""
		m.err = nil
		m.rt.session.History().Clear()
		m.viewport.SetContent("")
		m.textarea.Reset()
		return m, nil

	case "/help":
		help := `## Available Commands

| Command | Description |
|---------|-------------|
| /help | Show this help message |
| /clear | Clear the conversation (view and model context) |
| /compress | Compress older history into a summary now |
| /status | Show session status |
| /model | List models, or switch with ` + "`/model <id>`" + ` |
| /provider | List providers, or switch with ` + "`/provider <id>`" + ` |
| /sessions | List saved sessions |
| /resume <id> | Continue a saved session |
| /quit, /exit, /q | Exit |

### Keyboard Shortcuts

| Key | Action |
|-----|--------|
| Enter | Send message |
| Ctrl+J | Insert newline |
| Esc | Cancel the in-flight turn (exit when idle) |
| Ctrl+C | Exit |
`
		return m.pushAssistant(help), nil

	case "/status":
		return m.pushAssistant(m.renderStatus()), nil

	case "/compress":
		m.textarea.Reset()
		m.isLoading = true
		m.statusMessage = "Compressing history"
		return m, tea.Batch(m.spinner.Tick, m.runCompression())

	case "/model":
		return m.handleModelCommand(parts)

	case "/provider":
		return m.handleProviderCommand(parts)

	case "/sessions":
		return m.handleSessionsCommand()

	case "/resume":
		return m.handleResumeCommand(parts)

	default:
		return m.pushAssistant(fmt.Sprintf("Unknown command: `%s`. Type `/help` for available commands.", cmd)), nil
	}
}

// pushAssistant appends an assistant-styled entry and scrolls to it.
func (m chatModel) pushAssistant(content string) chatModel {
	m.history = append(m.history, chatMessage{
		role:    "assistant",
		content: content,
		time:    time.Now(),
	})
	m.textarea.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m
}

func (m chatModel) renderStatus() string {
	toolState := "disabled"
	if m.rt.tools != nil {
		toolState = fmt.Sprintf("%d registered", len(m.rt.tools.Names()))
	}
	archiveState := "unavailable"
	if m.rt.archive != nil {
		archiveState = "recording"
	}

	return fmt.Sprintf(`## Session Status

- **Session**: %s
- **Provider**: %s
- **Model**: %s
- **Turns**: %d
- **Tokens used**: %d in / %d out
- **History**: %d messages in context
- **Tools**: %s
- **Archive**: %s
`,
		m.rt.sessionLabel(),
		m.rt.session.ProviderID(),
		m.rt.session.ModelID(),
		m.turnCount,
		m.usage.InputTokens,
		m.usage.OutputTokens,
		m.rt.session.History().Len(),
		toolState,
		archiveState,
	)
}

// runCompression forces a compression pass in the background.
func (m chatModel) runCompression() tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return compressResultMsg{outcome: rt.session.Compress(ctx)}
	}
}

func describeCompression(outcome compact.Outcome) string {
	switch outcome.Status {
	case compact.StatusCompressed:
		return fmt.Sprintf("✅ History compressed: %d → %d tokens.", outcome.OriginalTokens, outcome.NewTokens)
	case compact.StatusNoop:
		return "Nothing to compress yet; the history is still short."
	case compact.StatusFailedInflated:
		return fmt.Sprintf("⚠ Compression made the history larger (%d → %d tokens); keeping the original.", outcome.OriginalTokens, outcome.NewTokens)
	default:
		return "⚠ Compression failed; the history is unchanged."
	}
}

// handleModelCommand lists the current provider's models, or switches to
// the named one.
func (m chatModel) handleModelCommand(parts []string) (tea.Model, tea.Cmd) {
	providerID := m.rt.session.ProviderID()

	if len(parts) < 2 {
		conn, err := m.rt.registry.Get(providerID)
		if err != nil {
			return m.pushAssistant(fmt.Sprintf("Provider error: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Models: %s\n\n", conn.DisplayName()))
		sb.WriteString("| Model | Context | |\n")
		sb.WriteString("|-------|---------|--|\n")
		for _, info := range conn.Models() {
			marker := ""
			switch {
			case info.ID == m.rt.session.ModelID():
				marker = "current"
			case info.Default:
				marker = "default"
			}
			sb.WriteString(fmt.Sprintf("| `%s` | %d | %s |\n", info.ID, info.ContextWindow, marker))
		}
		sb.WriteString("\nSwitch with `/model <id>`.")
		return m.pushAssistant(sb.String()), nil
	}

	modelID := parts[1]
	if err := m.rt.session.SetModel(providerID, modelID); err != nil {
		return m.pushAssistant(fmt.Sprintf("Model switch failed: %v", err)), nil
	}
	return m.pushAssistant(fmt.Sprintf("✅ Model set to `%s`.", modelID)), nil
}

// handleProviderCommand lists connectors with credential state, or switches
// to the named provider on its default model.
func (m chatModel) handleProviderCommand(parts []string) (tea.Model, tea.Cmd) {
	if len(parts) < 2 {
		available := make(map[string]bool)
		for _, id := range m.rt.registry.Available() {
			available[id] = true
		}

		var sb strings.Builder
		sb.WriteString("## Providers\n\n")
		sb.WriteString("| Provider | Credentials | |\n")
		sb.WriteString("|----------|-------------|--|\n")
		for _, conn := range m.rt.registry.List() {
			cred := "missing"
			if available[conn.ID()] {
				cred = "ok"
			}
			marker := ""
			if conn.ID() == m.rt.session.ProviderID() {
				marker = "current"
			}
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s |\n", conn.ID(), cred, marker))
		}
		sb.WriteString("\nSwitch with `/provider <id>`.")
		return m.pushAssistant(sb.String()), nil
	}

	providerID := parts[1]
	if err := m.rt.session.SetModel(providerID, ""); err != nil {
		return m.pushAssistant(fmt.Sprintf("Provider switch failed: %v", err)), nil
	}
	return m.pushAssistant(fmt.Sprintf("✅ Provider set to `%s` (model `%s`).", providerID, m.rt.session.ModelID())), nil
}

func (m chatModel) handleSessionsCommand() (tea.Model, tea.Cmd) {
	if m.rt.sessions == nil {
		return m.pushAssistant("Session store unavailable; this conversation is not being saved."), nil
	}

	sessions, err := m.rt.sessions.Sessions()
	if err != nil {
		return m.pushAssistant(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}
	if len(sessions) == 0 {
		return m.pushAssistant("No saved sessions found."), nil
	}

	var sb strings.Builder
	sb.WriteString("## Saved Sessions\n\n")
	sb.WriteString("| Session | Items | Updated |\n")
	sb.WriteString("|---------|-------|--------|\n")
	current := m.rt.sessionLabel()
	for _, s := range sessions {
		marker := ""
		if s.ID == current {
			marker = " *(current)*"
		}
		sb.WriteString(fmt.Sprintf("| `%s`%s | %d | %s |\n", s.ID, marker, s.ItemCount, s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	sb.WriteString("\n*Use `/resume <id>` to continue one*")
	return m.pushAssistant(sb.String()), nil
}

// handleResumeCommand points the conversation at a saved transcript: the
// durable file becomes the mirror target, the model context is rebuilt from
// its items, and the view is reprojected from the same items.
func (m chatModel) handleResumeCommand(parts []string) (tea.Model, tea.Cmd) {
	if len(parts) < 2 {
		return m.pushAssistant("Usage: `/resume <session-id>`"), nil
	}
	if m.rt.sessions == nil {
		return m.pushAssistant("Session store unavailable; nothing to resume."), nil
	}

	id := parts[1]
	handle, err := m.rt.sessions.GetOrCreate(id)
	if err != nil {
		return m.pushAssistant(fmt.Sprintf("Failed to open session '%s': %v", id, err)), nil
	}

	items := handle.List()
	m.rt.driver.Handle = handle
	m.rt.session.History().Replace(items, history.ReplaceOptions{})
	m.history = transcriptView(items)
	m.streaming = ""
	m.err = nil
	m.usage = types.UsageMetadata{}
	m.turnCount = 0

	return m.pushAssistant(fmt.Sprintf("✅ Resumed session `%s` (%d items).", id, len(items))), nil
}

// transcriptView projects stored messages into display entries. Tool
// results stay out of the view; they are model context, not prose.
func transcriptView(items []types.Message) []chatMessage {
	view := make([]chatMessage, 0, len(items))
	for _, item := range items {
		switch item.Role {
		case types.RoleUser:
			if text := item.Text(); text != "" {
				view = append(view, chatMessage{role: "user", content: text, time: time.Now()})
			}
		case types.RoleAssistant:
			if text := item.Text(); text != "" {
				view = append(view, chatMessage{role: "assistant", content: text, time: time.Now()})
			}
			for _, call := range item.ToolCalls() {
				req := types.ToolCallRequest{CallID: call.CallID, Name: call.Name, Arguments: call.Arguments}
				view = append(view, chatMessage{role: "tool", content: describeToolCall(req), time: time.Now()})
			}
		}
	}
	return view
}
