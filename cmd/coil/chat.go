// Package main provides the coil CLI entry point.
// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"coil/cmd/coil/ui"
	"coil/internal/config"
	"coil/internal/logging"
	"coil/internal/types"
)

// chatMessage is a single entry in the rendered transcript.
type chatMessage struct {
	role    string // "user", "assistant", "tool" or "notice"
	content string
	time    time.Time
}

// Messages for tea updates
type (
	// streamEventMsg carries one turn event plus the channels to keep
	// listening on.
	streamEventMsg struct {
		ev     types.StreamEvent
		events <-chan types.StreamEvent
		done   <-chan error
	}

	// streamDoneMsg signals that the driver loop returned.
	streamDoneMsg struct{ err error }

	// configReloadedMsg arrives from the config file watcher.
	configReloadedMsg struct{ cfg config.Config }
)

// chatModel is the main model for the interactive chat interface
type chatModel struct {
	// UI Components
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   ui.Styles
	renderer *glamour.TermRenderer

	// State
	history       []chatMessage
	streaming     string // partial assistant text of the in-flight turn
	statusMessage string
	isLoading     bool
	err           error
	width         int
	height        int
	ready         bool

	// Turn accounting
	turnCount int
	usage     types.UsageMetadata

	// In-flight turn
	cancelTurn context.CancelFunc

	// Backend
	rt  *runtime
	cfg config.Config
}

// initChat initializes the interactive chat model
func initChat(cfg config.Config, rt *runtime) chatModel {
	styles := ui.NewStyles(ui.ThemeByName(cfg.UI.Theme))

	ta := textarea.New()
	ta.Placeholder = "Ask me anything... (Enter to send, Ctrl+J for newline)"
	ta.Focus()
	ta.Prompt = "│ "
	ta.CharLimit = 8192
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	// Enter submits; newlines go in with Ctrl+J.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j"))

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return chatModel{
		textarea: ta,
		viewport: vp,
		spinner:  sp,
		styles:   styles,
		renderer: newMarkdownRenderer(styles, 80),
		history:  []chatMessage{},
		rt:       rt,
		cfg:      cfg,
	}
}

func newMarkdownRenderer(styles ui.Styles, width int) *glamour.TermRenderer {
	if styles.Theme.IsDark {
		r, _ := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		return r
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("light"),
		glamour.WithWordWrap(width),
	)
	return r
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.cancelTurn != nil {
				m.cancelTurn()
			}
			return m, tea.Quit

		case tea.KeyEsc:
			// Esc stops the in-flight turn; when idle it exits.
			if m.isLoading && m.cancelTurn != nil {
				m.cancelTurn()
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}

		// Handle regular key input
		if !m.isLoading {
			m.textarea, taCmd = m.textarea.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 4
		footerHeight := 2
		inputHeight := 5

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight - inputHeight
		}

		m.textarea.SetWidth(msg.Width - 4)

		// Update renderer word wrap
		m.renderer = newMarkdownRenderer(m.styles, msg.Width-8)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case streamEventMsg:
		m = m.applyEvent(msg.ev)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, listenStream(msg.events, msg.done)

	case streamDoneMsg:
		m.isLoading = false
		m.cancelTurn = nil
		m.statusMessage = ""
		m.streaming = ""
		if msg.err != nil {
			m.err = msg.err
		}
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case compressResultMsg:
		m.isLoading = false
		m.statusMessage = ""
		m.history = append(m.history, chatMessage{
			role:    "notice",
			content: describeCompression(msg.outcome),
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()

	case configReloadedMsg:
		// Restyle in place. Driver settings only change between turns so a
		// reload never races the in-flight loop.
		m.cfg = msg.cfg
		m.styles = ui.NewStyles(ui.ThemeByName(msg.cfg.UI.Theme))
		m.spinner.Style = m.styles.Spinner
		if m.ready {
			m.renderer = newMarkdownRenderer(m.styles, m.width-8)
		}
		if !m.isLoading {
			m.rt.driver.MaxToolRounds = msg.cfg.Tools.MaxToolRounds
		}
		m.history = append(m.history, chatMessage{
			role:    "notice",
			content: "⟳ Config reloaded.",
			time:    time.Now(),
		})
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(taCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	// Check for special commands
	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.err = nil
	m.history = append(m.history, chatMessage{
		role:    "user",
		content: input,
		time:    time.Now(),
	})

	m.textarea.Reset()
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()

	return m.startTurn(input)
}

// startTurn launches the driver loop for one user input and begins
// listening for its events. The done channel is buffered so the goroutine
// can always deliver its verdict before closing the event channel.
func (m chatModel) startTurn(input any) (chatModel, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan types.StreamEvent, 64)
	done := make(chan error, 1)

	rt := m.rt
	go func() {
		defer close(events)
		done <- rt.driver.Run(ctx, input, func(ev types.StreamEvent) {
			events <- ev
		})
	}()

	m.cancelTurn = cancel
	m.isLoading = true
	m.statusMessage = "Thinking"
	m.turnCount++

	return m, tea.Batch(m.spinner.Tick, listenStream(events, done))
}

// listenStream waits for the next turn event. When the event channel closes
// it reports the driver's verdict instead.
func listenStream(events <-chan types.StreamEvent, done <-chan error) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamDoneMsg{err: <-done}
		}
		return streamEventMsg{ev: ev, events: events, done: done}
	}
}

// applyEvent folds one stream event into the display state. Deltas grow the
// live tail; only a finished turn's message lands in the transcript, so an
// errored or cancelled turn leaves no half-written assistant entry behind.
func (m chatModel) applyEvent(ev types.StreamEvent) chatModel {
	switch ev.Kind {
	case types.EventContentDelta:
		m.streaming += ev.Delta
		m.statusMessage = "Writing"

	case types.EventThought:
		m.statusMessage = "Reasoning"

	case types.EventToolCall:
		if ev.ToolCall != nil {
			m.history = append(m.history, chatMessage{
				role:    "tool",
				content: describeToolCall(*ev.ToolCall),
				time:    time.Now(),
			})
			m.statusMessage = "Running " + ev.ToolCall.Name
		}

	case types.EventUsage:
		if ev.Usage != nil {
			m.usage.Add(*ev.Usage)
		}

	case types.EventFinished:
		m.streaming = ""
		if ev.Message != nil {
			if text := ev.Message.Text(); text != "" {
				m.history = append(m.history, chatMessage{
					role:    "assistant",
					content: text,
					time:    time.Now(),
				})
			}
		}

	case types.EventErrored:
		m.streaming = ""
		m.err = errors.New(ev.Err)

	case types.EventCancelled:
		m.streaming = ""
		m.history = append(m.history, chatMessage{
			role:    "notice",
			content: "⏹ Turn cancelled.",
			time:    time.Now(),
		})
	}

	return m
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.history {
		switch msg.role {
		case "user":
			userStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Primary).
				MarginTop(1)
			sb.WriteString(userStyle.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.content))
			sb.WriteString("\n\n")

		case "tool":
			sb.WriteString(m.styles.ToolNote.Render("⚙ "+msg.content) + "\n")

		case "notice":
			sb.WriteString(m.styles.Muted.Render(msg.content) + "\n")

		default: // assistant
			assistantStyle := m.styles.Bold.
				Foreground(m.styles.Theme.Accent).
				MarginTop(1)
			sb.WriteString(assistantStyle.Render("coil") + "\n")

			// Render markdown with panic recovery
			sb.WriteString(m.safeRenderMarkdown(msg.content))
			sb.WriteString("\n")
		}
	}

	// Live tail of the in-flight turn, raw until the turn finishes.
	if m.streaming != "" {
		assistantStyle := m.styles.Bold.
			Foreground(m.styles.Theme.Accent).
			MarginTop(1)
		sb.WriteString(assistantStyle.Render("coil") + "\n")
		sb.WriteString(m.styles.AgentResponse.Render(m.streaming + "▌"))
		sb.WriteString("\n")
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery
func (m chatModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			// If glamour panics, return plain text
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	// Header
	header := m.renderHeader()

	// Chat viewport
	chatView := m.styles.Content.Render(m.viewport.View())

	// Error display
	if m.err != nil {
		chatView += "\n" + m.styles.Error.Render("Error: "+m.err.Error())
	}

	// Input area
	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Accent).
		Padding(0, 1)

	inputArea := inputStyle.Render(m.textarea.View())

	// Footer
	footer := m.renderFooter()

	// Compose full view
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		chatView,
		inputArea,
		footer,
	)
}

func (m chatModel) renderHeader() string {
	// Logo and title
	title := m.styles.Header.Render(" coil ")
	badge := m.styles.Badge.Render("v" + version)
	backend := m.styles.Muted.Render(fmt.Sprintf(" %s:%s", m.rt.session.ProviderID(), m.rt.session.ModelID()))

	// Status indicators
	var status string
	if m.isLoading {
		msg := m.statusMessage
		if msg == "" {
			msg = "Thinking"
		}
		status = lipgloss.JoinHorizontal(lipgloss.Center, m.spinner.View(), " ", m.styles.Warning.Render("● "+msg))
	} else {
		status = m.styles.Success.Render("● Ready")
	}

	headerLine := lipgloss.JoinHorizontal(
		lipgloss.Center,
		title,
		" ",
		badge,
		"  ",
		status,
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		headerLine,
		backend,
		m.styles.RenderDivider(m.width),
	)
}

func (m chatModel) renderFooter() string {
	tokens := ""
	if m.usage.TotalTokens > 0 {
		tokens = fmt.Sprintf(" | %d tokens", m.usage.TotalTokens)
	}

	hotkeys := "Enter: send | Ctrl+J: newline | /help: commands | Ctrl+C: exit"
	if m.isLoading {
		hotkeys = "Esc: cancel turn | " + hotkeys
	}

	help := m.styles.Muted.Render(fmt.Sprintf("%s%s | %s", m.rt.sessionLabel(), tokens, hotkeys))
	return lipgloss.NewStyle().
		MarginTop(1).
		Render(help)
}

// runChat starts the interactive chat session
func runChat(cfg config.Config) error {
	rt, err := newRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := tea.NewProgram(
		initChat(cfg, rt),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Edits to config.yaml restyle the running UI without a restart.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := config.Watch(watchCtx, func(next config.Config) {
		p.Send(configReloadedMsg{cfg: next})
	}); err != nil {
		logging.ConfigWarn("config watch unavailable: %v", err)
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat interface failed: %w", err)
	}
	return nil
}
