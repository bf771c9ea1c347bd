// Package session drives conversations end to end: input normalization,
// history bookkeeping, pre-turn compression, provider streaming, and the
// multi-turn tool loop.
//
// The turn pipeline:
//
//	input → History → Compressor → provider.Model → stream.Normalize → events
//
// Run delivers every failure as a terminal event on the returned channel.
// Exactly one terminal event (final, error, or cancelled) ends each turn,
// and callers may rely on it being the last event.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"coil/internal/compact"
	"coil/internal/config"
	"coil/internal/history"
	"coil/internal/logging"
	"coil/internal/provider"
	"coil/internal/stream"
	"coil/internal/tools"
	"coil/internal/types"
)

// ErrEmptyInput is returned for input with nothing to send.
var ErrEmptyInput = errors.New("session: empty input")

// Session owns one conversation: its id, history, compression policy, and
// the active model handle. One Run executes at a time; a second call
// blocks until the first turn completes.
type Session struct {
	id        string
	system    string
	maxOutput int

	registry   *provider.Registry
	history    *history.Store
	compaction config.CompactionConfig

	mu         sync.RWMutex
	providerID string
	modelID    string
	model      provider.Model
	compressor *compact.Compressor
	tools      []provider.ToolSchema

	turnMu sync.Mutex
}

// New creates a session on the configured provider and model. toolReg may
// be nil to run without tools.
func New(reg *provider.Registry, toolReg *tools.Registry, cfg config.Config) (*Session, error) {
	providerID := cfg.Provider.Default
	model, err := reg.NewModel(providerID, cfg.Provider.Model)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.NewString(),
		system:     cfg.Provider.SystemPrompt,
		maxOutput:  cfg.Provider.MaxOutputTokens,
		registry:   reg,
		history:    history.NewStore(),
		compaction: cfg.Compaction,
		providerID: providerID,
		modelID:    model.ModelID(),
		model:      model,
	}

	if cfg.Tools.Enabled && toolReg != nil {
		if c, err := reg.Get(providerID); err == nil && c.SupportsTools() {
			s.tools = ToolSchemas(toolReg)
		}
	}

	s.compressor = compact.NewCompressor(s.history, s, s, compact.Config{
		Threshold:        cfg.Compaction.Threshold,
		PreserveFraction: cfg.Compaction.PreserveFraction,
		ModelTokenLimit:  s.contextWindow(providerID, s.modelID, cfg.Compaction.ModelTokenLimit),
	})

	logging.Session("session %s on %s/%s", s.id, providerID, s.modelID)
	logging.Audit().SessionOpen(s.id, providerID, s.modelID)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ProviderID returns the active provider id.
func (s *Session) ProviderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerID
}

// ModelID returns the active model id.
func (s *Session) ModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID
}

// History exposes the session's history store.
func (s *Session) History() *history.Store { return s.history }

// SetModel swaps the active provider/model pair. History carries over; the
// compressor is rebuilt against the new model's context window, which also
// clears any sticky compression failure from the old endpoint.
func (s *Session) SetModel(providerID, modelID string) error {
	model, err := s.registry.NewModel(providerID, modelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerID = providerID
	s.modelID = model.ModelID()
	s.model = model
	s.compressor = compact.NewCompressor(s.history, s, s, compact.Config{
		Threshold:        s.compaction.Threshold,
		PreserveFraction: s.compaction.PreserveFraction,
		ModelTokenLimit:  s.contextWindow(providerID, s.modelID, s.compaction.ModelTokenLimit),
	})

	logging.Session("session %s switched to %s/%s", s.id, providerID, s.modelID)
	logging.Audit().ModelSwitch(s.id, providerID, s.modelID)
	return nil
}

// Compress forces a compression attempt, bypassing the threshold. This is
// the explicit user command; the automatic pre-turn check runs inside Run.
func (s *Session) Compress(ctx context.Context) compact.Outcome {
	s.mu.RLock()
	compressor := s.compressor
	s.mu.RUnlock()
	return compressor.Compress(ctx, compact.Options{Force: true})
}

// CountTokens counts prompt tokens through the active model, satisfying
// the compressor's TokenCounter.
func (s *Session) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()
	return model.CountTokens(ctx, outboundMessages(msgs))
}

// Summarize runs the compaction instruction through the active model,
// satisfying the compressor's Summarizer.
func (s *Session) Summarize(ctx context.Context, system string, msgs []types.Message, maxOutputTokens int) (string, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()
	return model.Complete(ctx, provider.Request{
		System:          system,
		Messages:        outboundMessages(msgs),
		MaxOutputTokens: maxOutputTokens,
	})
}

// Run executes one turn. The returned channel yields canonical events in
// arrival order and always ends with exactly one terminal event. Failures
// of any kind, including construction failures and panics, arrive as an
// error event rather than escaping to the caller.
func (s *Session) Run(ctx context.Context, input any) <-chan types.StreamEvent {
	out := make(chan types.StreamEvent, 64)
	go s.run(ctx, input, out)
	return out
}

func (s *Session) run(ctx context.Context, input any, out chan<- types.StreamEvent) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			logging.SessionError("turn panicked: %v", r)
			out <- types.ErroredEvent(fmt.Errorf("turn failed: %v", r))
		}
	}()

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	msg, err := NormalizeInput(input)
	if err != nil {
		out <- types.ErroredEvent(err)
		return
	}
	if err := s.history.Append(msg); err != nil {
		out <- types.ErroredEvent(err)
		return
	}

	s.mu.RLock()
	model := s.model
	compressor := s.compressor
	toolSchemas := s.tools
	s.mu.RUnlock()

	if s.compaction.Enabled {
		outcome := compressor.Compress(ctx, compact.Options{})
		switch outcome.Status {
		case compact.StatusCompressed:
			logging.Session("history compressed %d -> %d tokens", outcome.OriginalTokens, outcome.NewTokens)
		case compact.StatusNoop:
		default:
			// The turn proceeds on the untouched history; the provider
			// rejects it if the window is truly blown.
			logging.SessionWarn("compression attempt failed: %s", outcome.Status)
		}
	}

	req := provider.Request{
		System:          s.system,
		Messages:        outboundMessages(s.history.Curated()),
		Tools:           toolSchemas,
		MaxOutputTokens: s.maxOutput,
	}

	chunks, errs := model.Stream(ctx, req)
	events := stream.Normalize(ctx, chunks, errs)

	var text strings.Builder
	var calls []types.ToolCallRequest

	for ev := range events {
		switch ev.Kind {
		case types.EventContentDelta:
			text.WriteString(ev.Delta)
			if !emit(ctx, out, ev) {
				out <- types.CancelledEvent()
				return
			}

		case types.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, ev.ToolCall.Clone())
			}
			if !emit(ctx, out, ev) {
				out <- types.CancelledEvent()
				return
			}

		case types.EventThought, types.EventUsage:
			if !emit(ctx, out, ev) {
				out <- types.CancelledEvent()
				return
			}

		case types.EventFinished:
			assistant := assembleAssistant(text.String(), calls)
			var final *types.Message
			if assistant.HasContent() {
				if err := s.history.Append(assistant); err != nil {
					out <- types.ErroredEvent(err)
					return
				}
				m := assistant.Clone()
				final = &m
			}
			out <- types.FinishedEvent(ev.FinishReason, final)
			return

		case types.EventErrored, types.EventCancelled:
			// Partial assistant text is dropped: an incomplete exchange
			// must not pollute curated history.
			out <- ev
			return
		}
	}

	out <- types.ErroredEvent(errors.New("stream ended without a terminal event"))
}

// emit delivers a non-terminal event, giving up when the caller stopped
// listening.
func emit(ctx context.Context, out chan<- types.StreamEvent, ev types.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// assembleAssistant builds the history entry for one finished turn:
// streamed text first, tool calls in arrival order after it.
func assembleAssistant(text string, calls []types.ToolCallRequest) types.Message {
	msg := types.Message{Role: types.RoleAssistant}
	if text != "" {
		msg.Fragments = append(msg.Fragments, types.TextFragment(text))
	}
	for _, c := range calls {
		msg.Fragments = append(msg.Fragments, c.Fragment())
	}
	return msg
}

// NormalizeInput converts the accepted input forms into one canonical
// message: a string, a single fragment, or a fragment list. Input carrying
// a tool result becomes a tool-role message, everything else user input.
func NormalizeInput(input any) (types.Message, error) {
	switch v := input.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return types.Message{}, ErrEmptyInput
		}
		return types.NewUserText(v), nil
	case types.Fragment:
		return fragmentsMessage([]types.Fragment{v}), nil
	case []types.Fragment:
		if len(v) == 0 {
			return types.Message{}, ErrEmptyInput
		}
		return fragmentsMessage(v), nil
	case types.Message:
		return v.Clone(), nil
	default:
		return types.Message{}, fmt.Errorf("session: unsupported input type %T", input)
	}
}

func fragmentsMessage(frags []types.Fragment) types.Message {
	role := types.RoleUser
	for _, f := range frags {
		if f.Kind == types.FragmentToolResult {
			role = types.RoleTool
			break
		}
	}
	msg := types.Message{Role: role}
	for _, f := range frags {
		msg.Fragments = append(msg.Fragments, f.Clone())
	}
	return msg
}

// outboundMessages prepares history for the wire. Roles outside the
// provider set remap to user, and messages with no usable content are
// dropped since providers reject empty turns. Assistant messages that
// carry only tool calls survive; they anchor the tool results that follow.
func outboundMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasContent() {
			continue
		}
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool:
		default:
			m.Role = types.RoleUser
		}
		out = append(out, m)
	}
	return out
}

// ToolSchemas renders a registry's tools as provider schemas, in registry
// order.
func ToolSchemas(reg *tools.Registry) []provider.ToolSchema {
	all := reg.All()
	out := make([]provider.ToolSchema, 0, len(all))
	for _, t := range all {
		out = append(out, provider.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.ParametersSchema(),
		})
	}
	return out
}

// contextWindow resolves the model's context window from its connector,
// falling back to the configured limit when the connector does not know.
func (s *Session) contextWindow(providerID, modelID string, fallback int) int {
	c, err := s.registry.Get(providerID)
	if err != nil {
		return fallback
	}
	for _, m := range c.Models() {
		if m.ID == modelID && m.ContextWindow > 0 {
			return m.ContextWindow
		}
	}
	return fallback
}
