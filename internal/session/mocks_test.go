package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"coil/internal/config"
	"coil/internal/provider"
	"coil/internal/tools"
	"coil/internal/types"
)

// ===============================
// MOCK PROVIDER
// ===============================

// mockModel scripts provider behavior per test through its func fields.
// Nil fields fall back to a bare successful turn.
type mockModel struct {
	id              string
	StreamFunc      func(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error)
	CompleteFunc    func(ctx context.Context, req provider.Request) (string, error)
	CountTokensFunc func(ctx context.Context, msgs []types.Message) (int, error)
}

func (m *mockModel) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return scriptedStream(provider.Chunk{FinishReason: "STOP"})
}

func (m *mockModel) Complete(ctx context.Context, req provider.Request) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "summary", nil
}

func (m *mockModel) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	if m.CountTokensFunc != nil {
		return m.CountTokensFunc(ctx, msgs)
	}
	total := 0
	for _, msg := range msgs {
		total += len(msg.Text())
	}
	return total, nil
}

func (m *mockModel) ModelID() string { return m.id }

type mockConnector struct {
	model *mockModel
}

func (c *mockConnector) ID() string          { return "mock" }
func (c *mockConnector) DisplayName() string { return "Mock" }
func (c *mockConnector) SupportsTools() bool { return true }

func (c *mockConnector) Models() []provider.ModelInfo {
	return []provider.ModelInfo{
		{ID: "mock-1", DisplayName: "Mock One", ContextWindow: 200, Default: true},
		{ID: "mock-2", DisplayName: "Mock Two", ContextWindow: 400},
	}
}

func (c *mockConnector) NewModel(modelID string, _ provider.CredentialResolver) (provider.Model, error) {
	if modelID == "" {
		modelID = provider.DefaultModelID(c)
	}
	c.model.id = modelID
	return c.model, nil
}

// scriptedStream plays back a fixed chunk sequence as a finished stream.
func scriptedStream(chunks ...provider.Chunk) (<-chan provider.Chunk, <-chan error) {
	ch := make(chan provider.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	errs := make(chan error)
	close(errs)
	return ch, errs
}

// errorStream plays back a transport failure.
func errorStream(err error) (<-chan provider.Chunk, <-chan error) {
	ch := make(chan provider.Chunk)
	close(ch)
	errs := make(chan error, 1)
	errs <- err
	close(errs)
	return ch, errs
}

// ===============================
// FIXTURES
// ===============================

func newTestSession(t *testing.T, model *mockModel, toolReg *tools.Registry, mutate func(*config.Config)) *Session {
	t.Helper()

	reg := provider.NewRegistry(provider.StaticCredentials{"mock": "test-key"})
	reg.Register(&mockConnector{model: model})

	cfg := config.DefaultConfig()
	cfg.Provider.Default = "mock"
	cfg.Provider.Model = ""
	cfg.Provider.SystemPrompt = "You are a careful coding assistant."
	cfg.Compaction.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(reg, toolReg, cfg)
	require.NoError(t, err)
	return s
}

// collect drains a turn's event channel.
func collect(events <-chan types.StreamEvent) []types.StreamEvent {
	var out []types.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// terminalOf asserts the exactly-one-terminal contract and returns the
// terminal event.
func terminalOf(t *testing.T, events []types.StreamEvent) types.StreamEvent {
	t.Helper()
	require.NotEmpty(t, events)
	for i, ev := range events[:len(events)-1] {
		require.False(t, ev.IsTerminal(), "event %d is terminal but not last: %+v", i, ev)
	}
	last := events[len(events)-1]
	require.True(t, last.IsTerminal(), "last event is not terminal: %+v", last)
	return last
}
