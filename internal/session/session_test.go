package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coil/internal/config"
	"coil/internal/provider"
	"coil/internal/tools"
	"coil/internal/types"
)

// ===============================
// INPUT NORMALIZATION
// ===============================

func TestNormalizeInput(t *testing.T) {
	t.Parallel()

	t.Run("string becomes user text", func(t *testing.T) {
		msg, err := NormalizeInput("hello")
		require.NoError(t, err)
		assert.Equal(t, types.RoleUser, msg.Role)
		assert.Equal(t, "hello", msg.Text())
	})

	t.Run("blank string is rejected", func(t *testing.T) {
		_, err := NormalizeInput("   \n\t")
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("single fragment becomes user message", func(t *testing.T) {
		msg, err := NormalizeInput(types.TextFragment("hi"))
		require.NoError(t, err)
		assert.Equal(t, types.RoleUser, msg.Role)
		require.Len(t, msg.Fragments, 1)
	})

	t.Run("tool result fragments become tool role", func(t *testing.T) {
		msg, err := NormalizeInput([]types.Fragment{
			types.ToolResultFragment("call_1", "read_file", "package main", false),
			types.TextFragment("context for the result"),
		})
		require.NoError(t, err)
		assert.Equal(t, types.RoleTool, msg.Role)
		require.Len(t, msg.Fragments, 2)
	})

	t.Run("empty fragment list is rejected", func(t *testing.T) {
		_, err := NormalizeInput([]types.Fragment{})
		require.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("message passes through as a copy", func(t *testing.T) {
		in := types.NewToolResultMessage(types.ToolResultFragment("c1", "grep", "no matches", false))
		msg, err := NormalizeInput(in)
		require.NoError(t, err)
		assert.Equal(t, types.RoleTool, msg.Role)

		msg.Fragments[0].Payload = "mutated"
		assert.Equal(t, "no matches", in.Fragments[0].Payload)
	})

	t.Run("unsupported type is rejected", func(t *testing.T) {
		_, err := NormalizeInput(42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported input type")
	})
}

// ===============================
// TURN EXECUTION
// ===============================

func TestSession_SimpleTurn(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var captured provider.Request
	model := &mockModel{
		StreamFunc: func(_ context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
			mu.Lock()
			captured = req
			mu.Unlock()
			return scriptedStream(
				provider.Chunk{TextDelta: "4"},
				provider.Chunk{FinishReason: "STOP"},
			)
		},
	}
	s := newTestSession(t, model, nil, nil)

	require.NoError(t, s.History().Append(types.NewUserText("hi")))
	require.NoError(t, s.History().Append(types.NewAssistantText("hello, what can I do for you?")))

	events := collect(s.Run(context.Background(), "what's 2+2?"))
	terminal := terminalOf(t, events)

	require.Equal(t, types.EventFinished, terminal.Kind)
	assert.Equal(t, "STOP", terminal.FinishReason)
	require.NotNil(t, terminal.Message)
	assert.Equal(t, "4", terminal.Message.Text())

	var deltas strings.Builder
	for _, ev := range events {
		if ev.Kind == types.EventContentDelta {
			deltas.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "4", deltas.String())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "You are a careful coding assistant.", captured.System)
	require.Len(t, captured.Messages, 3)
	assert.Equal(t, types.RoleUser, captured.Messages[0].Role)
	assert.Equal(t, types.RoleAssistant, captured.Messages[1].Role)
	assert.Equal(t, "what's 2+2?", captured.Messages[2].Text())

	all := s.History().All()
	require.Len(t, all, 4)
	assert.Equal(t, types.RoleAssistant, all[3].Role)
	assert.Equal(t, "4", all[3].Text())
}

func TestSession_ToolCallsAccumulateIntoHistory(t *testing.T) {
	t.Parallel()

	model := &mockModel{
		StreamFunc: func(_ context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			return scriptedStream(
				provider.Chunk{TextDelta: "let me look at that file"},
				provider.Chunk{ToolCall: &types.ToolCallRequest{
					CallID:    "call_1",
					Name:      "read_file",
					Arguments: map[string]any{"path": "main.go"},
				}},
				provider.Chunk{FinishReason: "TOOL_USE"},
			)
		},
	}
	s := newTestSession(t, model, nil, nil)

	events := collect(s.Run(context.Background(), "what's in main.go?"))
	terminal := terminalOf(t, events)

	require.Equal(t, types.EventFinished, terminal.Kind)
	assert.Equal(t, "TOOL_USE", terminal.FinishReason)

	var calls []types.ToolCallRequest
	for _, ev := range events {
		if ev.Kind == types.EventToolCall {
			calls = append(calls, *ev.ToolCall)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)

	// The accumulated assistant message carries the streamed text first,
	// then the tool call, so the next request anchors the tool result.
	require.NotNil(t, terminal.Message)
	require.Len(t, terminal.Message.Fragments, 2)
	assert.Equal(t, types.FragmentText, terminal.Message.Fragments[0].Kind)
	assert.Equal(t, types.FragmentToolCall, terminal.Message.Fragments[1].Kind)

	all := s.History().All()
	last := all[len(all)-1]
	assert.Equal(t, types.RoleAssistant, last.Role)
	require.Len(t, last.ToolCalls(), 1)
	assert.Equal(t, "call_1", last.ToolCalls()[0].CallID)
}

func TestSession_StreamErrorLeavesHistoryClean(t *testing.T) {
	t.Parallel()

	model := &mockModel{
		StreamFunc: func(_ context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			return errorStream(errors.New("upstream exploded"))
		},
	}
	s := newTestSession(t, model, nil, nil)

	events := collect(s.Run(context.Background(), "hello"))
	terminal := terminalOf(t, events)

	require.Equal(t, types.EventErrored, terminal.Kind)
	assert.Contains(t, terminal.Err, "upstream exploded")

	// The user input stays; no partial assistant message is recorded.
	all := s.History().All()
	require.Len(t, all, 1)
	assert.Equal(t, types.RoleUser, all[0].Role)
}

func TestSession_PartialTextDroppedOnError(t *testing.T) {
	t.Parallel()

	model := &mockModel{
		StreamFunc: func(_ context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			ch := make(chan provider.Chunk, 1)
			ch <- provider.Chunk{TextDelta: "partial answer"}
			close(ch)
			errs := make(chan error, 1)
			errs <- errors.New("connection reset")
			close(errs)
			return ch, errs
		},
	}
	s := newTestSession(t, model, nil, nil)

	events := collect(s.Run(context.Background(), "hello"))
	terminal := terminalOf(t, events)

	require.Equal(t, types.EventErrored, terminal.Kind)
	for _, m := range s.History().All() {
		assert.NotEqual(t, types.RoleAssistant, m.Role)
	}
}

func TestSession_InvalidInputIsTerminalEvent(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &mockModel{}, nil, nil)

	events := collect(s.Run(context.Background(), 42))
	require.Len(t, events, 1)
	require.Equal(t, types.EventErrored, events[0].Kind)
	assert.Contains(t, events[0].Err, "unsupported input type")

	events = collect(s.Run(context.Background(), "  "))
	require.Len(t, events, 1)
	require.Equal(t, types.EventErrored, events[0].Kind)

	assert.Zero(t, s.History().Len())
}

func TestSession_ToolResultInputSentAsToolRole(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var captured provider.Request
	model := &mockModel{
		StreamFunc: func(_ context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
			mu.Lock()
			captured = req
			mu.Unlock()
			return scriptedStream(
				provider.Chunk{TextDelta: "the file defines main"},
				provider.Chunk{FinishReason: "STOP"},
			)
		},
	}
	s := newTestSession(t, model, nil, nil)

	// A prior turn's assistant tool call must already anchor the result.
	require.NoError(t, s.History().Append(types.NewUserText("read main.go")))
	require.NoError(t, s.History().Append(types.Message{
		Role: types.RoleAssistant,
		Fragments: []types.Fragment{
			types.ToolCallFragment("call_1", "read_file", map[string]any{"path": "main.go"}),
		},
	}))

	input := []types.Fragment{
		types.ToolResultFragment("call_1", "read_file", "package main", false),
	}
	events := collect(s.Run(context.Background(), input))
	terminal := terminalOf(t, events)
	require.Equal(t, types.EventFinished, terminal.Kind)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured.Messages, 3)
	assert.Equal(t, types.RoleTool, captured.Messages[2].Role)
	require.Len(t, captured.Messages[2].Fragments, 1)
	assert.Equal(t, types.FragmentToolResult, captured.Messages[2].Fragments[0].Kind)
}

func TestSession_CancellationIsTerminal(t *testing.T) {
	t.Parallel()

	hang := make(chan provider.Chunk)
	herr := make(chan error)
	model := &mockModel{
		StreamFunc: func(_ context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			return hang, herr
		},
	}
	s := newTestSession(t, model, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := s.Run(ctx, "hello")
	cancel()

	got := collect(events)
	terminal := terminalOf(t, got)
	assert.Equal(t, types.EventCancelled, terminal.Kind)

	for _, m := range s.History().All() {
		assert.NotEqual(t, types.RoleAssistant, m.Role)
	}
}

func TestSession_SecondTurnWaitsForFirst(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	model := &mockModel{
		StreamFunc: func(_ context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return scriptedStream(provider.Chunk{FinishReason: "STOP"})
		},
	}
	s := newTestSession(t, model, nil, nil)

	first := s.Run(context.Background(), "one")
	<-started
	// The first turn holds the turn lock, so this input cannot land
	// until it finishes.
	second := s.Run(context.Background(), "two")

	close(release)
	terminalOf(t, collect(first))
	terminalOf(t, collect(second))

	all := s.History().All()
	require.Len(t, all, 2)
	assert.Equal(t, "one", all[0].Text())
	assert.Equal(t, "two", all[1].Text())
}

// ===============================
// TOOL SCHEMAS
// ===============================

func TestSession_AdvertisesToolSchemas(t *testing.T) {
	t.Parallel()

	toolReg := tools.NewRegistry()
	require.NoError(t, toolReg.Register(&tools.Tool{
		Name:        "read_file",
		Description: "Read a file from disk",
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			return "", nil
		},
		Schema: tools.Schema{
			Required:   []string{"path"},
			Properties: map[string]tools.Property{"path": {Type: "string", Description: "File path"}},
		},
	}))

	var mu sync.Mutex
	var captured provider.Request
	model := &mockModel{
		StreamFunc: func(_ context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
			mu.Lock()
			captured = req
			mu.Unlock()
			return scriptedStream(provider.Chunk{FinishReason: "STOP"})
		},
	}
	s := newTestSession(t, model, toolReg, nil)

	terminalOf(t, collect(s.Run(context.Background(), "hello")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "read_file", captured.Tools[0].Name)
	assert.Equal(t, "object", captured.Tools[0].Parameters["type"])
}

func TestSession_ToolsDisabledSendsNoSchemas(t *testing.T) {
	t.Parallel()

	toolReg := tools.NewRegistry()
	require.NoError(t, toolReg.Register(&tools.Tool{
		Name: "read_file",
		Execute: func(_ context.Context, _ map[string]any) (string, error) {
			return "", nil
		},
	}))

	var mu sync.Mutex
	var captured provider.Request
	model := &mockModel{
		StreamFunc: func(_ context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
			mu.Lock()
			captured = req
			mu.Unlock()
			return scriptedStream(provider.Chunk{FinishReason: "STOP"})
		},
	}
	s := newTestSession(t, model, toolReg, func(cfg *config.Config) {
		cfg.Tools.Enabled = false
	})

	terminalOf(t, collect(s.Run(context.Background(), "hello")))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, captured.Tools)
}

// ===============================
// MODEL SWITCHING
// ===============================

func TestSession_SetModel(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, &mockModel{}, nil, nil)
	require.NoError(t, s.History().Append(types.NewUserText("keep me")))

	require.NoError(t, s.SetModel("mock", "mock-2"))
	assert.Equal(t, "mock", s.ProviderID())
	assert.Equal(t, "mock-2", s.ModelID())
	assert.Equal(t, 1, s.History().Len())

	err := s.SetModel("nope", "anything")
	require.Error(t, err)
	assert.Equal(t, "mock-2", s.ModelID())
}

// ===============================
// PRE-TURN COMPRESSION
// ===============================

func TestSession_PreTurnCompression(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	summarizeSystem := ""
	model := &mockModel{
		CompleteFunc: func(_ context.Context, req provider.Request) (string, error) {
			mu.Lock()
			summarizeSystem = req.System
			mu.Unlock()
			return "They reviewed the parser and fixed two failing tests.", nil
		},
	}
	s := newTestSession(t, model, nil, func(cfg *config.Config) {
		cfg.Compaction.Enabled = true
		cfg.Compaction.Threshold = 0.5
		cfg.Compaction.PreserveFraction = 0.3
		// The mock connector reports a 200-token context window, so the
		// length-based counter crosses the threshold immediately.
	})

	filler := strings.Repeat("the parser still failed on nested calls ", 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.History().Append(types.NewUserText(filler)))
		require.NoError(t, s.History().Append(types.NewAssistantText(filler)))
	}

	events := collect(s.Run(context.Background(), "so where were we?"))
	terminal := terminalOf(t, events)
	require.Equal(t, types.EventFinished, terminal.Kind)

	mu.Lock()
	assert.Contains(t, summarizeSystem, "compacting", "summarization should use the compaction instruction")
	mu.Unlock()

	all := s.History().All()
	require.NotEmpty(t, all)
	assert.Equal(t, types.RoleUser, all[0].Role)
	assert.Contains(t, all[0].Text(), "Summary of the conversation so far")
	assert.Contains(t, all[0].Text(), "fixed two failing tests")
	require.Greater(t, len(all), 1)
	assert.Equal(t, types.RoleAssistant, all[1].Role)

	// The fresh user input survives compression untouched.
	last := all[len(all)-1]
	assert.Equal(t, "so where were we?", last.Text())
}

func TestSession_CompressionFailureDoesNotKillTurn(t *testing.T) {
	t.Parallel()

	model := &mockModel{
		CompleteFunc: func(_ context.Context, _ provider.Request) (string, error) {
			return "", errors.New("summarizer down")
		},
	}
	s := newTestSession(t, model, nil, func(cfg *config.Config) {
		cfg.Compaction.Enabled = true
		cfg.Compaction.Threshold = 0.1
	})

	filler := strings.Repeat("filler text for the token counter ", 10)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.History().Append(types.NewUserText(filler)))
		require.NoError(t, s.History().Append(types.NewAssistantText(filler)))
	}
	before := s.History().Len()

	events := collect(s.Run(context.Background(), "hello"))
	terminal := terminalOf(t, events)

	require.Equal(t, types.EventFinished, terminal.Kind)
	assert.Equal(t, before+1, s.History().Len(), "history keeps the new input, nothing else changes")
}

func TestSession_ForcedCompress(t *testing.T) {
	t.Parallel()

	model := &mockModel{
		CompleteFunc: func(_ context.Context, _ provider.Request) (string, error) {
			return "Short recap of a long exchange.", nil
		},
	}
	s := newTestSession(t, model, nil, nil)

	filler := strings.Repeat("a long meandering answer about goroutines ", 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.History().Append(types.NewUserText(filler)))
		require.NoError(t, s.History().Append(types.NewAssistantText(filler)))
	}

	outcome := s.Compress(context.Background())
	require.Equal(t, "compressed", string(outcome.Status))
	assert.Less(t, outcome.NewTokens, outcome.OriginalTokens)
}
