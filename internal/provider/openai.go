package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"coil/internal/compact"
	"coil/internal/logging"
	"coil/internal/types"
)

// OpenAIConnector serves the OpenAI Chat Completions API.
type OpenAIConnector struct{}

// NewOpenAIConnector returns the openai connector.
func NewOpenAIConnector() *OpenAIConnector { return &OpenAIConnector{} }

func (c *OpenAIConnector) ID() string          { return ProviderOpenAI }
func (c *OpenAIConnector) DisplayName() string { return "OpenAI" }
func (c *OpenAIConnector) SupportsTools() bool { return true }

func (c *OpenAIConnector) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", DisplayName: "GPT-4o", ContextWindow: 128000, Default: true},
		{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", ContextWindow: 128000},
		{ID: "o4-mini", DisplayName: "o4-mini", ContextWindow: 200000},
	}
}

// NewModel mints a handle for modelID, or the default model when empty.
// There is no public token counting endpoint, so the handle carries an
// estimator calibrated from the usage reports of its own calls.
func (c *OpenAIConnector) NewModel(modelID string, creds CredentialResolver) (Model, error) {
	key, ok := creds.Resolve(ProviderOpenAI)
	if !ok {
		return nil, fmt.Errorf("%q: %w", ProviderOpenAI, ErrConnectorUnavailable)
	}
	if modelID == "" {
		modelID = DefaultModelID(c)
	}
	return &openaiModel{
		apiKey:     key,
		baseURL:    "https://api.openai.com/v1",
		model:      modelID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		est:        compact.NewEstimator(),
	}, nil
}

type openaiModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	est        *compact.Estimator
	limiter
}

func (m *openaiModel) ModelID() string { return m.model }

func (m *openaiModel) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
}

func (m *openaiModel) buildRequest(req Request, stream bool) openaiRequest {
	out := openaiRequest{
		Model:     m.model,
		Messages:  openaiMessages(req.System, req.Messages),
		MaxTokens: req.MaxOutputTokens,
		Stream:    stream,
	}
	if stream {
		out.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openaiTool{
			Type: "function",
			Function: openaiFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// openaiMessages converts canonical messages to Chat Completions turns.
// Each tool-result fragment becomes its own "tool" role turn.
func openaiMessages(system string, msgs []types.Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openaiMessage{Role: "system", Content: system})
	}
	for _, msg := range msgs {
		switch msg.Role {
		case types.RoleAssistant:
			wire := openaiMessage{Role: "assistant", Content: msg.Text()}
			for _, f := range msg.Fragments {
				if f.Kind != types.FragmentToolCall {
					continue
				}
				args := "{}"
				if f.Arguments != nil {
					if raw, err := json.Marshal(f.Arguments); err == nil {
						args = string(raw)
					}
				}
				wire.ToolCalls = append(wire.ToolCalls, openaiToolCall{
					ID:       f.CallID,
					Type:     "function",
					Function: openaiFunctionCall{Name: f.Name, Arguments: args},
				})
			}
			if wire.Content == "" && len(wire.ToolCalls) == 0 {
				continue
			}
			out = append(out, wire)
		case types.RoleTool:
			for _, f := range msg.Fragments {
				if f.Kind != types.FragmentToolResult {
					continue
				}
				out = append(out, openaiMessage{
					Role:       "tool",
					ToolCallID: f.CallID,
					Content:    f.Payload,
				})
			}
		case types.RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, openaiMessage{Role: "system", Content: text})
			}
		default:
			if text := msg.Text(); text != "" {
				out = append(out, openaiMessage{Role: "user", Content: text})
			}
		}
	}
	return out
}

func mapOpenAIFinish(reason string) string {
	switch reason {
	case "stop":
		return "STOP"
	case "length":
		return "MAX_TOKENS"
	case "tool_calls", "function_call":
		return "TOOL_USE"
	case "":
		return ""
	default:
		return strings.ToUpper(reason)
	}
}

// Complete runs a blocking chat call and returns the message content.
func (m *openaiModel) Complete(ctx context.Context, req Request) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.ProviderDebug("[openai] Complete: model=%s messages=%d", m.model, len(req.Messages))

	body, err := json.Marshal(m.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			backoff(i)
		}
		m.pace()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		m.setHeaders(httpReq)

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := apiError(ProviderOpenAI, resp.StatusCode, respBody)
			if retryable(apiErr) {
				lastErr = apiErr
				continue
			}
			logging.ProviderError("[openai] Complete: %v", apiErr)
			return "", apiErr
		}

		var parsed openaiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", &Error{Provider: ProviderOpenAI, Type: parsed.Error.Type, Message: parsed.Error.Message}
		}
		if len(parsed.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		if parsed.Usage != nil {
			m.est.ObserveMessages(req.Messages, parsed.Usage.PromptTokens)
		}

		text := strings.TrimSpace(parsed.Choices[0].Message.Content)
		if text == "" {
			return "", ErrEmptyResponse
		}
		logging.Provider("[openai] Complete: done in %v response_len=%d", time.Since(start), len(text))
		return text, nil
	}

	logging.ProviderError("[openai] Complete: retries exhausted after %v: %v", time.Since(start), lastErr)
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

// CountTokens estimates from serialized length. The ratio converges on
// real usage as streams report prompt token counts.
func (m *openaiModel) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	return m.est.EstimateMessages(msgs), nil
}

// Stream opens a streaming chat call.
func (m *openaiModel) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 100)
	errs := make(chan error, 1)

	logging.ProviderDebug("[openai] Stream: model=%s messages=%d tools=%d", m.model, len(req.Messages), len(req.Tools))

	go func() {
		defer close(chunks)
		defer close(errs)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.httpClient.Timeout)
			defer cancel()
		}

		start := time.Now()
		body, err := json.Marshal(m.buildRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		m.pace()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		m.setHeaders(httpReq)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errs <- apiError(ProviderOpenAI, resp.StatusCode, respBody)
			return
		}

		scanDone := make(chan struct{})
		scanErr := make(chan error, 1)
		go func() {
			defer close(scanDone)
			if err := m.scanStream(ctx, req, resp.Body, chunks); err != nil {
				scanErr <- err
			}
		}()

		select {
		case <-scanDone:
			select {
			case err := <-scanErr:
				logging.ProviderError("[openai] Stream: failed after %v: %v", time.Since(start), err)
				errs <- err
			default:
				logging.Provider("[openai] Stream: done in %v", time.Since(start))
			}
		case <-ctx.Done():
			resp.Body.Close()
			<-scanDone
			logging.ProviderWarn("[openai] Stream: cancelled after %v", time.Since(start))
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

// scanStream walks the SSE body. Tool-call arguments arrive as string
// fragments keyed by tool-call index and are assembled until the [DONE]
// sentinel, then emitted in index order ahead of usage and finish.
func (m *openaiModel) scanStream(ctx context.Context, req Request, body io.Reader, out chan<- Chunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	type callState struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*callState)

	emit := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage *types.UsageMetadata
	var finish string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = &types.UsageMetadata{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(Chunk{TextDelta: choice.Delta.Content}) {
				return nil
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			state, ok := calls[tc.Index]
			if !ok {
				state = &callState{}
				calls[tc.Index] = state
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			state.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finish = mapOpenAIFinish(choice.FinishReason)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		state := calls[i]
		args := map[string]any{}
		if raw := strings.TrimSpace(state.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				logging.ProviderWarn("[openai] Stream: bad tool arguments for %s: %v", state.name, err)
			}
		}
		call := &types.ToolCallRequest{CallID: state.id, Name: state.name, Arguments: args}
		if !emit(Chunk{ToolCall: call}) {
			return nil
		}
	}

	if usage != nil {
		m.est.ObserveMessages(req.Messages, usage.InputTokens)
		if !emit(Chunk{Usage: usage}) {
			return nil
		}
	}
	if finish != "" {
		emit(Chunk{FinishReason: finish})
	}
	return nil
}
