package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coil/internal/logging"
	"coil/internal/types"
)

const anthropicVersion = "2023-06-01"

// AnthropicConnector serves the Anthropic Messages API.
type AnthropicConnector struct{}

// NewAnthropicConnector returns the anthropic connector.
func NewAnthropicConnector() *AnthropicConnector { return &AnthropicConnector{} }

func (c *AnthropicConnector) ID() string          { return ProviderAnthropic }
func (c *AnthropicConnector) DisplayName() string { return "Anthropic" }
func (c *AnthropicConnector) SupportsTools() bool { return true }

func (c *AnthropicConnector) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000, Default: true},
		{ID: "claude-opus-4-1", DisplayName: "Claude Opus 4.1", ContextWindow: 200000},
		{ID: "claude-haiku-4-5", DisplayName: "Claude Haiku 4.5", ContextWindow: 200000},
	}
}

// NewModel mints a handle for modelID, or the default model when empty.
func (c *AnthropicConnector) NewModel(modelID string, creds CredentialResolver) (Model, error) {
	key, ok := creds.Resolve(ProviderAnthropic)
	if !ok {
		return nil, fmt.Errorf("%q: %w", ProviderAnthropic, ErrConnectorUnavailable)
	}
	if modelID == "" {
		modelID = DefaultModelID(c)
	}
	return &anthropicModel{
		apiKey:     key,
		baseURL:    "https://api.anthropic.com/v1",
		model:      modelID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

type anthropicModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter
}

func (m *anthropicModel) ModelID() string { return m.model }

func (m *anthropicModel) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", m.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (m *anthropicModel) buildRequest(req Request, stream bool) anthropicRequest {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	out := anthropicRequest{
		Model:     m.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  anthropicMessages(req.Messages),
		Stream:    stream,
	}
	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

// anthropicMessages converts canonical messages to Messages API turns.
// Tool results ride in user turns; thought fragments are not sent back.
func anthropicMessages(msgs []types.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, msg := range msgs {
		var role string
		var blocks []anthropicContentBlock

		switch msg.Role {
		case types.RoleAssistant:
			role = "assistant"
			for _, f := range msg.Fragments {
				switch f.Kind {
				case types.FragmentText:
					if f.Text != "" {
						blocks = append(blocks, anthropicContentBlock{Type: "text", Text: f.Text})
					}
				case types.FragmentToolCall:
					input := f.Arguments
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropicContentBlock{
						Type:  "tool_use",
						ID:    f.CallID,
						Name:  f.Name,
						Input: input,
					})
				}
			}
		case types.RoleTool:
			role = "user"
			for _, f := range msg.Fragments {
				if f.Kind != types.FragmentToolResult {
					continue
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: f.CallID,
					Content:   f.Payload,
					IsError:   f.IsError,
				})
			}
		default:
			role = "user"
			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: text})
			}
		}

		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}
	return out
}

func mapAnthropicStop(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "STOP"
	case "max_tokens":
		return "MAX_TOKENS"
	case "tool_use":
		return "TOOL_USE"
	case "":
		return ""
	default:
		return strings.ToUpper(reason)
	}
}

// Complete runs a blocking Messages call and returns the concatenated
// text blocks.
func (m *anthropicModel) Complete(ctx context.Context, req Request) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.ProviderDebug("[anthropic] Complete: model=%s messages=%d", m.model, len(req.Messages))

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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(body))
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
			apiErr := apiError(ProviderAnthropic, resp.StatusCode, respBody)
			if retryable(apiErr) {
				lastErr = apiErr
				continue
			}
			logging.ProviderError("[anthropic] Complete: %v", apiErr)
			return "", apiErr
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", &Error{Provider: ProviderAnthropic, Type: parsed.Error.Type, Message: parsed.Error.Message}
		}

		var b strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			return "", ErrEmptyResponse
		}
		logging.Provider("[anthropic] Complete: done in %v response_len=%d", time.Since(start), len(text))
		return text, nil
	}

	logging.ProviderError("[anthropic] Complete: retries exhausted after %v: %v", time.Since(start), lastErr)
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

// CountTokens calls the count_tokens endpoint.
func (m *anthropicModel) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	wireMsgs := anthropicMessages(msgs)
	if len(wireMsgs) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(anthropicCountRequest{Model: m.model, Messages: wireMsgs})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	m.pace()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages/count_tokens", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	m.setHeaders(httpReq)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apiError(ProviderAnthropic, resp.StatusCode, respBody)
	}

	var parsed anthropicCountResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	logging.ProviderDebug("[anthropic] CountTokens: %d messages -> %d tokens", len(msgs), parsed.InputTokens)
	return parsed.InputTokens, nil
}

// Stream opens a streaming Messages call.
func (m *anthropicModel) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 100)
	errs := make(chan error, 1)

	logging.ProviderDebug("[anthropic] Stream: model=%s messages=%d tools=%d", m.model, len(req.Messages), len(req.Tools))

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
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(body))
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
			errs <- apiError(ProviderAnthropic, resp.StatusCode, respBody)
			return
		}

		scanDone := make(chan struct{})
		scanErr := make(chan error, 1)
		go func() {
			defer close(scanDone)
			if err := m.scanStream(ctx, resp.Body, chunks); err != nil {
				scanErr <- err
			}
		}()

		select {
		case <-scanDone:
			select {
			case err := <-scanErr:
				logging.ProviderError("[anthropic] Stream: failed after %v: %v", time.Since(start), err)
				errs <- err
			default:
				logging.Provider("[anthropic] Stream: done in %v", time.Since(start))
			}
		case <-ctx.Done():
			resp.Body.Close()
			<-scanDone
			logging.ProviderWarn("[anthropic] Stream: cancelled after %v", time.Since(start))
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

// scanStream walks the SSE body and emits chunks. Tool-call input arrives
// as input_json_delta fragments accumulated per block index and is emitted
// whole at content_block_stop.
func (m *anthropicModel) scanStream(ctx context.Context, body io.Reader, out chan<- Chunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	type blockState struct {
		typ  string
		id   string
		name string
		args strings.Builder
	}
	blocks := make(map[int]*blockState)

	emit := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var usage types.UsageMetadata
	var finish string
	finalized := false
	finalize := func() bool {
		if finalized {
			return true
		}
		finalized = true
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			u := usage
			if !emit(Chunk{Usage: &u}) {
				return false
			}
		}
		if finish != "" {
			return emit(Chunk{FinishReason: finish})
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var evt anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				usage.InputTokens = evt.Message.Usage.InputTokens
				usage.CachedTokens = evt.Message.Usage.CacheReadInputTokens
			}

		case "content_block_start":
			if evt.ContentBlock != nil {
				blocks[evt.Index] = &blockState{
					typ:  evt.ContentBlock.Type,
					id:   evt.ContentBlock.ID,
					name: evt.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" && !emit(Chunk{TextDelta: evt.Delta.Text}) {
					return nil
				}
			case "thinking_delta":
				if evt.Delta.Thinking != "" && !emit(Chunk{Thought: evt.Delta.Thinking}) {
					return nil
				}
			case "input_json_delta":
				if b, ok := blocks[evt.Index]; ok {
					b.args.WriteString(evt.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			b, ok := blocks[evt.Index]
			if !ok {
				continue
			}
			delete(blocks, evt.Index)
			if b.typ != "tool_use" {
				continue
			}
			args := map[string]any{}
			if raw := strings.TrimSpace(b.args.String()); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					logging.ProviderWarn("[anthropic] Stream: bad tool input for %s: %v", b.name, err)
				}
			}
			call := &types.ToolCallRequest{CallID: b.id, Name: b.name, Arguments: args}
			if !emit(Chunk{ToolCall: call}) {
				return nil
			}

		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				finish = mapAnthropicStop(evt.Delta.StopReason)
			}
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}

		case "message_stop":
			finalize()
			return nil

		case "error":
			if evt.Error != nil {
				return &Error{Provider: ProviderAnthropic, Type: evt.Error.Type, Message: evt.Error.Message}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	finalize()
	return nil
}
