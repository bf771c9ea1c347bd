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

	"github.com/google/uuid"

	"coil/internal/logging"
	"coil/internal/types"
)

// GoogleConnector serves the Gemini generateContent API.
type GoogleConnector struct{}

// NewGoogleConnector returns the google connector.
func NewGoogleConnector() *GoogleConnector { return &GoogleConnector{} }

func (c *GoogleConnector) ID() string          { return ProviderGoogle }
func (c *GoogleConnector) DisplayName() string { return "Google" }
func (c *GoogleConnector) SupportsTools() bool { return true }

func (c *GoogleConnector) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", ContextWindow: 1048576, Default: true},
		{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", ContextWindow: 1048576},
		{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash-Lite", ContextWindow: 1048576},
	}
}

// NewModel mints a handle for modelID, or the default model when empty.
func (c *GoogleConnector) NewModel(modelID string, creds CredentialResolver) (Model, error) {
	key, ok := creds.Resolve(ProviderGoogle)
	if !ok {
		return nil, fmt.Errorf("%q: %w", ProviderGoogle, ErrConnectorUnavailable)
	}
	if modelID == "" {
		modelID = DefaultModelID(c)
	}
	return &googleModel{
		apiKey:     key,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		model:      modelID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

type googleModel struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter
}

func (m *googleModel) ModelID() string { return m.model }

func (m *googleModel) buildRequest(req Request) geminiRequest {
	out := geminiRequest{
		Contents: geminiContents(req.Messages),
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out.Tools = []geminiTool{tool}
	}
	return out
}

// geminiContents converts canonical messages to generateContent turns.
// Tool results become functionResponse parts in user turns; the API
// correlates them by function name rather than call id.
func geminiContents(msgs []types.Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, msg := range msgs {
		var role string
		var parts []geminiPart

		switch msg.Role {
		case types.RoleAssistant:
			role = "model"
			for _, f := range msg.Fragments {
				switch f.Kind {
				case types.FragmentText:
					if f.Text != "" {
						parts = append(parts, geminiPart{Text: f.Text})
					}
				case types.FragmentToolCall:
					args := f.Arguments
					if args == nil {
						args = map[string]any{}
					}
					parts = append(parts, geminiPart{
						FunctionCall: &geminiFunctionCall{Name: f.Name, Args: args},
					})
				}
			}
		case types.RoleTool:
			role = "user"
			for _, f := range msg.Fragments {
				if f.Kind != types.FragmentToolResult {
					continue
				}
				response := map[string]any{"output": f.Payload}
				if f.IsError {
					response = map[string]any{"error": f.Payload}
				}
				parts = append(parts, geminiPart{
					FunctionResponse: &geminiFunctionResponse{Name: f.Name, Response: response},
				})
			}
		default:
			role = "user"
			if text := msg.Text(); text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
		}

		if len(parts) == 0 {
			continue
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}
	return out
}

func usageFromGemini(u *geminiUsageMetadata) *types.UsageMetadata {
	if u == nil {
		return nil
	}
	return &types.UsageMetadata{
		InputTokens:   u.PromptTokenCount,
		OutputTokens:  u.CandidatesTokenCount,
		TotalTokens:   u.TotalTokenCount,
		CachedTokens:  u.CachedContentTokenCount,
		ThoughtTokens: u.ThoughtsTokenCount,
	}
}

// Complete runs a blocking generateContent call and returns the
// concatenated text parts.
func (m *googleModel) Complete(ctx context.Context, req Request) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.ProviderDebug("[google] Complete: model=%s messages=%d", m.model, len(req.Messages))

	body, err := json.Marshal(m.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", m.baseURL, m.model, m.apiKey)

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			backoff(i)
		}
		m.pace()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

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
			apiErr := apiError(ProviderGoogle, resp.StatusCode, respBody)
			if retryable(apiErr) {
				lastErr = apiErr
				continue
			}
			logging.ProviderError("[google] Complete: %v", apiErr)
			return "", apiErr
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("parse response: %w", err)
		}
		if parsed.Error != nil {
			return "", &Error{Provider: ProviderGoogle, Type: parsed.Error.Status, Message: parsed.Error.Message}
		}
		if len(parsed.Candidates) == 0 {
			return "", ErrEmptyResponse
		}

		var b strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			return "", ErrEmptyResponse
		}
		logging.Provider("[google] Complete: done in %v response_len=%d", time.Since(start), len(text))
		return text, nil
	}

	logging.ProviderError("[google] Complete: retries exhausted after %v: %v", time.Since(start), lastErr)
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

// CountTokens calls the countTokens endpoint.
func (m *googleModel) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	contents := geminiContents(msgs)
	if len(contents) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(geminiCountRequest{Contents: contents})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:countTokens?key=%s", m.baseURL, m.model, m.apiKey)

	m.pace()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		return 0, apiError(ProviderGoogle, resp.StatusCode, respBody)
	}

	var parsed geminiCountResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}
	logging.ProviderDebug("[google] CountTokens: %d messages -> %d tokens", len(msgs), parsed.TotalTokens)
	return parsed.TotalTokens, nil
}

// Stream opens a streaming generateContent call.
func (m *googleModel) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 100)
	errs := make(chan error, 1)

	logging.ProviderDebug("[google] Stream: model=%s messages=%d tools=%d", m.model, len(req.Messages), len(req.Tools))

	go func() {
		defer close(chunks)
		defer close(errs)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.httpClient.Timeout)
			defer cancel()
		}

		start := time.Now()
		body, err := json.Marshal(m.buildRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", m.baseURL, m.model, m.apiKey)

		m.pace()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errs <- apiError(ProviderGoogle, resp.StatusCode, respBody)
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
				logging.ProviderError("[google] Stream: failed after %v: %v", time.Since(start), err)
				errs <- err
			default:
				logging.Provider("[google] Stream: done in %v", time.Since(start))
			}
		case <-ctx.Done():
			resp.Body.Close()
			<-scanDone
			logging.ProviderWarn("[google] Stream: cancelled after %v", time.Since(start))
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

// scanStream walks the SSE body. Each data line is a full response
// increment; functionCall parts arrive whole, and the API assigns no call
// ids, so one is minted per call.
func (m *googleModel) scanStream(ctx context.Context, body io.Reader, out chan<- Chunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

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

		var increment geminiResponse
		if err := json.Unmarshal([]byte(data), &increment); err != nil {
			continue
		}
		if increment.Error != nil {
			return &Error{Provider: ProviderGoogle, StatusCode: increment.Error.Code, Type: increment.Error.Status, Message: increment.Error.Message}
		}
		if u := usageFromGemini(increment.UsageMetadata); u != nil {
			usage = u
		}
		if len(increment.Candidates) == 0 {
			continue
		}
		candidate := increment.Candidates[0]

		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				call := &types.ToolCallRequest{
					CallID:    uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				}
				if !emit(Chunk{ToolCall: call}) {
					return nil
				}
			case part.Thought && part.Text != "":
				if !emit(Chunk{Thought: part.Text}) {
					return nil
				}
			case part.Text != "":
				if !emit(Chunk{TextDelta: part.Text}) {
					return nil
				}
			}
		}
		if candidate.FinishReason != "" {
			finish = candidate.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}

	if usage != nil {
		if !emit(Chunk{Usage: usage}) {
			return nil
		}
	}
	if finish != "" {
		emit(Chunk{FinishReason: finish})
	}
	return nil
}
