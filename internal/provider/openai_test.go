package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"coil/internal/compact"
	"coil/internal/types"
)

const openaiStreamFixture = `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"check."},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":""}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: {"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}}

data: [DONE]

`

func newOpenAITestModel(srv *httptest.Server) *openaiModel {
	return &openaiModel{
		apiKey:     "sk-test",
		baseURL:    srv.URL,
		model:      "gpt-4o",
		httpClient: srv.Client(),
		est:        compact.NewEstimator(),
	}
}

func TestOpenAIModel_StreamAccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("streaming requests must ask for usage")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(openaiStreamFixture))
	}))
	defer srv.Close()

	m := newOpenAITestModel(srv)
	before := m.est.CharsPerToken()
	chunks, errs := m.Stream(context.Background(), Request{
		Messages: []types.Message{types.NewUserText("what is in a.txt?")},
	})
	got, err := collect(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 chunks, got %d: %+v", len(got), got)
	}
	if got[0].TextDelta != "Let me " || got[1].TextDelta != "check." {
		t.Errorf("text deltas: got %q %q", got[0].TextDelta, got[1].TextDelta)
	}
	call := got[2].ToolCall
	if call == nil || call.CallID != "call_1" || call.Name != "read_file" {
		t.Fatalf("tool call: got %+v", call)
	}
	if path, _ := call.Arguments["path"].(string); path != "a.txt" {
		t.Errorf("tool arguments: got %v", call.Arguments)
	}
	usage := got[3].Usage
	if usage == nil || usage.InputTokens != 120 || usage.OutputTokens != 30 || usage.TotalTokens != 150 {
		t.Errorf("usage: got %+v", usage)
	}
	if got[4].FinishReason != "TOOL_USE" {
		t.Errorf("finish reason: got %q", got[4].FinishReason)
	}

	// The reported prompt tokens should have recalibrated the estimator.
	if m.est.CharsPerToken() == before {
		t.Errorf("usage report should calibrate the estimator")
	}
}

func TestOpenAIModel_CompleteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"summary text"},"finish_reason":"stop"}],"usage":{"prompt_tokens":40,"completion_tokens":5,"total_tokens":45}}`))
	}))
	defer srv.Close()

	m := newOpenAITestModel(srv)
	text, err := m.Complete(context.Background(), Request{
		Messages: []types.Message{types.NewUserText("summarize")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "summary text" {
		t.Errorf("got %q", text)
	}
}

func TestOpenAIModel_CountTokensNeedsNoNetwork(t *testing.T) {
	m := &openaiModel{model: "gpt-4o", est: compact.NewEstimator()}
	msgs := []types.Message{
		types.NewUserText("hello there"),
		types.NewAssistantText("general kenobi"),
	}
	n, err := m.CountTokens(context.Background(), msgs)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if want := compact.NewEstimator().EstimateMessages(msgs); n != want {
		t.Errorf("expected uncalibrated estimate %d, got %d", want, n)
	}
}

func TestOpenAIMessages_Conversion(t *testing.T) {
	msgs := []types.Message{
		types.NewUserText("run the tool"),
		{
			Role: types.RoleAssistant,
			Fragments: []types.Fragment{
				types.ToolCallFragment("call_1", "grep", map[string]any{"pattern": "x"}),
			},
		},
		types.NewToolResultMessage(
			types.ToolResultFragment("call_1", "grep", "3 matches", false),
			types.ToolResultFragment("call_2", "glob", "2 files", false),
		),
	}

	wire := openaiMessages("be terse", msgs)
	if len(wire) != 5 {
		t.Fatalf("expected system + user + assistant + 2 tool turns, got %d", len(wire))
	}
	if wire[0].Role != "system" || wire[0].Content != "be terse" {
		t.Errorf("system turn: %+v", wire[0])
	}
	asst := wire[2]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant turn: %+v", asst)
	}
	if asst.ToolCalls[0].ID != "call_1" || asst.ToolCalls[0].Function.Name != "grep" {
		t.Errorf("tool call: %+v", asst.ToolCalls[0])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(asst.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments should be a JSON string: %v", err)
	}
	if args["pattern"] != "x" {
		t.Errorf("arguments: %v", args)
	}
	if wire[3].Role != "tool" || wire[3].ToolCallID != "call_1" || wire[3].Content != "3 matches" {
		t.Errorf("first tool turn: %+v", wire[3])
	}
	if wire[4].Role != "tool" || wire[4].ToolCallID != "call_2" {
		t.Errorf("second tool turn: %+v", wire[4])
	}
}
