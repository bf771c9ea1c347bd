package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coil/internal/types"
)

const googleStreamFixture = `data: {"candidates":[{"content":{"parts":[{"text":"Sure, "}],"role":"model"}}]}

data: {"candidates":[{"content":{"parts":[{"text":"listing."}],"role":"model"}}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}}

data: {"candidates":[{"content":{"parts":[{"functionCall":{"name":"list_dir","args":{"path":"."}}}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":12,"totalTokenCount":22}}

`

func newGoogleTestModel(srv *httptest.Server) *googleModel {
	return &googleModel{
		apiKey:     "key",
		baseURL:    srv.URL,
		model:      "gemini-2.5-flash",
		httpClient: srv.Client(),
	}
}

func TestGoogleModel_StreamParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("expected alt=sse, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(googleStreamFixture))
	}))
	defer srv.Close()

	m := newGoogleTestModel(srv)
	chunks, errs := m.Stream(context.Background(), Request{
		Messages: []types.Message{types.NewUserText("list the dir")},
	})
	got, err := collect(t, chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 chunks, got %d: %+v", len(got), got)
	}
	if got[0].TextDelta != "Sure, " || got[1].TextDelta != "listing." {
		t.Errorf("text deltas: got %q %q", got[0].TextDelta, got[1].TextDelta)
	}
	call := got[2].ToolCall
	if call == nil || call.Name != "list_dir" {
		t.Fatalf("tool call: got %+v", call)
	}
	if call.CallID == "" {
		t.Errorf("google calls carry no id, one must be minted")
	}
	if path, _ := call.Arguments["path"].(string); path != "." {
		t.Errorf("tool arguments: got %v", call.Arguments)
	}
	usage := got[3].Usage
	if usage == nil || usage.InputTokens != 10 || usage.OutputTokens != 12 || usage.TotalTokens != 22 {
		t.Errorf("usage: got %+v", usage)
	}
	if got[4].FinishReason != "STOP" {
		t.Errorf("finish reason: got %q", got[4].FinishReason)
	}
}

func TestGoogleModel_CountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":countTokens") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"totalTokens":77}`))
	}))
	defer srv.Close()

	m := newGoogleTestModel(srv)
	n, err := m.CountTokens(context.Background(), []types.Message{types.NewUserText("count me")})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 77 {
		t.Errorf("expected 77, got %d", n)
	}
}

func TestGeminiContents_Conversion(t *testing.T) {
	msgs := []types.Message{
		types.NewUserText("list the dir"),
		{
			Role: types.RoleAssistant,
			Fragments: []types.Fragment{
				types.TextFragment("on it"),
				types.ToolCallFragment("c1", "list_dir", map[string]any{"path": "."}),
			},
		},
		types.NewToolResultMessage(types.ToolResultFragment("c1", "list_dir", "a.txt b.txt", false)),
		types.NewToolResultMessage(types.ToolResultFragment("c2", "read_file", "no such file", true)),
	}

	wire := geminiContents(msgs)
	if len(wire) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(wire))
	}
	if wire[0].Role != "user" || wire[0].Parts[0].Text != "list the dir" {
		t.Errorf("user turn: %+v", wire[0])
	}
	asst := wire[1]
	if asst.Role != "model" || len(asst.Parts) != 2 {
		t.Fatalf("assistant turn: %+v", asst)
	}
	if asst.Parts[1].FunctionCall == nil || asst.Parts[1].FunctionCall.Name != "list_dir" {
		t.Errorf("functionCall part: %+v", asst.Parts[1])
	}
	ok := wire[2]
	if ok.Role != "user" || ok.Parts[0].FunctionResponse == nil {
		t.Fatalf("tool result turn: %+v", ok)
	}
	if out := ok.Parts[0].FunctionResponse.Response["output"]; out != "a.txt b.txt" {
		t.Errorf("success payload should ride under output: %v", ok.Parts[0].FunctionResponse.Response)
	}
	failed := wire[3]
	if errPayload := failed.Parts[0].FunctionResponse.Response["error"]; errPayload != "no such file" {
		t.Errorf("error payload should ride under error: %v", failed.Parts[0].FunctionResponse.Response)
	}
}

func TestGoogleModel_SystemInstruction(t *testing.T) {
	m := &googleModel{model: "gemini-2.5-flash"}
	req := m.buildRequest(Request{
		System:          "be helpful",
		Messages:        []types.Message{types.NewUserText("hi")},
		MaxOutputTokens: 2048,
	})
	if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be helpful" {
		t.Errorf("system instruction: %+v", req.SystemInstruction)
	}
	if req.GenerationConfig.MaxOutputTokens != 2048 {
		t.Errorf("generation config: %+v", req.GenerationConfig)
	}
}
