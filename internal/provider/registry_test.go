package provider

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistry_GetUnknownProvider(t *testing.T) {
	r := NewRegistry(StaticCredentials{})
	_, err := r.Get("mystery")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "mystery") {
		t.Errorf("error should name the provider id, got %q", err)
	}
}

func TestRegistry_GetWithoutCredential(t *testing.T) {
	r := NewRegistry(StaticCredentials{ProviderOpenAI: "sk-x"})
	_, err := r.Get(ProviderAnthropic)
	if !errors.Is(err, ErrConnectorUnavailable) {
		t.Fatalf("expected ErrConnectorUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), ProviderAnthropic) {
		t.Errorf("error should name the provider id, got %q", err)
	}
}

func TestRegistry_GetWithCredential(t *testing.T) {
	r := NewRegistry(StaticCredentials{ProviderGoogle: "key"})
	c, err := r.Get(ProviderGoogle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.ID() != ProviderGoogle {
		t.Errorf("expected google connector, got %s", c.ID())
	}
}

func TestRegistry_ListIsOrdered(t *testing.T) {
	r := NewRegistry(StaticCredentials{})
	var ids []string
	for _, c := range r.List() {
		ids = append(ids, c.ID())
	}
	want := []string{ProviderAnthropic, ProviderGoogle, ProviderOpenAI}
	if len(ids) != len(want) {
		t.Fatalf("expected %d connectors, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestRegistry_Available(t *testing.T) {
	r := NewRegistry(StaticCredentials{
		ProviderOpenAI: "sk-x",
		ProviderGoogle: "key",
	})
	got := r.Available()
	want := []string{ProviderGoogle, ProviderOpenAI}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRegistry_NewModelDefaultsModelID(t *testing.T) {
	r := NewRegistry(StaticCredentials{ProviderAnthropic: "key"})
	m, err := r.NewModel(ProviderAnthropic, "")
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	c, _ := r.Get(ProviderAnthropic)
	if m.ModelID() != DefaultModelID(c) {
		t.Errorf("expected default model %s, got %s", DefaultModelID(c), m.ModelID())
	}
}

func TestDefaultModelID_PrefersDefaultFlag(t *testing.T) {
	for _, c := range NewRegistry(StaticCredentials{}).List() {
		id := DefaultModelID(c)
		if id == "" {
			t.Errorf("%s: no default model", c.ID())
			continue
		}
		var found, flagged bool
		for _, m := range c.Models() {
			if m.ID == id {
				found = true
				flagged = m.Default
			}
		}
		if !found || !flagged {
			t.Errorf("%s: default %s should be a listed model with the Default flag", c.ID(), id)
		}
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "   ")

	creds := EnvCredentials{}
	if key, ok := creds.Resolve(ProviderAnthropic); !ok || key != "sk-ant-test" {
		t.Errorf("expected anthropic key to resolve, got %q %v", key, ok)
	}
	if _, ok := creds.Resolve(ProviderOpenAI); ok {
		t.Errorf("whitespace env var should not resolve")
	}
	if _, ok := creds.Resolve("mystery"); ok {
		t.Errorf("unknown provider should not resolve")
	}
}

func TestErrorHelpers(t *testing.T) {
	rate := &Error{Provider: "openai", StatusCode: 429, Message: "slow down"}
	if !IsRateLimited(rate) || IsAuth(rate) || IsOverloaded(rate) {
		t.Errorf("429 should classify as rate limited only")
	}
	over := &Error{Provider: "anthropic", StatusCode: 529, Type: "overloaded_error", Message: "overloaded"}
	if !IsOverloaded(over) {
		t.Errorf("529 should classify as overloaded")
	}
	auth := &Error{Provider: "google", StatusCode: 401, Message: "bad key"}
	if !IsAuth(auth) {
		t.Errorf("401 should classify as auth")
	}
	if IsRateLimited(errors.New("plain")) {
		t.Errorf("plain errors should not classify")
	}
}

func TestAPIError_ParsesVendorEnvelopes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantMsg  string
		wantType string
	}{
		{
			name:     "anthropic",
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantMsg:  "Overloaded",
			wantType: "overloaded_error",
		},
		{
			name:     "openai",
			body:     `{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`,
			wantMsg:  "Rate limit reached",
			wantType: "tokens",
		},
		{
			name:     "google",
			body:     `{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantMsg:  "Resource exhausted",
			wantType: "RESOURCE_EXHAUSTED",
		},
		{
			name:    "not json",
			body:    "Bad Gateway",
			wantMsg: "Bad Gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := apiError("test", 429, []byte(tt.body))
			if e.Message != tt.wantMsg {
				t.Errorf("message: expected %q, got %q", tt.wantMsg, e.Message)
			}
			if e.Type != tt.wantType {
				t.Errorf("type: expected %q, got %q", tt.wantType, e.Type)
			}
			if e.StatusCode != 429 {
				t.Errorf("status: expected 429, got %d", e.StatusCode)
			}
		})
	}
}
