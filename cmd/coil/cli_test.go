package main

import (
	"strings"
	"testing"

	"coil/internal/config"
	"coil/internal/types"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		flagProvider = ""
		flagModel = ""
		flagVerbose = false
		flagNoTools = false
	})
}

func TestApplyFlags_ProviderOverrideResetsModel(t *testing.T) {
	resetFlags(t)

	c := config.DefaultConfig()
	c.Provider.Default = "anthropic"
	c.Provider.Model = "claude-sonnet-4-5"

	flagProvider = "google"
	applyFlags(&c)

	if c.Provider.Default != "google" {
		t.Errorf("expected provider google, got %q", c.Provider.Default)
	}
	if c.Provider.Model != "" {
		t.Errorf("expected model to reset with a provider override, got %q", c.Provider.Model)
	}
}

func TestApplyFlags_ModelOverride(t *testing.T) {
	resetFlags(t)

	c := config.DefaultConfig()
	flagModel = "gpt-5.2"
	applyFlags(&c)

	if c.Provider.Model != "gpt-5.2" {
		t.Errorf("expected model override, got %q", c.Provider.Model)
	}
	if c.Provider.Default != "anthropic" {
		t.Errorf("a model override must not change the provider, got %q", c.Provider.Default)
	}
}

func TestApplyFlags_NoTools(t *testing.T) {
	resetFlags(t)

	c := config.DefaultConfig()
	flagNoTools = true
	applyFlags(&c)

	if c.Tools.Enabled {
		t.Error("expected --no-tools to disable the tool layer")
	}
}

func TestDescribeToolCall(t *testing.T) {
	t.Parallel()

	bare := describeToolCall(types.ToolCallRequest{Name: "list_files"})
	if bare != "list_files" {
		t.Errorf("expected bare name, got %q", bare)
	}

	withArgs := describeToolCall(types.ToolCallRequest{
		Name:      "read_file",
		Arguments: map[string]any{"path": "main.go"},
	})
	if !strings.HasPrefix(withArgs, "read_file ") || !strings.Contains(withArgs, "main.go") {
		t.Errorf("expected name plus args, got %q", withArgs)
	}

	long := describeToolCall(types.ToolCallRequest{
		Name:      "write_file",
		Arguments: map[string]any{"content": strings.Repeat("a", 500)},
	})
	if len(long) > len("write_file ")+120 {
		t.Errorf("expected truncated args, got %d chars", len(long))
	}
	if !strings.HasSuffix(long, "...") {
		t.Errorf("expected ellipsis on truncation, got %q", long)
	}
}

func TestNewSessionID(t *testing.T) {
	t.Parallel()

	id := newSessionID()
	if !strings.HasPrefix(id, "sess-") {
		t.Errorf("expected sess- prefix, got %q", id)
	}
}
