// Package provider connects the runtime to LLM backends. Each backend is a
// Connector that mints Model handles; a handle streams chunks, completes
// prompts, and counts tokens for one concrete model. All transport is raw
// net/http against the vendors' public REST APIs.
package provider

import (
	"context"

	"coil/internal/types"
)

// ModelInfo describes one model a connector can mint a handle for.
type ModelInfo struct {
	ID            string
	DisplayName   string
	ContextWindow int
	Default       bool
}

// ToolSchema declares one callable tool to the model. Parameters is a JSON
// schema object.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is the provider-agnostic payload for one model call. Messages
// are already remapped and cleaned by the caller; clients only translate
// them to wire format.
type Request struct {
	System          string
	Messages        []types.Message
	Tools           []ToolSchema
	MaxOutputTokens int
}

// Chunk is the pre-normalization streaming unit every client emits. At
// most one of TextDelta, Thought, ToolCall, FinishReason, or Usage is set
// per chunk.
type Chunk struct {
	TextDelta    string
	Thought      string
	ToolCall     *types.ToolCallRequest
	FinishReason string
	Usage        *types.UsageMetadata
}

// Model is a handle to one concrete model on one backend.
type Model interface {
	// Stream opens a streaming call. Both channels are closed when the
	// stream ends; at most one error is sent.
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Complete runs a blocking call and returns the concatenated text.
	Complete(ctx context.Context, req Request) (string, error)

	// CountTokens reports the prompt token cost of a message list, via the
	// backend's counting endpoint where one exists and a calibrated
	// estimate otherwise.
	CountTokens(ctx context.Context, msgs []types.Message) (int, error)

	// ModelID returns the concrete model identifier.
	ModelID() string
}

// Connector is one LLM backend.
type Connector interface {
	ID() string
	DisplayName() string
	Models() []ModelInfo
	SupportsTools() bool
	NewModel(modelID string, creds CredentialResolver) (Model, error)
}
