// Package tools holds the tool registry and the dispatch path between the
// turn driver and tool execution: lookup, the TTL dispatch cache with
// in-flight de-duplication, and the dispatcher that turns execution
// failures into tool-result payloads instead of driver errors.
package tools

import (
	"context"
)

// Category classifies tools by the kind of resource they touch.
type Category string

const (
	CategoryFile   Category = "file"
	CategorySearch Category = "search"
	CategoryWeb    Category = "web"
	CategoryShell  Category = "shell"
)

// Property describes a single parameter for the JSON schema surfaced to
// the model.
type Property struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Default     any            `json:"default,omitempty"`
	Enum        []any          `json:"enum,omitempty"`
	Items       *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes array element schemas.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines a tool's expected arguments.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs a tool against its arguments and returns the result
// payload.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable tool.
type Tool struct {
	Name        string
	Description string
	Category    Category
	Execute     ExecuteFunc
	Schema      Schema
}

// Validate checks the definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ParametersSchema renders the schema as the JSON-schema object the
// provider wire formats expect.
func (t *Tool) ParametersSchema() map[string]any {
	properties := map[string]any{}
	for name, p := range t.Schema.Properties {
		properties[name] = p
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(t.Schema.Required) > 0 {
		schema["required"] = t.Schema.Required
	}
	return schema
}
