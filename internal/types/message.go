// Package types defines the message model and canonical stream protocol
// shared by every component of the runtime. Messages are role-tagged lists
// of fragments; fragments are a tagged union of text, tool-call,
// tool-result, and advisory thought values. All other packages speak these
// types so that provider-specific wire formats never leak past the
// connector layer.
package types

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FragmentKind discriminates the Fragment union.
type FragmentKind string

const (
	FragmentText       FragmentKind = "text"
	FragmentToolCall   FragmentKind = "tool_call"
	FragmentToolResult FragmentKind = "tool_result"
	FragmentThought    FragmentKind = "thought"
)

// Fragment is one content unit inside a Message. Exactly the fields for its
// Kind are set; fragments are value objects and are never shared by
// reference between two messages.
type Fragment struct {
	Kind FragmentKind `json:"kind"`

	// FragmentText
	Text string `json:"text,omitempty"`

	// FragmentToolCall
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// FragmentToolResult (CallID and Name are shared with tool_call)
	Payload string `json:"payload,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// FragmentThought
	Thought string `json:"thought,omitempty"`
}

// TextFragment builds a text fragment.
func TextFragment(s string) Fragment {
	return Fragment{Kind: FragmentText, Text: s}
}

// ThoughtFragment builds an advisory thought fragment.
func ThoughtFragment(s string) Fragment {
	return Fragment{Kind: FragmentThought, Thought: s}
}

// ToolCallFragment builds a tool-call fragment.
func ToolCallFragment(callID, name string, args map[string]any) Fragment {
	return Fragment{Kind: FragmentToolCall, CallID: callID, Name: name, Arguments: args}
}

// ToolResultFragment builds a tool-result fragment.
func ToolResultFragment(callID, name, payload string, isError bool) Fragment {
	return Fragment{Kind: FragmentToolResult, CallID: callID, Name: name, Payload: payload, IsError: isError}
}

// Clone returns a deep copy. The arguments map is copied so that mutating
// the clone never reaches the original.
func (f Fragment) Clone() Fragment {
	out := f
	if f.Arguments != nil {
		out.Arguments = cloneArgs(f.Arguments)
	}
	return out
}

// IsEmpty reports whether the fragment carries no usable content for its
// kind. Empty-string text fragments are the canonical invalid case dropped
// during history curation.
func (f Fragment) IsEmpty() bool {
	switch f.Kind {
	case FragmentText:
		return f.Text == ""
	case FragmentToolCall:
		return f.CallID == "" || f.Name == ""
	case FragmentToolResult:
		return f.CallID == ""
	case FragmentThought:
		return f.Thought == ""
	default:
		return true
	}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the JSON-shaped values tool arguments are made of.
// Scalars are immutable and pass through.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneArgs(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Message is a role-tagged sequence of fragments. Once appended to a
// history store the store owns the value; callers hand over clones.
type Message struct {
	Role      Role       `json:"role"`
	Fragments []Fragment `json:"fragments"`
}

// NewUserText builds a single-fragment user message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Fragments: []Fragment{TextFragment(text)}}
}

// NewAssistantText builds a single-fragment assistant message.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Fragments: []Fragment{TextFragment(text)}}
}

// NewSystemText builds a single-fragment system message.
func NewSystemText(text string) Message {
	return Message{Role: RoleSystem, Fragments: []Fragment{TextFragment(text)}}
}

// NewToolResultMessage wraps tool responses in a tool-role message.
func NewToolResultMessage(results ...Fragment) Message {
	return Message{Role: RoleTool, Fragments: results}
}

// Clone returns a deep, non-aliasing copy of the message.
func (m Message) Clone() Message {
	out := Message{Role: m.Role}
	if m.Fragments != nil {
		out.Fragments = make([]Fragment, len(m.Fragments))
		for i, f := range m.Fragments {
			out.Fragments[i] = f.Clone()
		}
	}
	return out
}

// Text concatenates the message's text fragments. Thought, tool-call, and
// tool-result fragments contribute nothing.
func (m Message) Text() string {
	var b strings.Builder
	for _, f := range m.Fragments {
		if f.Kind == FragmentText {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool-call fragments in order.
func (m Message) ToolCalls() []Fragment {
	var out []Fragment
	for _, f := range m.Fragments {
		if f.Kind == FragmentToolCall {
			out = append(out, f.Clone())
		}
	}
	return out
}

// HasContent reports whether at least one fragment is non-empty.
func (m Message) HasContent() bool {
	for _, f := range m.Fragments {
		if !f.IsEmpty() {
			return true
		}
	}
	return false
}

// WellFormed reports whether every fragment is non-empty. History curation
// treats a message with any empty fragment as malformed.
func (m Message) WellFormed() bool {
	if len(m.Fragments) == 0 {
		return false
	}
	for _, f := range m.Fragments {
		if f.IsEmpty() {
			return false
		}
	}
	return true
}

// StripThoughts returns a copy with thought fragments removed. All other
// fragment data is preserved structurally.
func (m Message) StripThoughts() Message {
	out := Message{Role: m.Role, Fragments: make([]Fragment, 0, len(m.Fragments))}
	for _, f := range m.Fragments {
		if f.Kind == FragmentThought {
			continue
		}
		out.Fragments = append(out.Fragments, f.Clone())
	}
	return out
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
