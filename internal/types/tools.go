package types

// ToolCallRequest is produced when the stream normalizer observes a complete
// tool-call fragment. CallID is unique within one turn; the request is
// consumed exactly once by the dispatcher and never mutated after creation.
type ToolCallRequest struct {
	CallID            string         `json:"call_id"`
	Name              string         `json:"name"`
	Arguments         map[string]any `json:"arguments"`
	IsClientInitiated bool           `json:"is_client_initiated,omitempty"`
}

// Clone deep-copies the request, including its arguments map.
func (r ToolCallRequest) Clone() ToolCallRequest {
	out := r
	if r.Arguments != nil {
		out.Arguments = cloneArgs(r.Arguments)
	}
	return out
}

// Fragment converts the request to its message-model representation.
func (r ToolCallRequest) Fragment() Fragment {
	return ToolCallFragment(r.CallID, r.Name, r.Arguments)
}

// ToolCallResponse is the executor's answer to one ToolCallRequest, either
// freshly executed or served from the dispatch cache. Err is a
// human-readable failure description; an empty Err means success.
type ToolCallResponse struct {
	CallID    string     `json:"call_id"`
	Name      string     `json:"name"`
	Fragments []Fragment `json:"fragments"`
	Display   string     `json:"display,omitempty"`
	Err       string     `json:"error,omitempty"`
}

// Clone deep-copies the response so cached values can be handed out without
// aliasing the cache's copy.
func (r ToolCallResponse) Clone() ToolCallResponse {
	out := r
	if r.Fragments != nil {
		out.Fragments = make([]Fragment, len(r.Fragments))
		for i, f := range r.Fragments {
			out.Fragments[i] = f.Clone()
		}
	}
	return out
}

// IsError reports whether the response carries a failure.
func (r ToolCallResponse) IsError() bool { return r.Err != "" }

// UsageMetadata carries token accounting reported by a provider for one
// model call.
type UsageMetadata struct {
	InputTokens   int `json:"input_tokens"`
	OutputTokens  int `json:"output_tokens"`
	TotalTokens   int `json:"total_tokens"`
	CachedTokens  int `json:"cached_tokens,omitempty"`
	ThoughtTokens int `json:"thought_tokens,omitempty"`
}

// Add accumulates another usage report into the receiver.
func (u *UsageMetadata) Add(other UsageMetadata) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CachedTokens += other.CachedTokens
	u.ThoughtTokens += other.ThoughtTokens
}
