package types

// EventKind discriminates canonical stream events. The values double as the
// wire names consumers see, so they match the external event shape:
// text-delta, thought, tool-call, usage, final, error, cancelled.
type EventKind string

const (
	EventContentDelta EventKind = "text-delta"
	EventThought      EventKind = "thought"
	EventToolCall     EventKind = "tool-call"
	EventUsage        EventKind = "usage"
	EventFinished     EventKind = "final"
	EventErrored      EventKind = "error"
	EventCancelled    EventKind = "cancelled"
)

// StreamEvent is the canonical event every provider stream is normalized
// into. Exactly one terminal event (final, error, or cancelled) ends each
// turn, and it is always the last event emitted.
type StreamEvent struct {
	Kind EventKind `json:"type"`

	// EventContentDelta
	Delta string `json:"delta,omitempty"`

	// EventThought
	Thought string `json:"thought,omitempty"`

	// EventToolCall
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`

	// EventUsage
	Usage *UsageMetadata `json:"usage,omitempty"`

	// EventFinished
	FinishReason string   `json:"finish_reason,omitempty"`
	Message      *Message `json:"message,omitempty"`

	// EventErrored
	Err string `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	switch e.Kind {
	case EventFinished, EventErrored, EventCancelled:
		return true
	default:
		return false
	}
}

// ContentDeltaEvent builds a text-delta event.
func ContentDeltaEvent(delta string) StreamEvent {
	return StreamEvent{Kind: EventContentDelta, Delta: delta}
}

// ThoughtEvent builds an advisory thought event.
func ThoughtEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventThought, Thought: text}
}

// ToolCallEvent builds a tool-call event.
func ToolCallEvent(req ToolCallRequest) StreamEvent {
	return StreamEvent{Kind: EventToolCall, ToolCall: &req}
}

// UsageEvent builds a usage event.
func UsageEvent(u UsageMetadata) StreamEvent {
	return StreamEvent{Kind: EventUsage, Usage: &u}
}

// FinishedEvent builds the success terminal event. msg may be nil when the
// turn produced no assistant content.
func FinishedEvent(reason string, msg *Message) StreamEvent {
	if reason == "" {
		reason = "STOP"
	}
	return StreamEvent{Kind: EventFinished, FinishReason: reason, Message: msg}
}

// ErroredEvent builds the failure terminal event.
func ErroredEvent(err error) StreamEvent {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return StreamEvent{Kind: EventErrored, Err: msg}
}

// CancelledEvent builds the user-cancellation terminal event. Cancellation
// is not an error: callers use the distinct kind to skip error reporting.
func CancelledEvent() StreamEvent {
	return StreamEvent{Kind: EventCancelled}
}
