// Package history holds the ordered conversation for one session. The
// store is the sole owner of its message list: every getter returns a
// deep copy, and curation produces a filtered view without reordering.
package history

import (
	"errors"
	"sync"

	"coil/internal/types"
)

var (
	// ErrEmptyMessage is returned by Append for a message with no fragments.
	ErrEmptyMessage = errors.New("history: message has no fragments")
)

// Store is an append-only conversation log with curation and wholesale
// replacement (used by compression).
type Store struct {
	mu   sync.RWMutex
	msgs []types.Message
}

// NewStore returns an empty history store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a message to the tail. The store keeps its own deep copy so
// later caller-side mutation cannot reach it. The only validation is
// non-empty fragments; malformed content is handled by curation instead.
func (s *Store) Append(msg types.Message) error {
	if len(msg.Fragments) == 0 {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg.Clone())
	return nil
}

// Len returns the number of stored messages, uncurated.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// All returns the full, uncurated sequence as a defensive copy.
func (s *Store) All() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.CloneMessages(s.msgs)
}

// Curated returns the filtered view that is safe to send to a provider.
// The result is a deep copy.
func (s *Store) Curated() []types.Message {
	return Curate(s.All())
}

// ReplaceOptions modifies Replace behavior.
type ReplaceOptions struct {
	// StripThoughts removes advisory thought fragments from every message.
	// Messages left with no fragments are dropped.
	StripThoughts bool
}

// Replace swaps the entire history for msgs. The store takes a deep,
// non-aliasing copy: the caller's slice remains unaffected by later
// mutation of the store's copy and vice versa.
func (s *Store) Replace(msgs []types.Message, opts ReplaceOptions) {
	next := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if opts.StripThoughts {
			m = m.StripThoughts()
			if len(m.Fragments) == 0 {
				continue
			}
		} else {
			m = m.Clone()
		}
		next = append(next, m)
	}
	s.mu.Lock()
	s.msgs = next
	s.mu.Unlock()
}

// Clear removes all messages.
func (s *Store) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// Curate filters a message sequence down to the well-formed subset without
// reordering. User and system messages pass through unconditionally. A run
// of consecutive assistant messages is kept all-or-nothing: one malformed
// member (any empty fragment) drops the entire run, because a partial
// assistant exchange corrupts provider-side turn-taking. Tool messages are
// kept only when every tool-result fragment resolves to a tool call already
// present in the kept prefix; orphaned results are dropped. The returned
// slice references messages from the input.
func Curate(msgs []types.Message) []types.Message {
	kept := make([]types.Message, 0, len(msgs))
	seenCalls := make(map[string]bool)
	var run []types.Message

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		valid := true
		for _, m := range run {
			if !m.WellFormed() {
				valid = false
				break
			}
		}
		if valid {
			for _, m := range run {
				kept = append(kept, m)
				for _, f := range m.Fragments {
					if f.Kind == types.FragmentToolCall {
						seenCalls[f.CallID] = true
					}
				}
			}
		}
		run = run[:0]
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleAssistant:
			run = append(run, m)
		case types.RoleTool:
			flushRun()
			if toolResultsResolved(m, seenCalls) {
				kept = append(kept, m)
			}
		default:
			flushRun()
			kept = append(kept, m)
		}
	}
	flushRun()
	return kept
}

// toolResultsResolved reports whether every tool-result fragment in m
// matches a tool call already seen. A tool message with no tool-result
// fragments at all is unresolvable.
func toolResultsResolved(m types.Message, seen map[string]bool) bool {
	resolved := false
	for _, f := range m.Fragments {
		if f.Kind != types.FragmentToolResult {
			continue
		}
		if !seen[f.CallID] {
			return false
		}
		resolved = true
	}
	return resolved
}
