package compact

import (
	"fmt"

	"coil/internal/types"
)

// SplitIndex locates the boundary between the history to summarize and the
// history to keep verbatim. It walks msgs accumulating each message's
// serialized byte length and returns the first index where the cumulative
// length reaches (1 - preserveFraction) of the total. The split is
// length-weighted rather than message-counted because message sizes vary by
// orders of magnitude; a tool result can dwarf a short user message.
//
// A preserveFraction of 0 or less, or 1 or more, is a programming error and
// panics. Histories of zero or one message short-circuit to 0, which
// callers treat as nothing to compress.
func SplitIndex(msgs []types.Message, preserveFraction float64) int {
	if preserveFraction <= 0 || preserveFraction >= 1 {
		panic(fmt.Sprintf("compact: preserve fraction %v outside (0, 1)", preserveFraction))
	}
	if len(msgs) <= 1 {
		return 0
	}

	lengths := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		lengths[i] = serializedLength(m)
		total += lengths[i]
	}

	target := float64(total) * (1 - preserveFraction)
	cumulative := 0
	for i, l := range lengths {
		cumulative += l
		if float64(cumulative) >= target {
			return i
		}
	}
	return len(msgs) - 1
}

// advancePastExchange moves a split index forward past assistant and tool
// messages so the cut never lands inside an assistant/tool exchange; an
// isolated tool result with no preceding call is semantically broken.
func advancePastExchange(msgs []types.Message, split int) int {
	for split < len(msgs) {
		role := msgs[split].Role
		if role != types.RoleAssistant && role != types.RoleTool {
			break
		}
		split++
	}
	return split
}
