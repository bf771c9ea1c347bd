package compact

import (
	"strings"
	"testing"

	"coil/internal/types"
)

func TestSplitIndex_PanicsOnBadFraction(t *testing.T) {
	msgs := []types.Message{types.NewUserText("a"), types.NewUserText("b")}
	for _, f := range []float64{0, -0.5, 1, 1.5} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("SplitIndex(%v) should panic", f)
				}
			}()
			SplitIndex(msgs, f)
		}()
	}
}

func TestSplitIndex_ShortHistories(t *testing.T) {
	if got := SplitIndex(nil, 0.3); got != 0 {
		t.Errorf("empty history: expected 0, got %d", got)
	}
	one := []types.Message{types.NewUserText("only")}
	if got := SplitIndex(one, 0.3); got != 0 {
		t.Errorf("single message: expected 0, got %d", got)
	}
}

func TestSplitIndex_LengthWeighted(t *testing.T) {
	// Five messages of monotonically growing size.
	msgs := make([]types.Message, 5)
	for i := range msgs {
		msgs[i] = types.NewUserText(strings.Repeat("x", (i+1)*100))
	}

	got := SplitIndex(msgs, 0.5)

	// Expected: the smallest index where cumulative size reaches half the
	// total, computed against the same serialization.
	total := 0
	lengths := make([]int, len(msgs))
	for i, m := range msgs {
		lengths[i] = serializedLength(m)
		total += lengths[i]
	}
	want := len(msgs) - 1
	cum := 0
	for i, l := range lengths {
		cum += l
		if float64(cum) >= float64(total)/2 {
			want = i
			break
		}
	}

	if got != want {
		t.Errorf("expected split at %d, got %d", want, got)
	}
	if got == 0 || got == len(msgs)-1 {
		t.Errorf("growing sizes should split in the interior, got %d", got)
	}
}

func TestSplitIndex_OneGiantMessageDominates(t *testing.T) {
	msgs := []types.Message{
		types.NewUserText(strings.Repeat("big", 10000)),
		types.NewUserText("tiny"),
		types.NewUserText("tiny"),
	}
	// The first message alone crosses any reasonable target.
	if got := SplitIndex(msgs, 0.3); got != 0 {
		t.Errorf("expected split at 0 when the head dominates, got %d", got)
	}
}

func TestAdvancePastExchange(t *testing.T) {
	msgs := []types.Message{
		types.NewUserText("u1"),
		types.NewAssistantText("a1"),
		types.NewToolResultMessage(types.ToolResultFragment("c1", "read_file", "out", false)),
		types.NewAssistantText("a2"),
		types.NewUserText("u2"),
	}

	// Landing on the assistant message advances to the next user message.
	if got := advancePastExchange(msgs, 1); got != 4 {
		t.Errorf("expected advance 1 -> 4, got %d", got)
	}
	// Landing on a user message stays put.
	if got := advancePastExchange(msgs, 0); got != 0 {
		t.Errorf("expected no advance from 0, got %d", got)
	}
	// Advancing off the end is allowed.
	all := []types.Message{
		types.NewAssistantText("a"),
		types.NewToolResultMessage(types.ToolResultFragment("c", "x", "y", false)),
	}
	if got := advancePastExchange(all, 0); got != 2 {
		t.Errorf("expected advance to len(msgs), got %d", got)
	}
}
