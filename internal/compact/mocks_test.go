package compact

import (
	"context"

	"coil/internal/types"
)

// MockCounter implements TokenCounter with an injectable func.
type MockCounter struct {
	CountTokensFunc func(ctx context.Context, msgs []types.Message) (int, error)
	Calls           int
}

func (m *MockCounter) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	m.Calls++
	if m.CountTokensFunc != nil {
		return m.CountTokensFunc(ctx, msgs)
	}
	return len(msgs) * 10, nil
}

// MockSummarizer implements Summarizer with an injectable func.
type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, system string, msgs []types.Message, maxOutputTokens int) (string, error)
	Calls         int
	LastMaxTokens int
}

func (m *MockSummarizer) Summarize(ctx context.Context, system string, msgs []types.Message, maxOutputTokens int) (string, error) {
	m.Calls++
	m.LastMaxTokens = maxOutputTokens
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, system, msgs, maxOutputTokens)
	}
	return "summary of earlier work", nil
}
