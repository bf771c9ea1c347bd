package compact

import (
	"context"
	"strings"
	"sync"

	"coil/internal/history"
	"coil/internal/logging"
	"coil/internal/types"
)

// Status classifies one compression attempt.
type Status string

const (
	// StatusCompressed means the history was replaced and got smaller.
	StatusCompressed Status = "compressed"
	// StatusNoop means nothing needed to change.
	StatusNoop Status = "noop"
	// StatusFailedTokenCount means counting or summarization failed.
	StatusFailedTokenCount Status = "failed_token_count"
	// StatusFailedInflated means the rebuilt history cost more tokens than
	// the original.
	StatusFailedInflated Status = "failed_inflated"
)

// Outcome reports one compression attempt. Counts are zero where the
// failure happened before they could be measured.
type Outcome struct {
	OriginalTokens int
	NewTokens      int
	Status         Status
}

// Config tunes the compressor.
type Config struct {
	// Threshold triggers compression at Threshold x ModelTokenLimit.
	Threshold float64
	// PreserveFraction is the newest share of history kept verbatim.
	PreserveFraction float64
	// ModelTokenLimit is the context window being protected.
	ModelTokenLimit int
}

// DefaultConfig returns the default compression policy: compress at 70% of
// the window, keeping the newest 30% of bytes verbatim.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.7,
		PreserveFraction: 0.3,
		ModelTokenLimit:  128000,
	}
}

// TokenCounter counts tokens for a message list. Provider model handles
// satisfy this directly.
type TokenCounter interface {
	CountTokens(ctx context.Context, msgs []types.Message) (int, error)
}

// Summarizer produces the compression summary through the active model.
type Summarizer interface {
	Summarize(ctx context.Context, system string, msgs []types.Message, maxOutputTokens int) (string, error)
}

// Options modifies one Compress call.
type Options struct {
	// Force compresses regardless of the threshold and bypasses the sticky
	// failure flag.
	Force bool
}

// summaryInstruction is the fixed system prompt for the summarization call.
// The structured scratchpad keeps the parts of the transcript an assistant
// needs to resume work: intent, steps taken, touched files, decisions, and
// unfinished business.
const summaryInstruction = `You are compacting a coding-assistant conversation to reclaim context space.
Condense the transcript into a scratchpad followed by a narrative summary, using exactly these sections:

## Intent
What the user is trying to accomplish, in one or two sentences.

## Play-by-play
Each turn so far, condensed to one line.

## Artifacts
Files read, written, or edited, with the detail that still matters per file.

## Decisions
Choices made and the reasons behind them.

## Pending
Work discussed or promised but not yet done.

## Summary
A narrative paragraph a fresh assistant could resume the session from.

Be factual and specific. Never invent details that are not in the transcript.`

// summaryAck is the assistant acknowledgement paired with the summary in
// the rebuilt history, so the transcript still alternates roles.
const summaryAck = "Understood. I have the summary of the earlier conversation and will continue from there."

// Compressor shrinks a history store when its curated token count
// approaches the model's context window. One failed attempt is sticky:
// further attempts are suppressed until a success or a forced retry, which
// keeps an unhealthy token-counting endpoint from being hammered every
// turn.
type Compressor struct {
	mu         sync.Mutex
	store      *history.Store
	counter    TokenCounter
	summarizer Summarizer
	cfg        Config
	failedLast bool
	metrics    map[string]int
}

// NewCompressor binds a compressor to a history store and the active
// model's counting and summarization capabilities.
func NewCompressor(store *history.Store, counter TokenCounter, summarizer Summarizer, cfg Config) *Compressor {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.PreserveFraction <= 0 || cfg.PreserveFraction >= 1 {
		cfg.PreserveFraction = DefaultConfig().PreserveFraction
	}
	if cfg.ModelTokenLimit <= 0 {
		cfg.ModelTokenLimit = DefaultConfig().ModelTokenLimit
	}
	return &Compressor{
		store:      store,
		counter:    counter,
		summarizer: summarizer,
		cfg:        cfg,
		metrics:    make(map[string]int),
	}
}

// Compress runs one compression attempt. Below the threshold (and not
// forced) it is a no-op. On any failure the store is left exactly as it
// was and the sticky flag is set. Only a success commits a new history.
func (c *Compressor) Compress(ctx context.Context, opts Options) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics["attempts"]++

	if c.failedLast && !opts.Force {
		logging.CompactDebug("skipping: previous attempt failed, waiting for forced retry")
		return c.record(Outcome{Status: StatusNoop})
	}

	curated := c.store.Curated()
	if len(curated) == 0 {
		return c.record(Outcome{Status: StatusNoop})
	}

	originalTokens, err := c.counter.CountTokens(ctx, curated)
	if err != nil {
		logging.CompactWarn("token count failed: %v", err)
		c.failedLast = true
		return c.record(Outcome{Status: StatusFailedTokenCount})
	}

	if !opts.Force && float64(originalTokens) < c.cfg.Threshold*float64(c.cfg.ModelTokenLimit) {
		return c.record(Outcome{
			OriginalTokens: originalTokens,
			NewTokens:      originalTokens,
			Status:         StatusNoop,
		})
	}

	split := SplitIndex(curated, c.cfg.PreserveFraction)
	split = advancePastExchange(curated, split)
	if split == 0 {
		// Nothing old enough to summarize.
		return c.record(Outcome{
			OriginalTokens: originalTokens,
			NewTokens:      originalTokens,
			Status:         StatusNoop,
		})
	}

	head := curated[:split]
	keep := curated[split:]
	logging.Compact("compressing %d of %d messages (%d tokens)", len(head), len(curated), originalTokens)

	summary, err := c.summarizer.Summarize(ctx, summaryInstruction, head, originalTokens)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			logging.CompactWarn("summarization failed: %v", err)
		} else {
			logging.CompactWarn("summarization returned empty text")
		}
		c.failedLast = true
		return c.record(Outcome{OriginalTokens: originalTokens, Status: StatusFailedTokenCount})
	}

	rebuilt := make([]types.Message, 0, len(keep)+2)
	rebuilt = append(rebuilt,
		types.NewUserText("Summary of the conversation so far:\n\n"+summary),
		types.NewAssistantText(summaryAck),
	)
	rebuilt = append(rebuilt, keep...)

	newTokens, err := c.counter.CountTokens(ctx, rebuilt)
	if err != nil {
		logging.CompactWarn("post-compression token count failed: %v", err)
		c.failedLast = true
		return c.record(Outcome{OriginalTokens: originalTokens, Status: StatusFailedTokenCount})
	}

	if newTokens > originalTokens {
		logging.CompactWarn("compression inflated history: %d -> %d tokens", originalTokens, newTokens)
		c.failedLast = true
		return c.record(Outcome{
			OriginalTokens: originalTokens,
			NewTokens:      newTokens,
			Status:         StatusFailedInflated,
		})
	}

	c.store.Replace(rebuilt, history.ReplaceOptions{StripThoughts: true})
	c.failedLast = false
	logging.Compact("compressed: %d -> %d tokens", originalTokens, newTokens)
	logging.Audit().Compaction(originalTokens, newTokens)
	return c.record(Outcome{
		OriginalTokens: originalTokens,
		NewTokens:      newTokens,
		Status:         StatusCompressed,
	})
}

// FailedLast reports whether the sticky failure flag is set.
func (c *Compressor) FailedLast() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedLast
}

// Metrics returns a copy of the attempt counters, keyed by status plus
// "attempts".
func (c *Compressor) Metrics() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.metrics))
	for k, v := range c.metrics {
		out[k] = v
	}
	return out
}

func (c *Compressor) record(o Outcome) Outcome {
	c.metrics[string(o.Status)]++
	return o
}
