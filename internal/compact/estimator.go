// Package compact shrinks session history when it approaches a model's
// context window. The compressor summarizes the oldest share of the
// conversation through the active model and rebuilds history as
// [summary, ack] + kept tail; the estimator provides token arithmetic for
// providers without a counting endpoint.
package compact

import (
	"encoding/json"
	"math"
	"sync"

	"coil/internal/types"
)

const (
	// defaultCharsPerToken is the uncalibrated chars-per-token ratio.
	defaultCharsPerToken = 4.0

	// smoothing is the EMA weight given to a new observation.
	smoothing = 0.3

	// perMessageOverheadTokens accounts for role and framing tokens the
	// serialized content does not show.
	perMessageOverheadTokens = 4
)

// Estimator converts byte lengths to token estimates using a chars-per-token
// ratio calibrated from observed provider usage. Safe for concurrent use.
type Estimator struct {
	mu            sync.Mutex
	charsPerToken float64
	calibrated    bool
}

// NewEstimator returns an estimator at the default ratio.
func NewEstimator() *Estimator {
	return &Estimator{charsPerToken: defaultCharsPerToken}
}

// Observe feeds one measured (chars, tokens) pair. The first observation
// replaces the default outright; later observations blend in with EMA
// smoothing so one odd response cannot swing the ratio.
func (e *Estimator) Observe(chars, tokens int) {
	if chars <= 0 || tokens <= 0 {
		return
	}
	observed := float64(chars) / float64(tokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.calibrated {
		e.charsPerToken = observed
		e.calibrated = true
		return
	}
	e.charsPerToken = smoothing*observed + (1-smoothing)*e.charsPerToken
}

// ObserveMessages calibrates from a provider-reported prompt token count
// for msgs, using the same serialization Estimate uses.
func (e *Estimator) ObserveMessages(msgs []types.Message, promptTokens int) {
	total := 0
	for _, m := range msgs {
		total += serializedLength(m)
	}
	e.Observe(total, promptTokens)
}

// CharsPerToken returns the current ratio.
func (e *Estimator) CharsPerToken() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.charsPerToken
}

// Estimate returns the token estimate for a byte count.
func (e *Estimator) Estimate(chars int) int {
	if chars <= 0 {
		return 0
	}
	e.mu.Lock()
	ratio := e.charsPerToken
	e.mu.Unlock()
	return int(math.Ceil(float64(chars) / ratio))
}

// EstimateMessages returns the token estimate for a message list, including
// per-message framing overhead.
func (e *Estimator) EstimateMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Estimate(serializedLength(m)) + perMessageOverheadTokens
	}
	return total
}

// serializedLength is the canonical byte length of one message, used for
// both token estimation and the length-weighted split.
func serializedLength(m types.Message) int {
	b, err := json.Marshal(m)
	if err != nil {
		return len(m.Text())
	}
	return len(b)
}
