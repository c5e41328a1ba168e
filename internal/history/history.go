// Package history keeps the tutor conversation of one explanation: the seed
// system prompt followed by question and answer turns.
//
// History is unbounded by default. With [WithBudget] the oldest half of the
// turns is folded into a summary once the estimated size passes 75 % of the
// budget, so long sessions stay within the chat model's context window.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/lectern/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// defaultThreshold is the budget fraction that triggers summarisation.
const defaultThreshold = 0.75

// History is an append-only conversation log. All methods are safe for
// concurrent use.
type History struct {
	maxTokens  int
	threshold  float64
	summariser Summariser

	mu        sync.Mutex
	seed      types.Message
	messages  []types.Message
	summaries []string
	tokens    int
}

// Option configures a [History].
type Option func(*History)

// WithBudget enables rolling summarisation. maxTokens <= 0 or a nil
// summariser leaves the history unbounded.
func WithBudget(maxTokens int, s Summariser) Option {
	return func(h *History) {
		if maxTokens > 0 && s != nil {
			h.maxTokens = maxTokens
			h.summariser = s
		}
	}
}

// New returns a History seeded with the system prompt seed.
func New(seed string, opts ...Option) *History {
	h := &History{threshold: defaultThreshold}
	for _, o := range opts {
		o(h)
	}
	h.reset(seed)
	return h
}

// Reset drops every turn and summary and installs a new seed prompt.
func (h *History) Reset(seed string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset(seed)
}

func (h *History) reset(seed string) {
	h.seed = types.Message{Role: types.RoleSystem, Content: seed}
	h.messages = h.messages[:0]
	h.summaries = h.summaries[:0]
	h.tokens = estimateTokens(h.seed)
}

// Append adds turns. When a budget is set and exceeded, the oldest half of
// the turns is summarised. A summariser failure is returned after the turns
// have been appended, so the history itself is never lost.
func (h *History) Append(ctx context.Context, msgs ...types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range msgs {
		h.messages = append(h.messages, m)
		h.tokens += estimateTokens(m)
	}
	if h.summariser == nil {
		return nil
	}
	limit := int(float64(h.maxTokens) * h.threshold)
	if h.tokens > limit && len(h.messages) > 1 {
		if err := h.summariseOldest(ctx); err != nil {
			return fmt.Errorf("history: summarise: %w", err)
		}
	}
	return nil
}

// Messages returns the seed, any summaries as system messages, and then the
// turns in order. The slice is a copy.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]types.Message, 0, 1+len(h.summaries)+len(h.messages))
	out = append(out, h.seed)
	for _, s := range h.summaries {
		out = append(out, types.Message{
			Role:    types.RoleSystem,
			Content: "[Previous conversation summary]: " + s,
		})
	}
	return append(out, h.messages...)
}

// Len returns the number of turns, excluding the seed and summaries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// TokenEstimate returns the estimated size of Messages in tokens.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// summariseOldest folds the oldest half of the turns into a summary.
// Must be called with h.mu held; the lock is released for the model call.
func (h *History) summariseOldest(ctx context.Context) error {
	half := max(len(h.messages)/2, 1)
	batch := make([]types.Message, half)
	copy(batch, h.messages[:half])

	h.mu.Unlock()
	summary, err := h.summariser.Summarise(ctx, batch)
	h.mu.Lock()
	if err != nil {
		return err
	}

	// Turns appended while unlocked stay behind the summarised batch.
	removed := 0
	for _, m := range h.messages[:half] {
		removed += estimateTokens(m)
	}
	h.messages = append(h.messages[:0:0], h.messages[half:]...)
	h.summaries = append(h.summaries, summary)
	h.tokens += len(summary)/charsPerToken - removed
	return nil
}

func estimateTokens(m types.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
