// Package budget provides token budget estimation and prompt trimming for the
// tutor. Because several LLM backends with different tokenizers are supported,
// this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code).
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits 8k-context models while leaving room for the output.
	// Override via MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimPairs removes the oldest user/assistant exchanges from history until
// the estimated token count of fixed + history fits within maxTokens. fixed
// holds messages that are never trimmed (system prompt, passages, current
// question). Messages are dropped two at a time so the remaining history
// still starts with a user turn.
//
// If even an empty history exceeds the budget, the empty slice is returned;
// callers warn separately.
func TrimPairs(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is bounded by the memory window; a linear scan is enough.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		if len(history) < 2 {
			return history[:0]
		}
		history = history[2:]
	}
	return history
}

// FitPassages keeps the longest prefix of passages whose combined estimate fits
// in maxTokens. The first passage is always kept so a RAG prompt is never empty.
func FitPassages(passages []string, maxTokens int) []string {
	if len(passages) == 0 {
		return passages
	}
	used := Estimate(passages[0])
	n := 1
	for ; n < len(passages); n++ {
		cost := Estimate(passages[n])
		if used+cost > maxTokens {
			break
		}
		used += cost
	}
	return passages[:n]
}
