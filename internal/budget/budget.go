// Package budget estimates prompt sizes and trims retrieved passages so a
// generation request fits the model's input window. The configured backends
// use different tokenizers, so estimation uses a character heuristic of
// 1 token ≈ 4 bytes. Bangla text is multi-byte in UTF-8, which makes the
// estimate err on the high side for it.
package budget

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the byte-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models such as Llama 3 8B with room left for the answer.
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
		// Per-message framing overhead, ~4 tokens in most chat APIs.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitPassages drops passages from the tail until fixed plus the passages
// joined with newlines fit within maxTokens. fixed is the rendered prompt
// without any context. Passages are expected in retrieval order, so the
// least similar ones go first.
//
// If fixed alone exceeds the budget every passage is dropped; callers decide
// whether an empty context is acceptable.
func FitPassages(fixed []*schema.Message, passages []string, maxTokens int) []string {
	fixedTokens := EstimateMessages(fixed)
	for len(passages) > 0 {
		if fixedTokens+Estimate(strings.Join(passages, "\n")) <= maxTokens {
			break
		}
		passages = passages[:len(passages)-1]
	}
	return passages
}
