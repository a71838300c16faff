// Package budget provides token budget estimation and context trimming for
// answer generation. Because generation supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token is roughly 4 characters of English prose. This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import "github.com/neurodesk/neurodesk-go/internal/rag"

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output.
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

// TrimResults drops retrieved chunks, worst rank first, until the estimated
// token count of the remaining chunk texts fits within maxTokens minus
// reserved (the system prompt, question, and any other fixed prompt parts).
// Results must already be ordered best-first. If even the best chunk does not
// fit, an empty slice is returned.
func TrimResults(results []rag.Result, reserved, maxTokens int) []rag.Result {
	budget := maxTokens - reserved
	if budget <= 0 {
		return nil
	}

	total := 0
	for _, res := range results {
		// Small per-chunk overhead for the source header lines the prompt
		// builder adds around each chunk.
		total += 4 + Estimate(res.Chunk.Text)
	}
	for len(results) > 0 && total > budget {
		last := results[len(results)-1]
		total -= 4 + Estimate(last.Chunk.Text)
		results = results[:len(results)-1]
	}
	return results
}
