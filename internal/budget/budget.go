// Package budget provides the character and token budgeting used by the page
// RAG pipeline. Because the pipeline supports multiple embedding and
// generation backends with different tokenizers, token counts use a
// language-tuned character heuristic (1 character ≈ 0.75 tokens) rather than a
// real tokenizer, and context budgets are measured in characters (runes).
package budget

import (
	"math"
	"unicode/utf8"
)

const (
	// tokensPerChar is the character-to-token ratio used for estimation. It is
	// tuned for mixed Korean/English course material.
	tokensPerChar = 0.75

	// DefaultMaxContextLength is the default context budget in characters.
	DefaultMaxContextLength = 4000

	// DefaultMaxInputChars is the default hard limit applied to a single
	// embedding input.
	DefaultMaxInputChars = 8000
)

// Chars returns the length of s in runes. All budgets in this package are
// expressed in runes so Hangul text is not over-counted.
func Chars(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateTokens returns ceil(totalChars × 0.75).
func EstimateTokens(totalChars int) int {
	if totalChars <= 0 {
		return 0
	}
	return int(math.Ceil(float64(totalChars) * tokensPerChar))
}

// Fit returns how many leading items fit within maxChars when taken in order.
// The scan stops at the first item that would overflow the budget; later items
// are never considered even if they are shorter, and no item is truncated.
// A maxChars <= 0 admits nothing.
func Fit(lengths []int, maxChars int) int {
	used := 0
	for i, n := range lengths {
		if used+n > maxChars {
			return i
		}
		used += n
	}
	return len(lengths)
}
