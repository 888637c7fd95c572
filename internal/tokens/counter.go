// Package tokens defines the token counting contract used by the
// context assembler. Exact counting is assumed expensive (it may call
// out to a tokenizer service); estimation must be cheap and local.
package tokens

import "context"

// Counter provides token counts for prompt budgeting.
type Counter interface {
	// Count returns the exact token count for text. May be expensive.
	Count(ctx context.Context, text string) (int, error)

	// Estimate returns a cheap, possibly approximate token count.
	Estimate(text string) int
}

// charsPerToken is the rough English-text ratio used throughout the
// codebase when no tokenizer is available.
const charsPerToken = 4

// Estimate is the shared len/4 heuristic.
func Estimate(text string) int {
	return len(text) / charsPerToken
}

// HeuristicCounter is a Counter whose "exact" count is the same len/4
// heuristic. Useful offline and in tests; production wiring can swap
// in a tokenizer-backed implementation without touching the assembler.
type HeuristicCounter struct{}

// Count returns the heuristic count. Never fails.
func (HeuristicCounter) Count(_ context.Context, text string) (int, error) {
	return Estimate(text), nil
}

// Estimate returns the heuristic count.
func (HeuristicCounter) Estimate(text string) int {
	return Estimate(text)
}
