package assembler

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// safetyMargin shaves 5% off every computed cut point so ratio drift
// lands under the budget instead of over it.
const safetyMargin = 0.95

// truncateToFit cuts text down to at most maxTokens tokens, spending
// at most 3 exact counter calls regardless of input size:
//
//  1. If the cheap estimate fits, confirm with one exact count and
//     return the text unchanged when it really fits.
//  2. Otherwise use the full text's exact count (the same single call)
//     to derive an empirical chars-per-token ratio and cut with a 5%
//     safety margin; count the candidate (second call).
//  3. If still over, rescale by budget/measured and count once more
//     (third call).
//  4. If still over, apply one final character-proportional cut with
//     no further count. The result may be a token or two under-filled,
//     never over.
//
// Returns the (possibly truncated) text and its token count. The count
// after step 4 is derived, not measured.
func (a *Assembler) truncateToFit(ctx context.Context, text string, maxTokens int) (string, int, error) {
	if text == "" || maxTokens <= 0 {
		return "", 0, nil
	}

	exact, err := a.counter.Count(ctx, text)
	if err != nil {
		return "", 0, fmt.Errorf("count tokens: %w", err)
	}
	if a.counter.Estimate(text) <= maxTokens && exact <= maxTokens {
		return text, exact, nil
	}
	if exact <= maxTokens {
		// The estimate was pessimistic; the exact count fits.
		return text, exact, nil
	}

	// Empirical ratio from the full text.
	charsPerToken := float64(len(text)) / float64(exact)
	candidate := cutRunes(text, int(float64(maxTokens)*charsPerToken*safetyMargin))

	measured, err := a.counter.Count(ctx, candidate)
	if err != nil {
		return "", 0, fmt.Errorf("count tokens: %w", err)
	}
	if measured <= maxTokens {
		return candidate, measured, nil
	}

	// Second pass: scale the candidate by how far over it landed.
	candidate = cutRunes(candidate, int(float64(len(candidate))*float64(maxTokens)/float64(measured)*safetyMargin))
	measured, err = a.counter.Count(ctx, candidate)
	if err != nil {
		return "", 0, fmt.Errorf("count tokens: %w", err)
	}
	if measured <= maxTokens {
		return candidate, measured, nil
	}

	// Out of counting budget: one last proportional character cut,
	// trading a little precision for a bounded number of exact counts.
	final := cutRunes(candidate, int(float64(len(candidate))*float64(maxTokens)/float64(measured)*safetyMargin))
	derived := int(float64(measured) * float64(len(final)) / float64(len(candidate)))
	if derived > maxTokens {
		derived = maxTokens
	}
	return final, derived, nil
}

// cutRunes truncates s to at most n bytes without splitting a rune.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
