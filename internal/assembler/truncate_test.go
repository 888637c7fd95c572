package assembler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// countingCounter counts exact-count calls and lets tests control the
// exact/estimate functions independently.
type countingCounter struct {
	calls    int
	exact    func(string) int
	estimate func(string) int
}

func (c *countingCounter) Count(_ context.Context, text string) (int, error) {
	c.calls++
	return c.exact(text), nil
}

func (c *countingCounter) Estimate(text string) int {
	return c.estimate(text)
}

// oneCharOneToken is the simplest exact model: every byte is a token.
func oneCharOneToken(s string) int { return len(s) }

func testAssembler(t *testing.T, counter *countingCounter) *Assembler {
	t.Helper()
	a, err := New(nopProvider{}, counter, DefaultBudget(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestTruncateFitsUnchangedWithOneCount(t *testing.T) {
	counter := &countingCounter{exact: oneCharOneToken, estimate: oneCharOneToken}
	a := testAssembler(t, counter)

	text := strings.Repeat("a", 50)
	got, gotTokens, err := a.truncateToFit(context.Background(), text, 8000)
	if err != nil {
		t.Fatalf("truncateToFit: %v", err)
	}
	if got != text {
		t.Errorf("text modified: got %d bytes, want unchanged", len(got))
	}
	if gotTokens != 50 {
		t.Errorf("tokens = %d, want 50", gotTokens)
	}
	if counter.calls != 1 {
		t.Errorf("exact count calls = %d, want exactly 1", counter.calls)
	}
}

func TestTruncateNeverExceedsBudget(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		budget int
	}{
		{"slightly over", strings.Repeat("x", 120), 100},
		{"far over", strings.Repeat("word ", 10000), 100},
		{"tiny budget", strings.Repeat("y", 5000), 1},
		{"exact fit", strings.Repeat("z", 100), 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			counter := &countingCounter{exact: oneCharOneToken, estimate: oneCharOneToken}
			a := testAssembler(t, counter)

			got, gotTokens, err := a.truncateToFit(context.Background(), tc.text, tc.budget)
			if err != nil {
				t.Fatalf("truncateToFit: %v", err)
			}
			if exact := oneCharOneToken(got); exact > tc.budget {
				t.Errorf("result is %d tokens, budget %d", exact, tc.budget)
			}
			if gotTokens > tc.budget {
				t.Errorf("reported tokens %d exceed budget %d", gotTokens, tc.budget)
			}
			if counter.calls > 3 {
				t.Errorf("exact count calls = %d, want at most 3", counter.calls)
			}
		})
	}
}

func TestTruncateBoundedCountsWithHostileCounter(t *testing.T) {
	// An exact counter that always reports double the character count
	// defeats the ratio math; the final character-level cut must still
	// terminate without a fourth count.
	counter := &countingCounter{
		exact:    func(s string) int { return len(s) * 2 },
		estimate: func(s string) int { return len(s) },
	}
	a := testAssembler(t, counter)

	got, gotTokens, err := a.truncateToFit(context.Background(), strings.Repeat("q", 1000), 100)
	if err != nil {
		t.Fatalf("truncateToFit: %v", err)
	}
	if counter.calls > 3 {
		t.Errorf("exact count calls = %d, want at most 3", counter.calls)
	}
	if gotTokens > 100 {
		t.Errorf("reported tokens %d exceed budget 100", gotTokens)
	}
	if len(got) >= 1000 {
		t.Error("text was not truncated")
	}
}

func TestTruncatePessimisticEstimateStillFits(t *testing.T) {
	// Estimate says it does not fit, the exact count says it does:
	// return the text unchanged after the single full-text count.
	counter := &countingCounter{
		exact:    func(s string) int { return len(s) / 10 },
		estimate: func(s string) int { return len(s) },
	}
	a := testAssembler(t, counter)

	text := strings.Repeat("a", 500) // exact 50, estimate 500
	got, gotTokens, err := a.truncateToFit(context.Background(), text, 100)
	if err != nil {
		t.Fatalf("truncateToFit: %v", err)
	}
	if got != text {
		t.Error("text modified although the exact count fits")
	}
	if gotTokens != 50 {
		t.Errorf("tokens = %d, want 50", gotTokens)
	}
	if counter.calls != 1 {
		t.Errorf("exact count calls = %d, want 1", counter.calls)
	}
}

func TestTruncateEmptyAndZeroBudget(t *testing.T) {
	counter := &countingCounter{exact: oneCharOneToken, estimate: oneCharOneToken}
	a := testAssembler(t, counter)

	got, gotTokens, err := a.truncateToFit(context.Background(), "", 100)
	if err != nil || got != "" || gotTokens != 0 {
		t.Errorf("empty text: got (%q, %d, %v), want (\"\", 0, nil)", got, gotTokens, err)
	}
	got, gotTokens, err = a.truncateToFit(context.Background(), "hello", 0)
	if err != nil || got != "" || gotTokens != 0 {
		t.Errorf("zero budget: got (%q, %d, %v), want (\"\", 0, nil)", got, gotTokens, err)
	}
	if counter.calls != 0 {
		t.Errorf("exact count calls = %d, want 0 for degenerate inputs", counter.calls)
	}
}

func TestCutRunesRespectsBoundaries(t *testing.T) {
	s := "héllo wörld" // multi-byte runes
	for n := range len(s) + 1 {
		got := cutRunes(s, n)
		if len(got) > n {
			t.Errorf("cutRunes(%q, %d) = %d bytes, want <= %d", s, n, len(got), n)
		}
		if !strings.HasPrefix(s, got) {
			t.Errorf("cutRunes(%q, %d) = %q, not a prefix", s, n, got)
		}
		for _, r := range got {
			if r == '�' {
				t.Errorf("cutRunes(%q, %d) split a rune", s, n)
			}
		}
	}
}
