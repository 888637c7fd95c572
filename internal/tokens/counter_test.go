package tokens

import (
	"context"
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestHeuristicCounterAgreesWithEstimate(t *testing.T) {
	c := HeuristicCounter{}
	text := strings.Repeat("word ", 50)

	got, err := c.Count(context.Background(), text)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if want := c.Estimate(text); got != want {
		t.Errorf("Count = %d, Estimate = %d", got, want)
	}
}
