package persona

import (
	"strings"
	"testing"
)

func TestSystemPromptKnownChannel(t *testing.T) {
	e := New("")
	got := e.SystemPrompt("telegram")

	if !strings.Contains(got, "Sable") {
		t.Error("prompt lost the base persona")
	}
	if !strings.Contains(got, "Telegram") {
		t.Error("prompt missing the telegram channel note")
	}
}

func TestSystemPromptUnknownChannel(t *testing.T) {
	e := New("custom persona")
	if got := e.SystemPrompt("carrier-pigeon"); got != "custom persona" {
		t.Errorf("prompt = %q, want bare base", got)
	}
}

func TestSystemPromptCustomBaseKeepsNotes(t *testing.T) {
	e := New("custom persona")
	got := e.SystemPrompt("cli")
	if !strings.HasPrefix(got, "custom persona") || !strings.Contains(got, "terminal") {
		t.Errorf("prompt = %q", got)
	}
}

func TestContinuityBanner(t *testing.T) {
	e := New("")
	got := e.ContinuityBanner("discord", "telegram")
	if !strings.Contains(got, "discord") || !strings.Contains(got, "telegram") {
		t.Errorf("banner = %q", got)
	}
	if e.ContinuityBanner("", "telegram") != "" {
		t.Error("banner with unknown origin should be empty")
	}
	if e.ContinuityBanner("cli", "cli") != "" {
		t.Error("banner without a switch should be empty")
	}
}
