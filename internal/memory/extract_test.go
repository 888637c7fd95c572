package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sable-ai/sable/internal/llm"
)

type cannedLLM struct {
	text     string
	requests []llm.ChatRequest
}

func (c *cannedLLM) ChatStream(_ context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	c.requests = append(c.requests, req)
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Type: llm.ChunkText, Content: c.text}
	ch <- llm.Chunk{Type: llm.ChunkDone, Usage: &llm.Usage{}}
	close(ch)
	return ch, nil
}

func TestExtractParsesEntitiesAndRelations(t *testing.T) {
	client := &cannedLLM{text: `{"entities": [{"name": "Dana", "kind": "person"}, {"name": "Lisbon", "kind": "place"}],
		"relations": [{"from": "Dana", "to": "Lisbon", "kind": "lives_in"}]}`}
	e := NewLLMExtractor(client, "test-model", slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := e.Extract(context.Background(), "where does Dana live?", "Dana lives in Lisbon these days.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Entities) != 2 || len(got.Relations) != 1 {
		t.Fatalf("extraction = %+v", got)
	}
	if got.Entities[0].Name != "Dana" || got.Relations[0].Kind != "lives_in" {
		t.Errorf("extraction = %+v", got)
	}
	if len(client.requests) != 1 || client.requests[0].Model != "test-model" {
		t.Errorf("requests = %+v", client.requests)
	}
}

func TestExtractSkipsShortExchanges(t *testing.T) {
	client := &cannedLLM{text: `{}`}
	e := NewLLMExtractor(client, "test-model", slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := e.Extract(context.Background(), "hi", "ok")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Entities) != 0 || len(got.Relations) != 0 {
		t.Errorf("extraction = %+v", got)
	}
	if len(client.requests) != 0 {
		t.Error("short exchange should not reach the model")
	}
}

func TestParseExtractionToleratesCodeFence(t *testing.T) {
	cases := []string{
		`{"entities": [{"name": "Dana", "kind": "person"}], "relations": []}`,
		"```json\n{\"entities\": [{\"name\": \"Dana\", \"kind\": \"person\"}], \"relations\": []}\n```",
		"```\n{\"entities\": [{\"name\": \"Dana\", \"kind\": \"person\"}], \"relations\": []}\n```",
	}
	for _, raw := range cases {
		got, err := parseExtraction(raw)
		if err != nil {
			t.Fatalf("parseExtraction(%q): %v", raw, err)
		}
		if len(got.Entities) != 1 || got.Entities[0].Name != "Dana" {
			t.Errorf("parseExtraction(%q) = %+v", raw, got)
		}
	}
}

func TestParseExtractionRejectsProse(t *testing.T) {
	if _, err := parseExtraction("Sure! Here are the entities I found."); err == nil {
		t.Error("expected error for non-JSON output")
	}
}
