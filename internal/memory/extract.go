package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sable-ai/sable/internal/llm"
)

const extractPrompt = `Extract the named entities and relationships from this exchange.

Respond with ONLY a JSON object, no prose:
{"entities": [{"name": "...", "kind": "person|place|thing|concept"}],
 "relations": [{"from": "...", "to": "...", "kind": "..."}]}

Entity names must be proper nouns or specific things worth remembering.
Relation "from" and "to" must be entity names from the entities list.
If nothing is worth extracting, return {"entities": [], "relations": []}.`

// LLMExtractor asks the model for entities and relations in a turn.
// Extraction is best-effort; callers treat failures as an empty
// extraction.
type LLMExtractor struct {
	client    llm.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates an extractor using the given client and
// model.
func NewLLMExtractor(client llm.Client, model string, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		client:    client,
		model:     model,
		maxTokens: 1024,
		logger:    logger,
	}
}

// Extract runs one extraction call. Short exchanges are skipped
// without a call; they rarely contain anything worth a graph write.
func (e *LLMExtractor) Extract(ctx context.Context, userContent, assistantContent string) (*Extraction, error) {
	if len(userContent) < 5 || len(assistantContent) < 20 {
		return &Extraction{}, nil
	}

	exchange := fmt.Sprintf("User: %s\nAssistant: %s", userContent, assistantContent)
	ch, err := e.client.ChatStream(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: extractPrompt},
			{Role: "user", Content: exchange},
		},
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	var text strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case llm.ChunkText:
			text.WriteString(chunk.Content)
		case llm.ChunkError:
			return nil, fmt.Errorf("extraction stream: %w", chunk.Err)
		}
	}

	extraction, err := parseExtraction(text.String())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extraction complete",
		"entities", len(extraction.Entities),
		"relations", len(extraction.Relations),
	)
	return extraction, nil
}

// parseExtraction decodes the model's JSON, tolerating a markdown code
// fence around it.
func parseExtraction(raw string) (*Extraction, error) {
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "```json"); ok {
		raw = after
	} else if after, ok := strings.CutPrefix(raw, "```"); ok {
		raw = after
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	raw = strings.TrimSpace(raw)

	var extraction Extraction
	if err := json.Unmarshal([]byte(raw), &extraction); err != nil {
		return nil, fmt.Errorf("parse extraction JSON: %w", err)
	}
	return &extraction, nil
}
