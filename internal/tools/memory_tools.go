package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sable-ai/sable/internal/memory"
)

const defaultRecallLimit = 5

// RegisterMemoryTools adds the remember and recall tools, giving the
// model explicit read/write access to the semantic memory layer. The
// user is taken from the request context.
func RegisterMemoryTools(r *Registry, semantic memory.SemanticMemory) {
	r.Register(&Tool{
		Name: "remember",
		Description: "Store a fact worth keeping long-term: preferences, people, dates, " +
			"decisions. Write it as a standalone sentence that will make sense out of context.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact": map[string]any{
					"type":        "string",
					"description": "The fact to store, phrased as a complete sentence",
				},
			},
			"required": []string{"fact"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			fact, _ := args["fact"].(string)
			if fact == "" {
				return "", fmt.Errorf("fact is required")
			}
			if err := semantic.Store(ctx, UserIDFromContext(ctx), fact); err != nil {
				return "", fmt.Errorf("store fact: %w", err)
			}
			return "Remembered.", nil
		},
	})

	r.Register(&Tool{
		Name: "recall",
		Description: "Search long-term memory for facts relevant to a query. " +
			"Use when the user references something from past conversations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum facts to return (default 5)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := defaultRecallLimit
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}
			facts, err := semantic.Search(ctx, UserIDFromContext(ctx), query, limit)
			if err != nil {
				return "", fmt.Errorf("search memory: %w", err)
			}
			if len(facts) == 0 {
				return "(nothing relevant in memory)", nil
			}
			return "- " + strings.Join(facts, "\n- "), nil
		},
	})
}
