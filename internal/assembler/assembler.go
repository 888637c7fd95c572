// Package assembler builds a bounded, prioritized context window from
// the memory layers. Sections are fetched in a fixed priority order,
// each truncated to its own token budget, so one oversized or failing
// layer can never sink the whole prompt.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sable-ai/sable/internal/tokens"
)

// Fetch limits for the individual memory layers.
const (
	workingMemoryLimit = 20
	semanticSearchK    = 10
	graphDepth         = 2
	archiveLookback    = 30 * 24 * time.Hour
)

// Section names, in assembly priority order.
const (
	SectionSystemPrompt    = "systemPrompt"
	SectionWorkingMemory   = "workingMemory"
	SectionStreamBuffer    = "streamBuffer"
	SectionSemanticSearch  = "semanticSearch"
	SectionGraphTraversal  = "graphTraversal"
	SectionSessionArchive  = "sessionArchive"
	SectionMetaMemory      = "metaMemory"
	SectionToolDefinitions = "toolDefinitions"
)

// DataProvider fetches raw section content from the memory layers.
// Every method returns pre-rendered text; an empty string means the
// layer has nothing to contribute.
type DataProvider interface {
	WorkingMemory(ctx context.Context, userID string, limit int) (string, error)
	StreamBuffer(ctx context.Context, userID string) (string, error)
	SearchSemantic(ctx context.Context, userID, query string, k int) (string, error)
	TraverseGraph(ctx context.Context, entityID string, depth int) (string, error)
	SessionArchive(ctx context.Context, userID string, since time.Time) (string, error)
	MetaMemory(ctx context.Context, userID string) (string, error)

	// ToolDefinitions is synchronous; tool schemas are in-process.
	ToolDefinitions() string
}

// EntitySearcher is an optional DataProvider extension. When the
// provider implements it, graph traversal can resolve an entity from
// the query text when the caller did not supply one.
type EntitySearcher interface {
	SearchEntities(ctx context.Context, query string) (entityID string, err error)
}

// Section is one assembled, truncated slice of the prompt, tagged with
// the memory layer it came from.
type Section struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
	Source  string `json:"source"`
}

// Assembled is the finished context window.
type Assembled struct {
	SystemPrompt      string         `json:"system_prompt"`
	Sections          []Section      `json:"sections"`
	TotalTokens       int            `json:"total_tokens"`
	BudgetUtilization map[string]int `json:"budget_utilization"`
}

// Request describes one assembly.
type Request struct {
	SystemPrompt string
	UserID       string
	Query        string
	EntityID     string // optional; resolved from Query when empty
}

// Assembler builds context windows.
type Assembler struct {
	provider DataProvider
	counter  tokens.Counter
	budget   Budget
	logger   *slog.Logger
}

// New creates an assembler. The budget must validate.
func New(provider DataProvider, counter tokens.Counter, budget Budget, logger *slog.Logger) (*Assembler, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		provider: provider,
		counter:  counter,
		budget:   budget,
		logger:   logger,
	}, nil
}

// Assemble fetches, truncates, and orders every context section. The
// system prompt is never dropped, only truncated; any other section
// that fails to fetch or truncates to empty is omitted silently.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Assembled, error) {
	systemPrompt, systemTokens, err := a.truncateToFit(ctx, req.SystemPrompt, a.budget.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("truncate system prompt: %w", err)
	}

	out := &Assembled{
		SystemPrompt:      systemPrompt,
		TotalTokens:       systemTokens,
		BudgetUtilization: map[string]int{SectionSystemPrompt: systemTokens},
	}

	for _, src := range a.sources(req) {
		content, err := src.fetch(ctx)
		if err != nil {
			a.logger.Warn("context section unavailable",
				"section", src.name, "error", err)
			continue
		}
		if content == "" {
			continue
		}

		truncated, sectionTokens, err := a.truncateToFit(ctx, content, src.budget)
		if err != nil {
			a.logger.Warn("context section truncation failed",
				"section", src.name, "error", err)
			continue
		}
		if truncated == "" {
			// Over budget and truncated to nothing: drop silently.
			continue
		}

		out.Sections = append(out.Sections, Section{
			Name:    src.name,
			Content: truncated,
			Tokens:  sectionTokens,
			Source:  src.source,
		})
		out.TotalTokens += sectionTokens
		out.BudgetUtilization[src.name] = sectionTokens
	}

	a.logger.Debug("context assembled",
		"user_id", req.UserID,
		"sections", len(out.Sections),
		"total_tokens", out.TotalTokens,
	)
	return out, nil
}

// source is one prioritized context source.
type source struct {
	name   string
	source string
	budget int
	fetch  func(ctx context.Context) (string, error)
}

// sources returns the fixed-priority fetch plan for a request.
func (a *Assembler) sources(req Request) []source {
	return []source{
		{
			name: SectionWorkingMemory, source: "M1", budget: a.budget.WorkingMemory,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.WorkingMemory(ctx, req.UserID, workingMemoryLimit)
			},
		},
		{
			name: SectionStreamBuffer, source: "M0", budget: a.budget.StreamBuffer,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.StreamBuffer(ctx, req.UserID)
			},
		},
		{
			name: SectionSemanticSearch, source: "M3", budget: a.budget.SemanticSearch,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.SearchSemantic(ctx, req.UserID, req.Query, semanticSearchK)
			},
		},
		{
			name: SectionGraphTraversal, source: "M4", budget: a.budget.GraphTraversal,
			fetch: func(ctx context.Context) (string, error) {
				return a.traverseGraph(ctx, req)
			},
		},
		{
			name: SectionSessionArchive, source: "M2", budget: a.budget.SessionArchive,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.SessionArchive(ctx, req.UserID, time.Now().Add(-archiveLookback))
			},
		},
		{
			name: SectionMetaMemory, source: "M5", budget: a.budget.MetaMemory,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.MetaMemory(ctx, req.UserID)
			},
		},
		{
			name: SectionToolDefinitions, source: "tools", budget: a.budget.ToolDefinitions,
			fetch: func(ctx context.Context) (string, error) {
				return a.provider.ToolDefinitions(), nil
			},
		},
	}
}

// traverseGraph resolves an entity (explicit ID first, then entity
// search on the query when the provider supports it) and walks the
// graph. Returns empty when no entity resolves, so the section is
// omitted entirely.
func (a *Assembler) traverseGraph(ctx context.Context, req Request) (string, error) {
	entityID := req.EntityID
	if entityID == "" {
		searcher, ok := a.provider.(EntitySearcher)
		if !ok {
			return "", nil
		}
		id, err := searcher.SearchEntities(ctx, req.Query)
		if err != nil {
			return "", fmt.Errorf("search entities: %w", err)
		}
		entityID = id
	}
	if entityID == "" {
		return "", nil
	}
	return a.provider.TraverseGraph(ctx, entityID, graphDepth)
}
