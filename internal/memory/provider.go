package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider renders the memory layers as context-section text for the
// assembler. Any nil layer simply contributes nothing, so a partially
// wired deployment still assembles.
type Provider struct {
	working    WorkingMemory
	stream     *StreamBuffer
	semantic   SemanticMemory
	conceptual ConceptualMemory
	episodic   EpisodicMemory
	meta       MetaMemory

	// toolsFunc renders the available tool definitions; in-process and
	// synchronous.
	toolsFunc func() string
}

// NewProvider wires the memory layers into one assembler-facing view.
func NewProvider(working WorkingMemory, stream *StreamBuffer, semantic SemanticMemory, conceptual ConceptualMemory, episodic EpisodicMemory, meta MetaMemory, toolsFunc func() string) *Provider {
	return &Provider{
		working:    working,
		stream:     stream,
		semantic:   semantic,
		conceptual: conceptual,
		episodic:   episodic,
		meta:       meta,
		toolsFunc:  toolsFunc,
	}
}

// WorkingMemory renders the user's recent turns, oldest first.
func (p *Provider) WorkingMemory(ctx context.Context, userID string, limit int) (string, error) {
	if p.working == nil {
		return "", nil
	}
	msgs, err := p.working.Recent(ctx, userID, limit)
	if err != nil {
		return "", fmt.Errorf("working memory: %w", err)
	}
	var sb strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// StreamBuffer renders the user's recent real-time events.
func (p *Provider) StreamBuffer(_ context.Context, userID string) (string, error) {
	if p.stream == nil {
		return "", nil
	}
	return p.stream.Render(userID), nil
}

// SearchSemantic renders the top-k facts relevant to the query.
func (p *Provider) SearchSemantic(ctx context.Context, userID, query string, k int) (string, error) {
	if p.semantic == nil {
		return "", nil
	}
	facts, err := p.semantic.Search(ctx, userID, query, k)
	if err != nil {
		return "", fmt.Errorf("semantic search: %w", err)
	}
	return joinList(facts), nil
}

// TraverseGraph renders the conceptual neighborhood of an entity.
func (p *Provider) TraverseGraph(ctx context.Context, entityID string, depth int) (string, error) {
	if p.conceptual == nil {
		return "", nil
	}
	return p.conceptual.Traverse(ctx, entityID, depth)
}

// SearchEntities resolves an entity ID from free text, for graph
// traversal when the caller named none.
func (p *Provider) SearchEntities(ctx context.Context, query string) (string, error) {
	if p.conceptual == nil {
		return "", nil
	}
	return p.conceptual.SearchEntities(ctx, query)
}

// SessionArchive renders summaries of the user's sessions since the
// given time, most recent first.
func (p *Provider) SessionArchive(ctx context.Context, userID string, since time.Time) (string, error) {
	if p.episodic == nil {
		return "", nil
	}
	entries, err := p.episodic.Summaries(ctx, userID, since)
	if err != nil {
		return "", fmt.Errorf("session archive: %w", err)
	}
	var sb strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&sb, "[%s] %s", entry.EndedAt.Format("2006-01-02"), entry.Summary)
		if len(entry.KeyTopics) > 0 {
			fmt.Fprintf(&sb, " (topics: %s)", strings.Join(entry.KeyTopics, ", "))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// MetaMemory renders the user's prefetched hot memories.
func (p *Provider) MetaMemory(ctx context.Context, userID string) (string, error) {
	if p.meta == nil {
		return "", nil
	}
	hot, err := p.meta.Hot(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("meta memory: %w", err)
	}
	return joinList(hot), nil
}

// ToolDefinitions renders the available tools.
func (p *Provider) ToolDefinitions() string {
	if p.toolsFunc == nil {
		return ""
	}
	return p.toolsFunc()
}

func joinList(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
