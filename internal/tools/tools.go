// Package tools defines the tools available to the agent and the
// executor that runs them under a per-call timeout.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sable-ai/sable/internal/llm"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns all tools as LLM tool definitions, sorted by
// name for stable prompts.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Render describes the registered tools as context-section text.
func (r *Registry) Render() string {
	defs := r.Definitions()
	var sb strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
