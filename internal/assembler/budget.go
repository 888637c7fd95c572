package assembler

import "fmt"

// Budget holds per-section token ceilings. Every field must be a
// positive integer; Validate rejects anything else.
type Budget struct {
	SystemPrompt    int `yaml:"system_prompt"`
	StreamBuffer    int `yaml:"stream_buffer"`
	WorkingMemory   int `yaml:"working_memory"`
	SemanticSearch  int `yaml:"semantic_search"`
	GraphTraversal  int `yaml:"graph_traversal"`
	SessionArchive  int `yaml:"session_archive"`
	MetaMemory      int `yaml:"meta_memory"`
	ToolDefinitions int `yaml:"tool_definitions"`
}

// DefaultBudget is a reasonable split for a ~32k context window.
func DefaultBudget() Budget {
	return Budget{
		SystemPrompt:    8000,
		StreamBuffer:    1000,
		WorkingMemory:   8000,
		SemanticSearch:  4000,
		GraphTraversal:  3000,
		SessionArchive:  4000,
		MetaMemory:      2000,
		ToolDefinitions: 3000,
	}
}

// Validate checks that every ceiling is positive.
func (b Budget) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"system_prompt", b.SystemPrompt},
		{"stream_buffer", b.StreamBuffer},
		{"working_memory", b.WorkingMemory},
		{"semantic_search", b.SemanticSearch},
		{"graph_traversal", b.GraphTraversal},
		{"session_archive", b.SessionArchive},
		{"meta_memory", b.MetaMemory},
		{"tool_definitions", b.ToolDefinitions},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return fmt.Errorf("context budget %s must be positive, got %d", f.name, f.value)
		}
	}
	return nil
}
