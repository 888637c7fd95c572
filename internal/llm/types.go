// Package llm provides LLM client implementations.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool responses
}

// ToolCall represents a tool call from the model. ID is the
// provider-assigned identifier, required for tool_result correlation.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a callable tool for the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage carries provider-neutral token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ChatRequest is a provider-neutral chat call.
type ChatRequest struct {
	Model     string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// ChunkType identifies the kind of a stream chunk.
type ChunkType string

const (
	// ChunkText is an incremental text delta from the model.
	ChunkText ChunkType = "text"

	// ChunkThinking is an incremental reasoning delta.
	ChunkThinking ChunkType = "thinking"

	// ChunkToolCall is a complete tool invocation request.
	ChunkToolCall ChunkType = "tool_call"

	// ChunkDone closes the stream. Usage carries final accounting.
	ChunkDone ChunkType = "done"

	// ChunkError reports a provider failure. The stream ends after it.
	ChunkError ChunkType = "error"
)

// Chunk is one element of a streaming chat response. Exactly one of
// the payload fields is set, according to Type.
type Chunk struct {
	Type     ChunkType
	Content  string    // text and thinking deltas
	ToolCall *ToolCall // tool_call chunks
	Usage    *Usage    // done chunks
	Err      error     // error chunks
}
