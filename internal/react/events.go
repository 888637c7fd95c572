// Package react drives the reasoning/acting control loop: call the
// model, execute the tools it requests, feed results back, and repeat
// until a final answer emerges. Each run produces a finite event
// stream terminated by exactly one done event.
package react

import (
	"context"
	"time"

	"github.com/sable-ai/sable/internal/llm"
)

// EventType identifies the kind of a loop event.
type EventType string

const (
	// EventMessageDelta is an incremental piece of the final answer.
	EventMessageDelta EventType = "message_delta"

	// EventThinkingDelta is an incremental piece of model reasoning.
	EventThinkingDelta EventType = "thinking_delta"

	// EventToolCall fires when the model requests a tool.
	EventToolCall EventType = "tool_call"

	// EventToolResult fires when a tool execution succeeds.
	EventToolResult EventType = "tool_result"

	// EventError reports a recoverable or terminal failure. The stream
	// continues after recoverable errors.
	EventError EventType = "error"

	// EventDone closes the stream, exactly once per run.
	EventDone EventType = "done"
)

// Event is one element of a loop run's stream. The payload field that
// is set depends on Type.
type Event struct {
	Type    EventType
	Content string        // message_delta, thinking_delta
	Tool    *llm.ToolCall // tool_call
	Result  *ToolResult   // tool_result
	Err     error         // error
	Usage   *llm.Usage    // done
}

// ToolResult is the outcome of a single tool invocation. CallID
// correlates the result back to the model's request.
type ToolResult struct {
	CallID     string `json:"call_id"`
	Success    bool   `json:"success"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ToolExecutor runs a single tool call. The executor enforces the
// timeout itself; the loop passes it through rather than racing it.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, timeout time.Duration) ToolResult
}
