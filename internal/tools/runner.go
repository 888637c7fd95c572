package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sable-ai/sable/internal/llm"
	"github.com/sable-ai/sable/internal/react"
)

// ErrToolUnavailable is returned when a call targets a tool that is
// not in the registry. A capability mismatch, not a transient failure.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// Runner executes tool calls from the registry, enforcing the per-call
// timeout itself.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

var _ react.ToolExecutor = (*Runner)(nil)

// NewRunner creates a runner over a registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// Execute runs one tool call bounded by timeout. A handler that
// overruns is abandoned; its result, if any ever arrives, is dropped.
func (r *Runner) Execute(ctx context.Context, call llm.ToolCall, timeout time.Duration) react.ToolResult {
	start := time.Now()

	tool := r.registry.Get(call.Name)
	if tool == nil {
		return react.ToolResult{
			CallID:     call.ID,
			Success:    false,
			Error:      (&ErrToolUnavailable{ToolName: call.Name}).Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		// A panicking handler must surface as a failed result, not
		// take down the process.
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool handler panicked",
					"tool", call.Name, "panic", rec)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, rec)}
			}
		}()
		content, err := tool.Handler(ctx, call.Arguments)
		done <- outcome{content, err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			r.logger.Debug("tool returned error",
				"tool", call.Name, "error", out.err, "elapsed", elapsed)
			return react.ToolResult{
				CallID:     call.ID,
				Success:    false,
				Error:      out.err.Error(),
				DurationMs: elapsed.Milliseconds(),
			}
		}
		return react.ToolResult{
			CallID:     call.ID,
			Success:    true,
			Content:    out.content,
			DurationMs: elapsed.Milliseconds(),
		}

	case <-ctx.Done():
		elapsed := time.Since(start)
		r.logger.Warn("tool timed out",
			"tool", call.Name, "timeout", timeout)
		return react.ToolResult{
			CallID:     call.ID,
			Success:    false,
			Error:      fmt.Sprintf("tool %s timed out after %s", call.Name, timeout),
			DurationMs: elapsed.Milliseconds(),
		}
	}
}
