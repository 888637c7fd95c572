package react

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sable-ai/sable/internal/events"
	"github.com/sable-ai/sable/internal/llm"
)

// Config bounds a loop run.
type Config struct {
	// MaxIterations caps model-call rounds, including retried ones.
	MaxIterations int

	// TotalTimeout is the wall-clock budget for a whole run.
	TotalTimeout time.Duration

	// ToolTimeout bounds each individual tool execution.
	ToolTimeout time.Duration

	// Model and MaxTokens are passed through to the LLM client.
	Model     string
	MaxTokens int
}

// Loop defaults.
const (
	DefaultMaxIterations = 15
	DefaultTotalTimeout  = 5 * time.Minute
	DefaultToolTimeout   = 30 * time.Second

	maxBackoff  = 5 * time.Second
	baseBackoff = 100 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = DefaultTotalTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}

// Loop runs the reasoning/acting cycle against an LLM client and a
// tool executor. It owns no session or memory state.
type Loop struct {
	client   llm.Client
	executor ToolExecutor
	bus      *events.Bus
	logger   *slog.Logger
	config   Config

	nowFunc   func() time.Time         // injectable for testing
	sleepFunc func(time.Duration) bool // returns false when interrupted
}

// New creates a loop. The bus may be nil.
func New(client llm.Client, executor ToolExecutor, bus *events.Bus, config Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:    client,
		executor:  executor,
		bus:       bus,
		logger:    logger,
		config:    config.withDefaults(),
		nowFunc:   time.Now,
		sleepFunc: func(d time.Duration) bool { time.Sleep(d); return true },
	}
}

// Run starts one reasoning/acting cycle over the starting message
// list. The returned stream is finite and non-restartable: it yields
// deltas, tool activity, and errors, and always ends with exactly one
// done event carrying aggregate token usage. The input slice is not
// modified.
func (l *Loop) Run(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		l.run(ctx, messages, tools, out)
	}()
	return out
}

func (l *Loop) run(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, out chan<- Event) {
	start := l.nowFunc()
	msgs := append([]llm.Message(nil), messages...)

	var usage llm.Usage
	attempt := 0 // provider retry counter, drives backoff
	answered := false

	defer func() {
		out <- Event{Type: EventDone, Usage: &usage}
	}()

	for iter := 0; iter < l.config.MaxIterations; iter++ {
		if elapsed := l.nowFunc().Sub(start); elapsed >= l.config.TotalTimeout {
			out <- Event{Type: EventError, Err: &TimeoutError{Elapsed: elapsed, Budget: l.config.TotalTimeout}}
			return
		}

		l.bus.Publish(events.Event{
			Timestamp: l.nowFunc(),
			Source:    events.SourceLoop,
			Kind:      events.KindLLMCall,
			Data:      map[string]any{"iter": iter, "model": l.config.Model, "messages": len(msgs)},
		})

		stream, err := l.client.ChatStream(ctx, llm.ChatRequest{
			Model:     l.config.Model,
			Messages:  msgs,
			Tools:     tools,
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			if l.handleProviderError(out, err, &attempt) {
				continue
			}
			return
		}

		var text strings.Builder
		var calls []llm.ToolCall
		var results []ToolResult
		var streamErr error

		for chunk := range stream {
			switch chunk.Type {
			case llm.ChunkText:
				out <- Event{Type: EventMessageDelta, Content: chunk.Content}
				text.WriteString(chunk.Content)

			case llm.ChunkThinking:
				out <- Event{Type: EventThinkingDelta, Content: chunk.Content}

			case llm.ChunkToolCall:
				call := *chunk.ToolCall
				out <- Event{Type: EventToolCall, Tool: &call}
				calls = append(calls, call)
				results = append(results, l.executeTool(ctx, out, call))

			case llm.ChunkDone:
				if chunk.Usage != nil {
					usage.Add(*chunk.Usage)
				}

			case llm.ChunkError:
				streamErr = chunk.Err
			}
		}

		if streamErr != nil {
			if l.handleProviderError(out, streamErr, &attempt) {
				continue
			}
			return
		}

		l.bus.Publish(events.Event{
			Timestamp: l.nowFunc(),
			Source:    events.SourceLoop,
			Kind:      events.KindLLMResponse,
			Data: map[string]any{
				"iter":       iter,
				"tool_calls": len(calls),
				"tokens_in":  usage.InputTokens,
				"tokens_out": usage.OutputTokens,
			},
		})

		msgs = append(msgs, llm.Message{
			Role:      "assistant",
			Content:   text.String(),
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			// No tool call: the model gave its final answer.
			answered = true
			break
		}

		for _, res := range results {
			content := res.Content
			if !res.Success {
				// The model sees the failure as data and can react.
				content = "Error: " + res.Error
			}
			msgs = append(msgs, llm.Message{
				Role:       "tool",
				ToolCallID: res.CallID,
				Content:    content,
			})
		}
	}

	if !answered {
		out <- Event{Type: EventError, Err: ErrMaxIterations}
	}
}

// executeTool runs one tool call synchronously and reports the result
// as events. Failures, including timeouts, are recoverable: the loop
// continues and the model decides what to do with the error.
func (l *Loop) executeTool(ctx context.Context, out chan<- Event, call llm.ToolCall) ToolResult {
	l.bus.Publish(events.Event{
		Timestamp: l.nowFunc(),
		Source:    events.SourceLoop,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"tool": call.Name},
	})

	res := l.executor.Execute(ctx, call, l.config.ToolTimeout)

	l.bus.Publish(events.Event{
		Timestamp: l.nowFunc(),
		Source:    events.SourceLoop,
		Kind:      events.KindToolDone,
		Data:      map[string]any{"tool": call.Name, "ok": res.Success, "duration_ms": res.DurationMs},
	})

	if res.Success {
		out <- Event{Type: EventToolResult, Result: &res}
	} else {
		out <- Event{Type: EventError, Err: &ToolError{
			Tool:    call.Name,
			CallID:  call.ID,
			Message: res.Error,
		}}
		l.logger.Warn("tool failed", "tool", call.Name, "error", res.Error)
	}
	return res
}

// handleProviderError reports a provider failure and decides whether
// the run may continue. Retryable failures back off exponentially and
// burn an iteration; anything else is terminal.
func (l *Loop) handleProviderError(out chan<- Event, err error, attempt *int) (retry bool) {
	out <- Event{Type: EventError, Err: err}

	if !llm.IsRetryable(err) {
		l.logger.Error("provider error, stopping", "error", err)
		return false
	}

	delay := backoff(*attempt)
	*attempt++
	l.logger.Warn("provider error, retrying", "error", err, "backoff", delay)
	return l.sleepFunc(delay)
}

// backoff returns min(100ms * 2^attempt, 5s).
func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
