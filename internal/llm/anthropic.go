package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// AnthropicClient is a streaming client for the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client with an explicit API key. An
// empty key falls back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger.With("provider", "anthropic"),
	}
}

// ChatStream sends a streaming chat request. Text and thinking deltas
// are forwarded as they arrive; tool calls are emitted once their
// input JSON is complete, after the model's text, preserving
// text-then-tool-call ordering.
func (c *AnthropicClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("starting stream",
		"model", string(params.Model),
		"messages", len(params.Messages),
		"tools", len(params.Tools),
	)

	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Chunk, 64)
	go func() {
		defer close(ch)
		var acc anthropic.Message

		for stream.Next() {
			event := stream.Current()
			_ = acc.Accumulate(event)

			if event.Type != "content_block_delta" {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				ch <- Chunk{Type: ChunkText, Content: event.Delta.Text}
			case "thinking_delta":
				ch <- Chunk{Type: ChunkThinking, Content: event.Delta.Thinking}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- Chunk{Type: ChunkError, Err: c.classify(err)}
			return
		}

		for _, block := range acc.Content {
			if block.Type != "tool_use" {
				continue
			}
			args := make(map[string]any)
			if err := json.Unmarshal(block.Input, &args); err != nil {
				c.logger.Warn("unparseable tool input",
					"tool", block.Name, "id", block.ID, "error", err)
				args = map[string]any{"_error": fmt.Sprintf("failed to parse tool input: %v", err)}
			}
			ch <- Chunk{Type: ChunkToolCall, ToolCall: &ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			}}
		}

		ch <- Chunk{Type: ChunkDone, Usage: &Usage{
			InputTokens:  int(acc.Usage.InputTokens),
			OutputTokens: int(acc.Usage.OutputTokens),
		}}
	}()

	return ch, nil
}

// classify attaches a retryability verdict to an SDK error.
func (c *AnthropicClient) classify(err error) *ProviderError {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return classifyError(err, apierr.StatusCode)
	}
	return classifyError(err, 0)
}

func (c *AnthropicClient) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "user":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content),
			))
		case "tool":
			// Tool results travel as user messages on the wire.
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				messages = append(messages, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(m.Content),
				))
				continue
			}
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			props, err := json.Marshal(toolProperties(t.Parameters))
			if err != nil {
				c.logger.Warn("failed to marshal tool schema", "tool", t.Name, "error", err)
				continue
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: param.NewOpt(t.Description),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: json.RawMessage(props),
					},
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

// toolProperties pulls the properties object out of a JSON-schema
// parameter map, tolerating schemas that are already bare properties.
func toolProperties(params map[string]any) map[string]any {
	if props, ok := params["properties"].(map[string]any); ok {
		return props
	}
	return params
}
