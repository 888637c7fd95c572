// Package agent wires the per-message pipeline: session resolution,
// persona, context assembly, the reasoning loop, delivery, and the
// memory fan-out. It holds no business logic of its own.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sable-ai/sable/internal/assembler"
	"github.com/sable-ai/sable/internal/events"
	"github.com/sable-ai/sable/internal/llm"
	"github.com/sable-ai/sable/internal/memory"
	"github.com/sable-ai/sable/internal/persona"
	"github.com/sable-ai/sable/internal/react"
	"github.com/sable-ai/sable/internal/session"
	"github.com/sable-ai/sable/internal/tools"
)

// fallbackReply is delivered whenever the pipeline fails. The user
// always gets a normal-looking message, never a protocol error.
const fallbackReply = "Sorry, something went wrong on my end. Please try that again."

// InboundMessage is a normalized message from any channel.
type InboundMessage struct {
	UserID    string            `json:"user_id"`
	ChannelID string            `json:"channel_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SendFunc delivers a reply back to the originating channel.
type SendFunc func(ctx context.Context, content string) error

// Reply is the synchronous gateway response.
type Reply struct {
	Content         string    `json:"content"`
	SessionID       string    `json:"session_id"`
	ChannelSwitched bool      `json:"channel_switched"`
	Usage           llm.Usage `json:"usage"`
}

// Handler runs the message pipeline.
type Handler struct {
	resolver  *session.Resolver
	persona   *persona.Engine
	assembler *assembler.Assembler
	loop      *react.Loop
	registry  *tools.Registry
	persister *memory.Persister
	bus       *events.Bus
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing
}

// NewHandler wires the pipeline. The persister and bus may be nil.
func NewHandler(resolver *session.Resolver, engine *persona.Engine, asm *assembler.Assembler, loop *react.Loop, registry *tools.Registry, persister *memory.Persister, bus *events.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver:  resolver,
		persona:   engine,
		assembler: asm,
		loop:      loop,
		registry:  registry,
		persister: persister,
		bus:       bus,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// HandleMessage processes one inbound message and delivers the reply
// through send. It never returns an error and never leaves the user
// without a reply: any failure, including a panic anywhere in the
// pipeline, becomes the fallback message.
func (h *Handler) HandleMessage(ctx context.Context, msg InboundMessage, send SendFunc) {
	reply, err := h.safeRun(ctx, msg, nil)
	if err != nil {
		h.logger.Error("pipeline failed",
			"user_id", msg.UserID, "channel_id", msg.ChannelID, "error", err)
		h.deliver(ctx, msg, send, fallbackReply)
		return
	}

	content := reply.Content
	if content == "" {
		content = fallbackReply
	}
	if !h.deliver(ctx, msg, send, content) {
		// A failed send must not inflate the turn count or persist a
		// turn the user never saw.
		return
	}

	h.finishTurn(ctx, msg, reply)
}

// HandleRequest is the synchronous gateway variant: instead of
// dispatching to a channel, it returns the reply, which events were
// streamed to onEvent along the way. onEvent may be nil.
func (h *Handler) HandleRequest(ctx context.Context, msg InboundMessage, onEvent func(react.Event)) (*Reply, error) {
	reply, err := h.safeRun(ctx, msg, onEvent)
	if err != nil {
		return nil, err
	}
	h.finishTurn(ctx, msg, reply)
	return reply, nil
}

// safeRun is the panic boundary around the pipeline.
func (h *Handler) safeRun(ctx context.Context, msg InboundMessage, onEvent func(react.Event)) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	return h.run(ctx, msg, onEvent)
}

func (h *Handler) run(ctx context.Context, msg InboundMessage, onEvent func(react.Event)) (*Reply, error) {
	start := h.nowFunc()

	resolved, err := h.resolver.Resolve(ctx, msg.UserID, msg.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	h.bus.Publish(events.Event{
		Timestamp: h.nowFunc(),
		Source:    events.SourceHandler,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"session_id":  resolved.Session.ID,
			"channel":     msg.ChannelID,
			"message_len": len(msg.Content),
		},
	})

	prompt := h.persona.SystemPrompt(msg.ChannelID)
	if cc := resolved.ChannelContext(); cc.ChannelSwitched {
		if banner := h.persona.ContinuityBanner(cc.PreviousChannel, cc.CurrentChannel); banner != "" {
			prompt += "\n\n" + banner
		}
	}

	ctx = tools.WithUserID(ctx, msg.UserID)
	ctx = tools.WithSessionID(ctx, resolved.Session.ID)

	assembled, err := h.assembler.Assemble(ctx, assembler.Request{
		SystemPrompt: prompt,
		UserID:       msg.UserID,
		Query:        msg.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	messages := []llm.Message{
		{Role: "system", Content: renderSystem(assembled)},
		{Role: "user", Content: msg.Content},
	}

	var defs []llm.ToolDefinition
	if h.registry != nil {
		defs = h.registry.Definitions()
	}

	var content strings.Builder
	var usage llm.Usage
	for ev := range h.loop.Run(ctx, messages, defs) {
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Type {
		case react.EventMessageDelta:
			content.WriteString(ev.Content)
		case react.EventError:
			h.logger.Warn("loop event error",
				"session_id", resolved.Session.ID, "error", ev.Err)
		case react.EventDone:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		}
	}

	h.bus.Publish(events.Event{
		Timestamp: h.nowFunc(),
		Source:    events.SourceHandler,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"session_id": resolved.Session.ID,
			"tokens_in":  usage.InputTokens,
			"tokens_out": usage.OutputTokens,
			"elapsed_ms": h.nowFunc().Sub(start).Milliseconds(),
		},
	})

	return &Reply{
		Content:         content.String(),
		SessionID:       resolved.Session.ID,
		ChannelSwitched: resolved.ChannelSwitched,
		Usage:           usage,
	}, nil
}

// finishTurn runs the post-delivery bookkeeping: activity update and
// the memory fan-out. Failures here are logged, never surfaced; the
// user already has the reply.
func (h *Handler) finishTurn(ctx context.Context, msg InboundMessage, reply *Reply) {
	if err := h.resolver.UpdateActivity(ctx, reply.SessionID); err != nil {
		h.logger.Warn("activity update failed",
			"session_id", reply.SessionID, "error", err)
	}
	if h.persister != nil {
		h.persister.Persist(ctx, memory.Turn{
			SessionID:        reply.SessionID,
			UserID:           msg.UserID,
			ChannelID:        msg.ChannelID,
			UserContent:      msg.Content,
			AssistantContent: reply.Content,
			Timestamp:        h.nowFunc(),
		})
	}
}

func (h *Handler) deliver(ctx context.Context, msg InboundMessage, send SendFunc, content string) bool {
	if send == nil {
		return false
	}
	if err := send(ctx, content); err != nil {
		h.logger.Error("delivery failed",
			"user_id", msg.UserID, "channel_id", msg.ChannelID, "error", err)
		return false
	}
	return true
}

// renderSystem concatenates the truncated system prompt with every
// assembled section, tagged by its originating layer.
func renderSystem(assembled *assembler.Assembled) string {
	var sb strings.Builder
	sb.WriteString(assembled.SystemPrompt)
	for _, section := range assembled.Sections {
		fmt.Fprintf(&sb, "\n\n## %s (%s)\n%s", section.Name, section.Source, section.Content)
	}
	return sb.String()
}
