// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (reasoning loop, inbound
// handler, memory pipeline, channel bridges) to subscribers (WebSocket
// feed, future metrics collector). The bus is nil-safe: calling Publish
// on a nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceHandler identifies events from the inbound message handler.
	SourceHandler = "handler"
	// SourceLoop identifies events from the reasoning loop.
	SourceLoop = "loop"
	// SourceSession identifies events from session lifecycle management.
	SourceSession = "session"
	// SourceMemory identifies events from the memory persistence pipeline.
	SourceMemory = "memory"
	// SourceMQTT identifies events from the MQTT channel bridge.
	SourceMQTT = "mqtt"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of an inbound request.
	// Data: session_id, channel, message_len.
	KindRequestStart = "request_start"
	// KindLLMCall signals the start of an LLM API call.
	// Data: iter, model, messages.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of an LLM API call.
	// Data: iter, tool_calls, tokens_in, tokens_out.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of an inbound request.
	// Data: session_id, tokens_in, tokens_out, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindSessionStarted signals a new session was created.
	// Data: session_id, user_id, channel.
	KindSessionStarted = "session_started"
	// KindChannelSwitch signals a session moved to a different channel.
	// Data: session_id, from, to.
	KindChannelSwitch = "channel_switch"
	// KindSessionEnded signals a session was closed and summarized.
	// Data: session_id, turns.
	KindSessionEnded = "session_ended"

	// KindPersistStart signals the beginning of a turn persistence pass.
	// Data: session_id.
	KindPersistStart = "persist_start"
	// KindPersistDone signals the end of a turn persistence pass.
	// Data: session_id, failed_paths.
	KindPersistDone = "persist_done"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
