package llm

import "context"

// Client is the interface all LLM providers implement.
type Client interface {
	// ChatStream sends a chat request and returns a lazy chunk stream.
	// The channel is closed after a terminal chunk (done or error).
	// A non-nil error return means the request never started.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
