package memory

import (
	"strings"
	"sync"
)

// StreamBuffer is the ephemeral real-time layer: a fixed-capacity ring
// of recent events per user, held in process. Nothing here survives a
// restart, and nothing should.
type StreamBuffer struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string][]string
}

// NewStreamBuffer creates a buffer keeping up to capacity events per
// user.
func NewStreamBuffer(capacity int) *StreamBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	return &StreamBuffer{
		capacity: capacity,
		rings:    make(map[string][]string),
	}
}

// Add records one event for a user, evicting the oldest when full.
func (b *StreamBuffer) Add(userID, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := append(b.rings[userID], event)
	if len(ring) > b.capacity {
		ring = ring[len(ring)-b.capacity:]
	}
	b.rings[userID] = ring
}

// Recent returns a user's buffered events, oldest first.
func (b *StreamBuffer) Recent(userID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.rings[userID]...)
}

// Render joins a user's buffered events for prompt injection. Empty
// when the buffer has nothing.
func (b *StreamBuffer) Render(userID string) string {
	return strings.Join(b.Recent(userID), "\n")
}

// Clear drops a user's buffer.
func (b *StreamBuffer) Clear(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rings, userID)
}
