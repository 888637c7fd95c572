// Package memory defines the layered memory model and the persistence
// fan-out that records completed turns across it. Layers are ordered by
// volatility: stream buffer, working memory, episodic log, semantic
// store, conceptual graph, meta memory. The orchestration core depends
// only on the ports in this file; every mutating call must be safe to
// fail without corrupting another layer.
package memory

import (
	"context"
	"time"
)

// Message is one conversational message inside a session. Turn IDs are
// monotonically increasing per session; a user/assistant pair occupies
// consecutive IDs.
type Message struct {
	SessionID string            `json:"session_id"`
	TurnID    int64             `json:"turn_id"`
	Role      string            `json:"role"` // user, assistant, system, tool
	Content   string            `json:"content"`
	ChannelID string            `json:"channel_id"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Turn is one completed user/assistant exchange, ready to persist.
type Turn struct {
	SessionID        string
	UserID           string
	ChannelID        string
	UserContent      string
	AssistantContent string
	Timestamp        time.Time
}

// ArchiveEntry is a closed session's summary as stored in the episodic
// layer.
type ArchiveEntry struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Summary   string    `json:"summary"`
	KeyTopics []string  `json:"key_topics,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// Entity is a node extracted from conversation for the conceptual graph.
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Relation is a directed edge between two extracted entities, named by
// the entities' names until resolution maps them to IDs.
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// WorkingMemory holds recent turns per user (M1).
type WorkingMemory interface {
	Append(ctx context.Context, userID string, msg Message) error
	Recent(ctx context.Context, userID string, limit int) ([]Message, error)
}

// EpisodicMemory is the durable per-session log plus closed-session
// summaries (M2).
type EpisodicMemory interface {
	AppendMessage(ctx context.Context, msg Message) error
	SaveSummary(ctx context.Context, entry ArchiveEntry) error
	Summaries(ctx context.Context, userID string, since time.Time) ([]ArchiveEntry, error)
}

// SemanticMemory stores and retrieves derived facts (M3).
type SemanticMemory interface {
	Store(ctx context.Context, userID, content string) error
	Search(ctx context.Context, userID, query string, k int) ([]string, error)
}

// ConceptualMemory is the entity/relation graph (M4). ResolveEntity
// resolves or creates the entity and bumps its mention count, returning
// its ID.
type ConceptualMemory interface {
	ResolveEntity(ctx context.Context, entity Entity) (string, error)
	InsertRelation(ctx context.Context, fromID, toID, kind string) error
	Traverse(ctx context.Context, entityID string, depth int) (string, error)
	SearchEntities(ctx context.Context, query string) (entityID string, err error)
}

// MetaMemory serves prefetched hot memories for a user (M5).
type MetaMemory interface {
	Hot(ctx context.Context, userID string) ([]string, error)
}

// Extraction is the structured output of an extraction pass over one
// exchange.
type Extraction struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Extractor pulls entities and relations out of a completed exchange.
// Typically backed by an LLM call; a nil result means nothing worth
// recording.
type Extractor interface {
	Extract(ctx context.Context, userContent, assistantContent string) (*Extraction, error)
}
