package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GraphStore is the SQLite-backed conceptual layer: named entities and
// directed relations between them.
type GraphStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ ConceptualMemory = (*GraphStore)(nil)

// NewGraphStore opens (creating if needed) the graph database at
// dbPath.
func NewGraphStore(dbPath string) (*GraphStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	g := &GraphStore{db: db, nowFunc: time.Now}
	if err := g.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph migration: %w", err)
	}
	return g, nil
}

// NewGraphStoreFromDB wraps an existing connection. The caller owns
// the connection's lifecycle.
func NewGraphStoreFromDB(db *sql.DB) (*GraphStore, error) {
	g := &GraphStore{db: db, nowFunc: time.Now}
	if err := g.migrate(); err != nil {
		return nil, fmt.Errorf("graph migration: %w", err)
	}
	return g, nil
}

func (g *GraphStore) migrate() error {
	_, err := g.db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id            TEXT NOT NULL PRIMARY KEY,
			name          TEXT NOT NULL COLLATE NOCASE UNIQUE,
			kind          TEXT NOT NULL,
			mention_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS relations (
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, kind)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
	`)
	return err
}

// Close closes the underlying database.
func (g *GraphStore) Close() error {
	return g.db.Close()
}

// ResolveEntity returns the ID for a named entity, creating it when it
// doesn't exist yet, and bumps its mention count either way. Name
// matching is case-insensitive.
func (g *GraphStore) ResolveEntity(ctx context.Context, entity Entity) (string, error) {
	name := strings.TrimSpace(entity.Name)
	if name == "" {
		return "", fmt.Errorf("empty entity name")
	}

	// One upsert covers both outcomes: creation records the first
	// mention, a conflict bumps the existing row. Concurrent resolvers
	// of the same name all land on the winning row.
	newID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("entity id: %w", err)
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, kind, mention_count, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET mention_count = mention_count + 1
	`, newID.String(), name, entity.Kind, g.nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("resolve entity %q: %w", name, err)
	}

	var id string
	if err := g.db.QueryRowContext(ctx, `
		SELECT id FROM entities WHERE name = ?
	`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("resolve entity %q: %w", name, err)
	}
	return id, nil
}

// MentionCount reports how often an entity has been resolved.
func (g *GraphStore) MentionCount(ctx context.Context, entityID string) (int, error) {
	var count int
	err := g.db.QueryRowContext(ctx, `
		SELECT mention_count FROM entities WHERE id = ?
	`, entityID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("unknown entity %q", entityID)
	}
	if err != nil {
		return 0, fmt.Errorf("mention count: %w", err)
	}
	return count, nil
}

// InsertRelation records a directed edge. Re-inserting an existing
// edge is a no-op.
func (g *GraphStore) InsertRelation(ctx context.Context, fromID, toID, kind string) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO relations (from_id, to_id, kind, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, kind) DO NOTHING
	`, fromID, toID, kind, g.nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert relation: %w", err)
	}
	return nil
}

// SearchEntities returns the ID of the entity best matching the query,
// or empty when nothing matches.
func (g *GraphStore) SearchEntities(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	// Exact name match wins; otherwise the longest name contained in
	// the query (so "tell me about Dana's boat" resolves Dana).
	var id string
	err := g.db.QueryRowContext(ctx, `
		SELECT id FROM entities WHERE name = ? COLLATE NOCASE
	`, query).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("search entities: %w", err)
	}

	err = g.db.QueryRowContext(ctx, `
		SELECT id FROM entities
		WHERE instr(lower(?), lower(name)) > 0
		ORDER BY length(name) DESC, mention_count DESC
		LIMIT 1
	`, query).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("search entities: %w", err)
	}
	return id, nil
}

// Traverse walks outgoing relations from an entity up to depth hops
// and renders the subgraph as one "Name -[kind]-> Name" line per edge.
// Returns empty when the entity has no relations.
func (g *GraphStore) Traverse(ctx context.Context, entityID string, depth int) (string, error) {
	if depth <= 0 || entityID == "" {
		return "", nil
	}

	type edge struct {
		fromName, kind, toName, toID string
	}

	seen := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var lines []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			rows, err := g.db.QueryContext(ctx, `
				SELECT ef.name, r.kind, et.name, et.id
				FROM relations r
				JOIN entities ef ON ef.id = r.from_id
				JOIN entities et ON et.id = r.to_id
				WHERE r.from_id = ?
				ORDER BY r.created_at
			`, id)
			if err != nil {
				return "", fmt.Errorf("traverse relations: %w", err)
			}
			var edges []edge
			for rows.Next() {
				var e edge
				if err := rows.Scan(&e.fromName, &e.kind, &e.toName, &e.toID); err != nil {
					rows.Close()
					return "", fmt.Errorf("scan relation: %w", err)
				}
				edges = append(edges, e)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return "", err
			}

			for _, e := range edges {
				lines = append(lines, fmt.Sprintf("%s -[%s]-> %s", e.fromName, e.kind, e.toName))
				if !seen[e.toID] {
					seen[e.toID] = true
					next = append(next, e.toID)
				}
			}
		}
		frontier = next
	}

	return strings.Join(lines, "\n"), nil
}
