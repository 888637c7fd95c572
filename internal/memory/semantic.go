package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SemanticStore is the SQLite-backed long-term fact store. Search is
// keyword-based: the query is split into terms and facts matching any
// term rank by match count, recency breaking ties.
type SemanticStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ SemanticMemory = (*SemanticStore)(nil)

// NewSemanticStore opens (creating if needed) the fact database at
// dbPath.
func NewSemanticStore(dbPath string) (*SemanticStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open fact db: %w", err)
	}
	s := &SemanticStore{db: db, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("fact migration: %w", err)
	}
	return s, nil
}

// NewSemanticStoreFromDB wraps an existing connection. The caller owns
// the connection's lifecycle.
func NewSemanticStoreFromDB(db *sql.DB) (*SemanticStore, error) {
	s := &SemanticStore{db: db, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("fact migration: %w", err)
	}
	return s, nil
}

func (s *SemanticStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, id);
	`)
	return err
}

// Close closes the underlying database.
func (s *SemanticStore) Close() error {
	return s.db.Close()
}

// Store persists one fact for a user. Exact duplicates are refreshed
// in place rather than stored again.
func (s *SemanticStore) Store(ctx context.Context, userID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("empty fact")
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET created_at = ? WHERE user_id = ? AND content = ?
	`, now, userID, content)
	if err != nil {
		return fmt.Errorf("refresh fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (user_id, content, created_at) VALUES (?, ?, ?)
	`, userID, content, now)
	if err != nil {
		return fmt.Errorf("store fact: %w", err)
	}
	return nil
}

// Search returns up to k facts relevant to the query, best match
// first. An empty query returns the most recent facts.
func (s *SemanticStore) Search(ctx context.Context, userID, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	terms := searchTerms(query)
	if len(terms) == 0 {
		return s.recent(ctx, userID, k)
	}

	// Score = number of terms the fact matches. One LIKE clause per
	// term; queries are short so the clause count stays small.
	clauses := make([]string, len(terms))
	for i := range terms {
		clauses[i] = "(content LIKE ? COLLATE NOCASE)"
	}
	score := strings.Join(clauses, " + ")

	q := fmt.Sprintf(`
		SELECT content FROM facts
		WHERE user_id = ? AND (%s) > 0
		ORDER BY (%s) DESC, id DESC
		LIMIT ?
	`, score, score)

	// The score expression appears twice (filter and order), so the
	// term args do as well.
	args := make([]any, 0, 2*len(terms)+2)
	args = append(args, userID)
	for _, term := range terms {
		args = append(args, "%"+term+"%")
	}
	for _, term := range terms {
		args = append(args, "%"+term+"%")
	}
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

func (s *SemanticStore) recent(ctx context.Context, userID string, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM facts WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, k)
	if err != nil {
		return nil, fmt.Errorf("recent facts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// searchTerms lowercases and splits a query, dropping short stopwords
// that would match everything.
func searchTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,!?\"'")
		if len(f) < 3 {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
