package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Working memory keeps a bounded window per user; older rows are
// pruned on append.
const workingRetention = 200

// SQLiteStore backs the working and episodic layers with one SQLite
// database. Production opens it through the mattn/go-sqlite3 driver;
// tests inject a modernc.org/sqlite connection via NewSQLiteStoreFromDB.
type SQLiteStore struct {
	db *sql.DB
}

var _ WorkingMemory = (*SQLiteStore)(nil)
var _ EpisodicMemory = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the memory database at
// dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory migration: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller owns
// the connection's lifecycle.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS working_turns (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_working_user ON working_turns(user_id, id);

		CREATE TABLE IF NOT EXISTS episodic_messages (
			session_id TEXT NOT NULL,
			turn_id    INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, turn_id)
		);

		CREATE TABLE IF NOT EXISTS episodic_summaries (
			session_id TEXT NOT NULL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			summary    TEXT NOT NULL,
			key_topics TEXT NOT NULL,
			ended_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_user ON episodic_summaries(user_id, ended_at);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append records one message in the user's working window and prunes
// rows beyond the retention cap.
func (s *SQLiteStore) Append(ctx context.Context, userID string, msg Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO working_turns (user_id, session_id, role, content, channel_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, msg.SessionID, msg.Role, msg.Content, msg.ChannelID,
		msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append working turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM working_turns
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM working_turns WHERE user_id = ?
			ORDER BY id DESC LIMIT ?
		)
	`, userID, userID, workingRetention)
	if err != nil {
		return fmt.Errorf("prune working turns: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent working messages for a user,
// oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, channel_id, created_at
		FROM working_turns
		WHERE user_id = ?
		ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query working turns: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.SessionID, &msg.Role, &msg.Content, &msg.ChannelID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan working turn: %w", err)
		}
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendMessage writes one message to the durable session log,
// assigning the next turn ID for the session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(turn_id), 0) + 1 FROM episodic_messages WHERE session_id = ?
	`, msg.SessionID).Scan(&next)
	if err != nil {
		return fmt.Errorf("next turn id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodic_messages (session_id, turn_id, role, content, channel_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.SessionID, next, msg.Role, msg.Content, msg.ChannelID,
		msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append episodic message: %w", err)
	}
	return tx.Commit()
}

// Messages returns a session's full log in turn order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, role, content, channel_id, created_at
		FROM episodic_messages
		WHERE session_id = ?
		ORDER BY turn_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query episodic messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		msg := Message{SessionID: sessionID}
		var createdAt string
		if err := rows.Scan(&msg.TurnID, &msg.Role, &msg.Content, &msg.ChannelID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan episodic message: %w", err)
		}
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SaveSummary stores (or replaces) a closed session's summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, entry ArchiveEntry) error {
	topics, err := json.Marshal(entry.KeyTopics)
	if err != nil {
		return fmt.Errorf("marshal key topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodic_summaries (session_id, user_id, summary, key_topics, ended_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			summary = excluded.summary,
			key_topics = excluded.key_topics,
			ended_at = excluded.ended_at
	`, entry.SessionID, entry.UserID, entry.Summary, string(topics),
		entry.EndedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// Summaries returns a user's session summaries ending at or after
// since, most recent first.
func (s *SQLiteStore) Summaries(ctx context.Context, userID string, since time.Time) ([]ArchiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, summary, key_topics, ended_at
		FROM episodic_summaries
		WHERE user_id = ? AND ended_at >= ?
		ORDER BY ended_at DESC
	`, userID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	for rows.Next() {
		var entry ArchiveEntry
		var topics, endedAt string
		if err := rows.Scan(&entry.SessionID, &entry.UserID, &entry.Summary, &topics, &endedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if topics != "" {
			_ = json.Unmarshal([]byte(topics), &entry.KeyTopics)
		}
		entry.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
