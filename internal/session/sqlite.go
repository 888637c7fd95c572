package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for operations on a session that does not
// exist or has already ended.
var ErrNotFound = errors.New("session not found or already ended")

// SQLiteStore is a SQLite-backed session store. A partial unique index
// on (user_id) over live rows makes Create atomic: concurrent creates
// for the same user collapse to a single live session.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the session database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing connection, for tests and for
// sharing one database file across stores.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			active_channel   TEXT NOT NULL,
			channel_history  TEXT NOT NULL,
			started_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			turn_count       INTEGER NOT NULL DEFAULT 0,
			ended_at         TEXT,
			summary          TEXT,
			key_topics       TEXT,
			emotional_tone   TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live_user
			ON sessions(user_id) WHERE ended_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(user_id, last_activity_at);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetActive returns the user's live session, or nil when none exists.
func (s *SQLiteStore) GetActive(ctx context.Context, userID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, active_channel, channel_history,
		       started_at, last_activity_at, turn_count
		FROM sessions
		WHERE user_id = ? AND ended_at IS NULL
		ORDER BY last_activity_at DESC
		LIMIT 1
	`, userID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

// Create inserts a session unless the user already has a live one, in
// which case the existing session is returned with fresh=false. The
// partial unique index makes the insert race-safe.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) (*Session, bool, error) {
	history, err := json.Marshal(sess.ChannelHistory)
	if err != nil {
		return nil, false, fmt.Errorf("marshal channel history: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions
			(id, user_id, active_channel, channel_history,
			 started_at, last_activity_at, turn_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, sess.ID, sess.UserID, sess.ActiveChannelID, string(history),
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActivityAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Unique index collision: another resolution created the live
		// session first. Return the winner.
		existing, err := s.GetActive(ctx, sess.UserID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("create session: lost race but no live session for user %s", sess.UserID)
		}
		return existing, false, nil
	}

	return sess.Clone(), true, nil
}

// SetActiveChannel updates the active channel and appends it to the
// channel history.
func (s *SQLiteStore) SetActiveChannel(ctx context.Context, sessionID, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var historyJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT channel_history FROM sessions
		WHERE id = ? AND ended_at IS NULL
	`, sessionID).Scan(&historyJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load channel history: %w", err)
	}

	var history []string
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return fmt.Errorf("unmarshal channel history: %w", err)
	}
	history = append(history, channelID)
	updated, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal channel history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET active_channel = ?, channel_history = ?
		WHERE id = ?
	`, channelID, string(updated), sessionID)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}

	return tx.Commit()
}

// UpdateActivity bumps last-activity time and turn count.
func (s *SQLiteStore) UpdateActivity(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_activity_at = ?, turn_count = turn_count + 1
		WHERE id = ? AND ended_at IS NULL
	`, time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns activity counters for a session, live or ended.
func (s *SQLiteStore) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_history, started_at, last_activity_at, turn_count
		FROM sessions WHERE id = ?
	`, sessionID)

	var st Stats
	var historyJSON, startedAt, lastActivity string
	err := row.Scan(&st.SessionID, &historyJSON, &startedAt, &lastActivity, &st.TurnCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &st.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channel history: %w", err)
	}
	st.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	st.LastActivityAt, _ = time.Parse(time.RFC3339Nano, lastActivity)
	return &st, nil
}

// End finalizes a session and returns its summary. The update is
// guarded on ended_at IS NULL, so ending twice fails with ErrNotFound.
func (s *SQLiteStore) End(ctx context.Context, sessionID string) (*Summary, error) {
	endedAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?
		WHERE id = ? AND ended_at IS NULL
	`, endedAt.Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT channel_history, started_at,
		       COALESCE(summary, ''), COALESCE(key_topics, '[]'),
		       COALESCE(emotional_tone, '')
		FROM sessions WHERE id = ?
	`, sessionID)

	summary := &Summary{SessionID: sessionID, EndedAt: endedAt}
	var historyJSON, startedAt, topicsJSON string
	if err := row.Scan(&historyJSON, &startedAt, &summary.Summary, &topicsJSON, &summary.EmotionalTone); err != nil {
		return nil, fmt.Errorf("load ended session: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &summary.ChannelHistory); err != nil {
		return nil, fmt.Errorf("unmarshal channel history: %w", err)
	}
	_ = json.Unmarshal([]byte(topicsJSON), &summary.KeyTopics)
	summary.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	return summary, nil
}

// SetSummary records summarizer output on a session before it ends.
func (s *SQLiteStore) SetSummary(ctx context.Context, sessionID, summary string, keyTopics []string, tone string) error {
	topics, err := json.Marshal(keyTopics)
	if err != nil {
		return fmt.Errorf("marshal key topics: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET summary = ?, key_topics = ?, emotional_tone = ?
		WHERE id = ?
	`, summary, string(topics), tone, sessionID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var historyJSON, startedAt, lastActivity string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ActiveChannelID, &historyJSON,
		&startedAt, &lastActivity, &sess.TurnCount)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.ChannelHistory); err != nil {
		return nil, fmt.Errorf("unmarshal channel history: %w", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.LastActivityAt, _ = time.Parse(time.RFC3339Nano, lastActivity)
	return &sess, nil
}
