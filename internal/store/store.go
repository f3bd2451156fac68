// Package store implements SessionStore and HistoryStore: the relational
// session/message tables shared by the conversation engine, using the same
// raw database/sql + SQLite access pattern as the hybrid index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northlight-ai/corex/internal/datatypes"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	last_used_at DATETIME NOT NULL,
	compacted_summary TEXT NOT NULL DEFAULT '',
	research_mode INTEGER NOT NULL DEFAULT 0,
	research_source_mode TEXT NOT NULL DEFAULT 'auto',
	research_local_corpus_dirs TEXT NOT NULL DEFAULT '',
	defaults TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	ts DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ts);
`

// Store is the unified session/history backend. It uses whatever *sql.DB
// the caller passes in; corex opens a handle of its own on the SQLite file
// the hybrid index uses, so the two do not share a *sql.DB, and the index
// handle is the one that switches the file to WAL mode.
type Store struct {
	db *sql.DB
}

// Open migrates the session/message schema into an already-open database.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// FindingDeleter is implemented by the hybrid index, invoked during
// session cascade delete so vector-backed findings are dropped before the
// relational session/message rows, matching the cascade ordering
// invariant (vector deletes before local writes).
type FindingDeleter interface {
	DeleteSessionFindings(ctx context.Context, sessionID string) error
}

// CreateSession inserts a new session row. Research mode turns always
// auto-create a session if the caller didn't select one explicitly.
func (s *Store) CreateSession(ctx context.Context, name string, researchMode bool, sourceMode datatypes.ResearchSourceMode, now time.Time) (*datatypes.Session, error) {
	sess := &datatypes.Session{
		SessionID:          uuid.NewString(),
		Name:               name,
		CreatedAt:          now,
		LastUsedAt:         now,
		ResearchMode:       researchMode,
		ResearchSourceMode: sourceMode,
		Defaults:           map[string]string{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, name, created_at, last_used_at, research_mode, research_source_mode) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.Name, sess.CreatedAt, sess.LastUsedAt, boolToInt(sess.ResearchMode), string(sess.ResearchSourceMode))
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	var sess datatypes.Session
	var researchMode int
	var sourceMode, corpusDirs string
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, created_at, last_used_at, compacted_summary, research_mode, research_source_mode, research_local_corpus_dirs FROM sessions WHERE session_id = ?`,
		sessionID)
	if err := row.Scan(&sess.SessionID, &sess.Name, &sess.CreatedAt, &sess.LastUsedAt, &sess.CompactedSummary, &researchMode, &sourceMode, &corpusDirs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	sess.ResearchMode = researchMode != 0
	sess.ResearchSourceMode = datatypes.ResearchSourceMode(sourceMode)
	if corpusDirs != "" {
		sess.ResearchLocalCorpusDirs = strings.Split(corpusDirs, "\n")
	}
	return &sess, nil
}

// TouchSession advances LastUsedAt, used on every turn of a resumed session.
func (s *Store) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE session_id = ?`, now, sessionID)
	return err
}

// SetCompactedSummary persists the destructive-compaction summary that
// replaces dropped history for a session.
func (s *Store) SetCompactedSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET compacted_summary = ? WHERE session_id = ?`, summary, sessionID)
	return err
}

// AppendMessage inserts one message row, with token_count precomputed by
// the caller (the engine tracks token budgets closely enough that it
// already knows this).
func (s *Store) AppendMessage(ctx context.Context, msg datatypes.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, summary, token_count, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Summary, msg.TokenCount, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// History returns every message for a session in chronological order.
// sessionID == "" loads standalone (sessionless) history.
func (s *Store) History(ctx context.Context, sessionID string) ([]datatypes.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, summary, token_count, ts FROM messages WHERE session_id = ? ORDER BY ts ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Message
	for rows.Next() {
		var m datatypes.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Summary, &m.TokenCount, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceHistory overwrites a session's messages, used by destructive
// compaction to drop oldest non-system messages while keeping the system
// prompt and the last user turn.
func (s *Store) ReplaceHistory(ctx context.Context, sessionID string, kept []datatypes.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: clear history: %w", err)
	}
	for _, m := range kept {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, summary, token_count, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, m.Role, m.Content, m.Summary, m.TokenCount, m.Timestamp); err != nil {
			return fmt.Errorf("store: rewrite history: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteSession cascades a session delete: vector-backed findings first
// (via finder), then session-scoped messages, then the session row
// itself, matching the data model's cascade ordering.
func (s *Store) DeleteSession(ctx context.Context, sessionID string, finder FindingDeleter) error {
	if finder != nil {
		if err := finder.DeleteSessionFindings(ctx, sessionID); err != nil {
			return fmt.Errorf("store: cascade findings: %w", err)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return tx.Commit()
}
