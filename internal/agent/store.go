package agent

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const defaultHistoryLimit = 100

// Store persists sessions and their transcripts in SQLite. Stored at
// <dir>/sessions.db, decoupled from config and logs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (and if needed creates) the session database in dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL REFERENCES sessions(key),
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSession creates the session row if absent and bumps updated_at.
func (s *Store) EnsureSession(key, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
INSERT INTO sessions (key, agent_id, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, agentID, now, now)
	if err != nil {
		return fmt.Errorf("ensure session %s: %w", key, err)
	}
	return nil
}

// AppendMessage records one transcript entry.
func (s *Store) AppendMessage(sessionKey, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO messages (session_key, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionKey, role, content, now)
	if err != nil {
		return fmt.Errorf("append message to %s: %w", sessionKey, err)
	}
	_, err = s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE key = ?`, now, sessionKey)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionKey, err)
	}
	return nil
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
SELECT s.key, s.agent_id, s.updated_at,
       (SELECT COUNT(*) FROM messages m WHERE m.session_key = s.key)
FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.Key, &sum.AgentID, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// History returns the last limit messages of a session in chronological
// order. An unknown session yields an empty transcript.
func (s *Store) History(sessionKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
SELECT role, content, created_at FROM (
	SELECT id, role, content, created_at FROM messages
	WHERE session_key = ? ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", sessionKey, err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
