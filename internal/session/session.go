// Package session persists page chat sessions and their messages in SQLite.
// A session belongs to one page and exactly one of a signed-in user or a
// guest; each successful question adds a user message and an assistant
// message to it. Messages are append-only.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/pagerag/internal/errs"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser is a question asked by the learner.
	RoleUser Role = "USER"
	// RoleAssistant is a generated answer.
	RoleAssistant Role = "ASSISTANT"
)

// DefaultHistoryLimit is used when History is called with limit <= 0.
const DefaultHistoryLimit = 50

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one chat thread between a learner and a page.
type Session struct {
	ID          string    `json:"id"`
	PageID      string    `json:"pageId"`
	UserID      string    `json:"userId,omitempty"`
	GuestID     string    `json:"guestId,omitempty"`
	SessionName string    `json:"sessionName"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is a single persisted chat message.
type Message struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	RetrievedChunks []string       `json:"retrievedChunks,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Turn is one question and its answer, written together by AppendTurn.
type Turn struct {
	Query           string
	Answer          string
	RetrievedChunks []string
	Confidence      float64
	// Metadata is stored on the assistant message.
	Metadata map[string]any
}

// Store is a SQLite-backed session manager. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns ~/.pagerag/sessions.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".pagerag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("session: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// Open opens (or creates) a Store at path and runs the schema migration.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Persistence("session.open", fmt.Errorf("%s: %w", path, err))
	}
	// Single connection: serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithClock replaces the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id           TEXT    PRIMARY KEY,
    page_id      TEXT    NOT NULL,
    user_id      TEXT    NOT NULL DEFAULT '',
    guest_id     TEXT    NOT NULL DEFAULT '',
    session_name TEXT    NOT NULL,
    is_active    INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_owner
    ON chat_sessions (page_id, user_id, guest_id, is_active);

CREATE TABLE IF NOT EXISTS chat_messages (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT    NOT NULL UNIQUE,
    session_id       TEXT    NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role             TEXT    NOT NULL CHECK(role IN ('USER','ASSISTANT')),
    content          TEXT    NOT NULL,
    retrieved_chunks TEXT,
    confidence       REAL,
    metadata         TEXT,
    created_at       INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created
    ON chat_messages (session_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return errs.Persistence("session.migrate", err)
	}
	return nil
}

// GetOrCreateSession returns the active session of the page for the given
// owner, creating one if none exists. Exactly one of userID and guestID must
// be set.
//
// Lookup and creation are not atomic: two concurrent first questions from the
// same owner may each create a session. Both remain usable.
func (s *Store) GetOrCreateSession(ctx context.Context, pageID, userID, guestID string) (string, error) {
	const op = "session.get_or_create"

	userID, guestID = strings.TrimSpace(userID), strings.TrimSpace(guestID)
	if (userID == "") == (guestID == "") {
		return "", errs.Configuration(op, errors.New("exactly one of user id and guest id must be set"))
	}
	if strings.TrimSpace(pageID) == "" {
		return "", errs.Configuration(op, errors.New("page id is empty"))
	}

	const lookup = `
SELECT id FROM chat_sessions
WHERE  page_id = ? AND user_id = ? AND guest_id = ? AND is_active = 1
ORDER  BY created_at ASC
LIMIT  1`
	var id string
	err := s.db.QueryRowContext(ctx, lookup, pageID, userID, guestID).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", errs.Persistence(op, err)
	}

	id = uuid.NewString()
	const insert = `
INSERT INTO chat_sessions (id, page_id, user_id, guest_id, session_name, is_active, created_at)
VALUES (?, ?, ?, ?, ?, 1, ?)`
	name := "Page " + pageID + " chat"
	if _, err := s.db.ExecContext(ctx, insert, id, pageID, userID, guestID, name, s.now().UnixNano()); err != nil {
		return "", errs.Persistence(op, err)
	}
	return id, nil
}

// Session returns the session with the given id.
func (s *Store) Session(ctx context.Context, sessionID string) (*Session, error) {
	const q = `
SELECT id, page_id, user_id, guest_id, session_name, is_active, created_at
FROM   chat_sessions WHERE id = ?`
	var (
		sess   Session
		active int
		ts     int64
	)
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(
		&sess.ID, &sess.PageID, &sess.UserID, &sess.GuestID, &sess.SessionName, &active, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Persistence("session.get", err)
	}
	sess.IsActive = active == 1
	sess.CreatedAt = time.Unix(0, ts)
	return &sess, nil
}

// AppendTurn writes the user question and the assistant answer of one turn
// in a single transaction.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	const op = "session.append_turn"

	chunks, err := json.Marshal(turn.RetrievedChunks)
	if err != nil {
		return errs.Persistence(op, fmt.Errorf("encode retrieved chunks: %w", err))
	}
	var meta []byte
	if len(turn.Metadata) > 0 {
		if meta, err = json.Marshal(turn.Metadata); err != nil {
			return errs.Persistence(op, fmt.Errorf("encode metadata: %w", err))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Persistence(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session: %s: %w", sessionID, ErrNotFound)
		}
		return errs.Persistence(op, err)
	}

	const insert = `
INSERT INTO chat_messages (id, session_id, role, content, retrieved_chunks, confidence, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, insert,
		uuid.NewString(), sessionID, string(RoleUser), turn.Query, nil, nil, nil, now); err != nil {
		return errs.Persistence(op, err)
	}
	if _, err := tx.ExecContext(ctx, insert,
		uuid.NewString(), sessionID, string(RoleAssistant), turn.Answer, string(chunks), turn.Confidence, nullString(meta), now); err != nil {
		return errs.Persistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Persistence(op, err)
	}
	return nil
}

// History returns the newest limit messages of the session ordered oldest
// first. A limit <= 0 uses DefaultHistoryLimit.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	const op = "session.history"
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	const q = `
SELECT id, role, content, retrieved_chunks, confidence, metadata, created_at FROM (
    SELECT seq, id, role, content, retrieved_chunks, confidence, metadata, created_at
    FROM   chat_messages
    WHERE  session_id = ?
    ORDER  BY created_at DESC, seq DESC
    LIMIT  ?
) ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, errs.Persistence(op, err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var (
			m      Message
			role   string
			chunks sql.NullString
			conf   sql.NullFloat64
			meta   sql.NullString
			ts     int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &chunks, &conf, &meta, &ts); err != nil {
			return nil, errs.Persistence(op, fmt.Errorf("scan: %w", err))
		}
		m.SessionID = sessionID
		m.Role = Role(role)
		m.CreatedAt = time.Unix(0, ts)
		if conf.Valid {
			c := conf.Float64
			m.Confidence = &c
		}
		if chunks.Valid && chunks.String != "" {
			if err := json.Unmarshal([]byte(chunks.String), &m.RetrievedChunks); err != nil {
				return nil, errs.Persistence(op, fmt.Errorf("decode retrieved chunks: %w", err))
			}
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, errs.Persistence(op, fmt.Errorf("decode metadata: %w", err))
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence(op, err)
	}
	return msgs, nil
}

// Name identifies the store in readiness output.
func (s *Store) Name() string { return "session" }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
