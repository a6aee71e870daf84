package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

// Store implements chatstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ chatstore.Store = (*Store)(nil)

// New opens (or creates) a SQLite chat store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create chat db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	title TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id),
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, last_updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, timestamp);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session owned by the user.
func (s *Store) CreateSession(ctx context.Context, userID int64, title string) (*chatstore.Session, error) {
	if userID == 0 {
		return nil, errors.New("chatstore: session requires user id")
	}
	now := time.Now().UTC()
	sess := &chatstore.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_sessions(id, user_id, title, created_at, last_updated_at)
VALUES(?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt, sess.LastUpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// SessionByID returns the session when it exists and belongs to the user.
func (s *Store) SessionByID(ctx context.Context, sessionID string, userID int64) (*chatstore.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, title, created_at, last_updated_at
FROM chat_sessions
WHERE id = ? AND user_id = ?`, sessionID, userID)

	var sess chatstore.Session
	var title sql.NullString
	if err := row.Scan(&sess.ID, &sess.UserID, &title, &sess.CreatedAt, &sess.LastUpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sess.Title = title.String
	return &sess, nil
}

// SessionsByUser lists the user's sessions, most recently active first.
func (s *Store) SessionsByUser(ctx context.Context, userID int64) ([]chatstore.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, created_at, last_updated_at
FROM chat_sessions
WHERE user_id = ?
ORDER BY last_updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []chatstore.Session
	for rows.Next() {
		var sess chatstore.Session
		var title sql.NullString
		if err := rows.Scan(&sess.ID, &sess.UserID, &title, &sess.CreatedAt, &sess.LastUpdatedAt); err != nil {
			return nil, err
		}
		sess.Title = title.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes the session and its messages when owned by the user.
func (s *Store) DeleteSession(ctx context.Context, sessionID string, userID int64) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// AppendMessage inserts a message and bumps the session's last-activity
// timestamp in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role chatstore.Role, content string) (msg *chatstore.Message, err error) {
	if role != chatstore.RoleUser && role != chatstore.RoleAssistant {
		return nil, fmt.Errorf("chatstore: invalid role %q", role)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages(session_id, role, content, timestamp)
VALUES(?, ?, ?, ?)`, sessionID, string(role), content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chat_sessions SET last_updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("bump session activity: %w", err)
	}

	return &chatstore.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}, nil
}

// MessagesBySession returns the session's messages in chronological order.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]chatstore.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, role, content, timestamp
FROM chat_messages
WHERE session_id = ?
ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chatstore.Message
	for rows.Next() {
		var m chatstore.Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = chatstore.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
