package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

// Store implements chatstore.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ chatstore.Store = (*Store)(nil)

// New opens a PostgreSQL-backed chat store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
	user_id BIGINT NOT NULL,
	title TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5)`,
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
WHERE id = $1 AND user_id = $2`, sessionID, userID)

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
WHERE user_id = $1
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

// DeleteSession removes the session (messages cascade) when owned by the user.
func (s *Store) DeleteSession(ctx context.Context, sessionID string, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
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
	m := &chatstore.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO chat_messages(session_id, role, content, timestamp)
VALUES($1, $2, $3, $4) RETURNING id`,
		sessionID, string(role), content, now).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chat_sessions SET last_updated_at = $1 WHERE id = $2`, now, sessionID); err != nil {
		return nil, fmt.Errorf("bump session activity: %w", err)
	}
	return m, nil
}

// MessagesBySession returns the session's messages in chronological order.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]chatstore.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, role, content, timestamp
FROM chat_messages
WHERE session_id = $1
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
