// Package chatstore persists chat sessions and their messages.
package chatstore

import (
	"context"
	"time"
)

// Role tags a message as coming from the user or the model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session groups the messages of one conversation.
type Session struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Message is one turn of a conversation. Messages are immutable once written;
// they only disappear when their session is deleted.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines persistence behaviour for sessions and messages across
// SQLite/Postgres backends.
//
// SessionByID is owner-scoped and returns (nil, nil) when the session does not
// exist or belongs to another user. AppendMessage bumps the session's
// last-activity timestamp inside the same transaction as the insert.
type Store interface {
	CreateSession(ctx context.Context, userID int64, title string) (*Session, error)
	SessionByID(ctx context.Context, sessionID string, userID int64) (*Session, error)
	SessionsByUser(ctx context.Context, userID int64) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID string, userID int64) (bool, error)
	AppendMessage(ctx context.Context, sessionID string, role Role, content string) (*Message, error)
	MessagesBySession(ctx context.Context, sessionID string) ([]Message, error)
	Close() error
}
