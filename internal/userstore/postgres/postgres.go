// Package postgres provides a PostgreSQL implementation of the user store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
)

// Store implements userstore.Store for PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ userstore.Store = (*Store)(nil)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New creates a new PostgreSQL user store with the given DSN.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_users_email ON chat_users(email);
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

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new user and returns it with the assigned id.
func (s *Store) Create(ctx context.Context, email, hashedPassword string) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var u userstore.User
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_users(email, hashed_password) VALUES($1, $2) RETURNING id, email, hashed_password, created_at`,
		email, hashedPassword,
	).Scan(&u.ID, &u.Email, &u.HashedPassword, &u.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, userstore.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// FindByEmail returns the user matching the email, if present.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT id, email, hashed_password, created_at FROM chat_users WHERE email = $1 LIMIT 1`, email)
	return scanUser(row)
}

// FindByID returns the user with the given id, if present.
func (s *Store) FindByID(ctx context.Context, id int64) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, hashed_password, created_at FROM chat_users WHERE id = $1 LIMIT 1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*userstore.User, error) {
	var u userstore.User
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
