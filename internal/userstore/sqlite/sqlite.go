package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
)

// Store implements userstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ userstore.Store = (*Store)(nil)

// New opens (or creates) a SQLite user store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create user db directory: %w", err)
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
CREATE TABLE IF NOT EXISTS chat_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
	res, err := s.db.ExecContext(ctx, `INSERT INTO chat_users(email, hashed_password) VALUES(?, ?)`, email, hashedPassword)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, userstore.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &userstore.User{
		ID:             id,
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// FindByEmail returns the user matching the email, if present.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT id, email, hashed_password, created_at FROM chat_users WHERE email = ? LIMIT 1`, email)
	return scanUser(row)
}

// FindByID returns the user with the given id, if present.
func (s *Store) FindByID(ctx context.Context, id int64) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, hashed_password, created_at FROM chat_users WHERE id = ? LIMIT 1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*userstore.User, error) {
	var u userstore.User
	var createdAt time.Time
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = createdAt
	return &u, nil
}
