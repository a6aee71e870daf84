package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
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
CREATE TABLE IF NOT EXISTS generation_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	fragments INTEGER NOT NULL,
	output_chars INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL CHECK(outcome IN ('complete','error','empty','disconnect')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_generation_entries_user_created ON generation_entries(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new generation entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.UserID == 0 {
		return errors.New("ledger record requires user id")
	}
	if entry.SessionID == "" {
		return errors.New("ledger record requires session id")
	}
	switch entry.Outcome {
	case ledger.OutcomeComplete, ledger.OutcomeError, ledger.OutcomeEmpty, ledger.OutcomeDisconnect:
	default:
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO generation_entries(user_id, session_id, model, fragments, output_chars, duration_ms, outcome, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.SessionID,
		entry.Model,
		entry.Fragments,
		entry.OutputChars,
		entry.DurationMs,
		string(entry.Outcome),
		created,
	)
	return err
}

// Summary returns aggregated generation activity for the given user.
func (s *Store) Summary(ctx context.Context, userID int64) (ledger.Summary, error) {
	if userID == 0 {
		return ledger.Summary{}, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) AS generations,
	COALESCE(SUM(fragments), 0) AS fragments,
	COALESCE(SUM(output_chars), 0) AS output_chars
FROM generation_entries
WHERE user_id = ?`, userID)

	var generations, fragments, outputChars sql.NullInt64
	if err := row.Scan(&generations, &fragments, &outputChars); err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summary{
		Generations: generations.Int64,
		Fragments:   fragments.Int64,
		OutputChars: outputChars.Int64,
	}, nil
}

// ListRecent returns the latest entries for a user.
func (s *Store) ListRecent(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	if userID == 0 {
		return nil, errors.New("user id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, session_id, model, fragments, output_chars, duration_ms, outcome, created_at
FROM generation_entries
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.Model, &e.Fragments, &e.OutputChars, &e.DurationMs, &outcome, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
