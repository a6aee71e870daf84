// Package ledger records one usage entry per generation run so operators can
// see what the model has been doing without trawling logs.
package ledger

import (
	"context"
	"time"
)

// Outcome classifies how a generation run ended.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeError      Outcome = "error"
	OutcomeEmpty      Outcome = "empty"
	OutcomeDisconnect Outcome = "disconnect"
)

// Entry represents a single generation run written to the local ledger.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Model       string    `json:"model"`
	Fragments   int64     `json:"fragments"`
	OutputChars int64     `json:"output_chars"`
	DurationMs  int64     `json:"duration_ms"`
	Outcome     Outcome   `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary aggregates generation activity for a user.
type Summary struct {
	Generations int64 `json:"generations"`
	Fragments   int64 `json:"fragments"`
	OutputChars int64 `json:"output_chars"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID int64) (Summary, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]Entry, error)
	Close() error
}
