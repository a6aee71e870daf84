package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/ledger"
)

func TestStoreRecordAndSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	record := func(outcome ledger.Outcome, fragments, chars int64) {
		if err := store.Record(ctx, ledger.Entry{
			UserID:      42,
			SessionID:   "sess-1",
			Model:       "deepseek-r1-distill",
			Fragments:   fragments,
			OutputChars: chars,
			DurationMs:  1200,
			Outcome:     outcome,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record(ledger.OutcomeComplete, 120, 480)
	record(ledger.OutcomeError, 30, 95)

	summary, err := store.Summary(ctx, 42)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Generations != 2 {
		t.Fatalf("expected 2 generations, got %d", summary.Generations)
	}
	if summary.Fragments != 150 {
		t.Fatalf("expected 150 fragments, got %d", summary.Fragments)
	}
	if summary.OutputChars != 575 {
		t.Fatalf("expected 575 output chars, got %d", summary.OutputChars)
	}
}

func TestListRecentOrdering(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	entries := []ledger.Entry{
		{UserID: 7, SessionID: "s1", Model: "m", Fragments: 1, Outcome: ledger.OutcomeComplete, CreatedAt: time.Now().Add(-2 * time.Hour)},
		{UserID: 7, SessionID: "s2", Model: "m", Fragments: 2, Outcome: ledger.OutcomeComplete, CreatedAt: time.Now().Add(-1 * time.Hour)},
		{UserID: 7, SessionID: "s3", Model: "m", Fragments: 3, Outcome: ledger.OutcomeEmpty, CreatedAt: time.Now()},
	}

	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 7, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Fragments != 3 || recent[1].Fragments != 2 {
		t.Fatalf("unexpected ordering %#v", recent)
	}
}

func TestRecordValidation(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	err = store.Record(context.Background(), ledger.Entry{UserID: 0, SessionID: "s", Outcome: ledger.OutcomeComplete})
	if err == nil {
		t.Fatalf("expected error for missing user id")
	}

	err = store.Record(context.Background(), ledger.Entry{UserID: 1, SessionID: "", Outcome: ledger.OutcomeComplete})
	if err == nil {
		t.Fatalf("expected error for missing session id")
	}

	err = store.Record(context.Background(), ledger.Entry{UserID: 1, SessionID: "s", Outcome: "unexpected"})
	if err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}
