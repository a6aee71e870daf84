package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionOwnerScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, 1, "first question")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected generated session id")
	}

	got, err := store.SessionByID(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if got == nil || got.Title != "first question" {
		t.Fatalf("unexpected session %#v", got)
	}

	other, err := store.SessionByID(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("SessionByID other user: %v", err)
	}
	if other != nil {
		t.Fatalf("expected nil for other user's lookup, got %#v", other)
	}

	if _, err := store.CreateSession(ctx, 0, "no owner"); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}

func TestAppendBumpsActivityOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, 5, "older")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := store.CreateSession(ctx, 5, "newer")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Appending to the older session moves it back to the top.
	if _, err := store.AppendMessage(ctx, first.ID, chatstore.RoleUser, "hello again"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sessions, err := store.SessionsByUser(ctx, 5)
	if err != nil {
		t.Fatalf("SessionsByUser: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.ID || sessions[1].ID != second.ID {
		t.Fatalf("unexpected ordering: %s then %s", sessions[0].ID, sessions[1].ID)
	}
	if !sessions[0].LastUpdatedAt.After(sessions[0].CreatedAt) {
		t.Fatalf("expected last activity after creation, got %v / %v", sessions[0].LastUpdatedAt, sessions[0].CreatedAt)
	}
}

func TestMessagesChronological(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, 9, "chat")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	turns := []struct {
		role    chatstore.Role
		content string
	}{
		{chatstore.RoleUser, "What is Go?"},
		{chatstore.RoleAssistant, "A programming language."},
		{chatstore.RoleUser, "Who made it?"},
	}
	for _, turn := range turns {
		if _, err := store.AppendMessage(ctx, sess.ID, turn.role, turn.content); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	messages, err := store.MessagesBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	if len(messages) != len(turns) {
		t.Fatalf("expected %d messages, got %d", len(turns), len(messages))
	}
	for i, turn := range turns {
		if messages[i].Role != turn.role || messages[i].Content != turn.content {
			t.Fatalf("message %d: got %s %q", i, messages[i].Role, messages[i].Content)
		}
	}

	if _, err := store.AppendMessage(ctx, sess.ID, chatstore.Role("system"), "nope"); err == nil {
		t.Fatalf("expected error for invalid role")
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, 3, "to delete")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, chatstore.RoleUser, "bye"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	deleted, err := store.DeleteSession(ctx, sess.ID, 99)
	if err != nil {
		t.Fatalf("DeleteSession other user: %v", err)
	}
	if deleted {
		t.Fatalf("expected no-op delete for other user")
	}

	deleted, err = store.DeleteSession(ctx, sess.ID, 3)
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report success")
	}

	messages, err := store.MessagesBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages after delete, got %d", len(messages))
	}

	deleted, err = store.DeleteSession(ctx, sess.ID, 3)
	if err != nil {
		t.Fatalf("DeleteSession second call: %v", err)
	}
	if deleted {
		t.Fatalf("expected second delete to report false")
	}
}
