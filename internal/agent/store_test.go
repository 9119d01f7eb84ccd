package agent

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	if err := store.EnsureSession("agent:main:main", "main"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	// Idempotent.
	if err := store.EnsureSession("agent:main:main", "main"); err != nil {
		t.Fatalf("EnsureSession (again): %v", err)
	}
	if err := store.AppendMessage("agent:main:main", "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendMessage("agent:main:main", "assistant", "hi there"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions; want 1", len(sessions))
	}
	if sessions[0].Key != "agent:main:main" || sessions[0].MessageCount != 2 {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestStore_History(t *testing.T) {
	store := newTestStore(t)

	if err := store.EnsureSession("s1", "main"); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three"} {
		if err := store.AppendMessage("s1", "user", content); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := store.History("s1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages; want 2", len(messages))
	}
	// Most recent two, chronological order.
	if messages[0].Content != "two" || messages[1].Content != "three" {
		t.Errorf("messages = %+v", messages)
	}
}

func TestStore_HistoryUnknownSession(t *testing.T) {
	store := newTestStore(t)
	messages, err := store.History("no-such-session", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("got %d messages; want 0", len(messages))
	}
}
