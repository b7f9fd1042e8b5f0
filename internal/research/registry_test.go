package research

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Create(ctx, "what is rust", "t-1", "r-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.ID) != 8 {
		t.Fatalf("expected 8-char session id, got %q", sess.ID)
	}
	if sess.Status != SessionRunning {
		t.Fatalf("new session must be running, got %s", sess.Status)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ThreadID != "t-1" || got.RunID != "r-1" || got.Question != "what is rust" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStoreListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a, _ := store.Create(ctx, "a", "t-a", "r-a")
	b, _ := store.Create(ctx, "b", "t-b", "r-b")
	c, _ := store.Create(ctx, "c", "t-c", "r-c")

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if list[i].ID != want {
			t.Fatalf("insertion order broken at %d: got %s want %s", i, list[i].ID, want)
		}
	}

	if err := store.Remove(ctx, b.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	list, _ = store.List(ctx)
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != c.ID {
		t.Fatalf("unexpected list after remove: %+v", list)
	}
}

func TestMemoryStoreMostRecent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.MostRecent(ctx); !errors.Is(err, ErrNoSessions) {
		t.Fatalf("expected ErrNoSessions on empty registry, got %v", err)
	}

	old, _ := store.Create(ctx, "old", "t-1", "r-1")
	fresh, _ := store.Create(ctx, "fresh", "t-2", "r-2")

	// Make the ordering unambiguous.
	o, _ := store.Get(ctx, old.ID)
	o.StartedAt = time.Now().Add(-time.Hour)
	_ = store.Update(ctx, o)

	got, err := store.MostRecent(ctx)
	if err != nil {
		t.Fatalf("MostRecent: %v", err)
	}
	if got.ID != fresh.ID {
		t.Fatalf("expected %s, got %s", fresh.ID, got.ID)
	}
}

func TestMemoryStoreUpdateIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sess, _ := store.Create(ctx, "q", "t-1", "r-1")

	// Mutating a returned record must not leak into the registry.
	sess.Status = SessionError
	got, _ := store.Get(ctx, sess.ID)
	if got.Status != SessionRunning {
		t.Fatal("registry record mutated through a returned copy")
	}

	sess.Status = SessionCompleted
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = store.Get(ctx, sess.ID)
	if got.Status != SessionCompleted {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestMemoryStoreRemoveUnknownIsNoop(t *testing.T) {
	if err := NewMemoryStore().Remove(context.Background(), "missing"); err != nil {
		t.Fatalf("removing unknown id should not error: %v", err)
	}
}
