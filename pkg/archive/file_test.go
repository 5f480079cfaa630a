package archive

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestExchange(sessionID, query string) *Exchange {
	return &Exchange{
		ID:           "msg-" + query,
		SessionID:    sessionID,
		Query:        query,
		Answer:       "answer to " + query,
		QualityScore: 0.8,
		TraceID:      "trace-" + query,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestFileBackend_SaveAndLoadExchanges(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	if err := backend.SaveExchange(ctx, newTestExchange("sess-1", "first")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}
	if err := backend.SaveExchange(ctx, newTestExchange("sess-1", "second")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}

	exchanges, err := backend.LoadExchanges(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadExchanges failed: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("len(exchanges) = %d, want 2", len(exchanges))
	}
	if exchanges[0].Query != "first" || exchanges[1].Query != "second" {
		t.Error("exchanges out of order")
	}
	if exchanges[0].Answer != "answer to first" {
		t.Errorf("Answer = %q, want %q", exchanges[0].Answer, "answer to first")
	}
	if exchanges[0].TraceID != "trace-first" {
		t.Errorf("TraceID = %q, want %q", exchanges[0].TraceID, "trace-first")
	}
}

func TestFileBackend_LoadMissingSession(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	_, err = backend.LoadExchanges(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadExchanges error = %v, want ErrSessionNotFound", err)
	}
}

func TestFileBackend_ListSessions(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	if err := backend.SaveExchange(ctx, newTestExchange("sess-a", "q1")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}
	if err := backend.SaveExchange(ctx, newTestExchange("sess-a", "q2")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}
	if err := backend.SaveExchange(ctx, newTestExchange("sess-b", "q3")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}

	sessions, err := backend.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}

	counts := map[string]int{}
	for _, s := range sessions {
		counts[s.ID] = s.ExchangeCount
	}
	if counts["sess-a"] != 2 {
		t.Errorf("sess-a ExchangeCount = %d, want 2", counts["sess-a"])
	}
	if counts["sess-b"] != 1 {
		t.Errorf("sess-b ExchangeCount = %d, want 1", counts["sess-b"])
	}
}

func TestFileBackend_DeleteSession(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	if err := backend.SaveExchange(ctx, newTestExchange("sess-1", "q")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}

	if err := backend.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := backend.LoadExchanges(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LoadExchanges after delete error = %v, want ErrSessionNotFound", err)
	}
	sessions, err := backend.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("len(sessions) = %d after delete, want 0", len(sessions))
	}

	if err := backend.DeleteSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("DeleteSession on missing session error = %v, want ErrSessionNotFound", err)
	}
}

func TestFileBackend_RejectsUnsafeSessionIDs(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	bad := []string{"../escape", "a/b", `a\b`, ""}
	for _, id := range bad {
		if err := backend.SaveExchange(ctx, newTestExchange(id, "q")); err == nil {
			t.Errorf("SaveExchange(%q) should fail", id)
		}
		if _, err := backend.LoadExchanges(ctx, id); err == nil {
			t.Errorf("LoadExchanges(%q) should fail", id)
		}
	}
}

func TestFileBackend_ClosedBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := backend.SaveExchange(ctx, newTestExchange("s", "q")); !errors.Is(err, ErrArchiveClosed) {
		t.Errorf("SaveExchange error = %v, want ErrArchiveClosed", err)
	}
	if _, err := backend.LoadExchanges(ctx, "s"); !errors.Is(err, ErrArchiveClosed) {
		t.Errorf("LoadExchanges error = %v, want ErrArchiveClosed", err)
	}
}

func TestPruneBefore(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	ctx := context.Background()

	if err := backend.SaveExchange(ctx, newTestExchange("old-sess", "old")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}
	if err := backend.SaveExchange(ctx, newTestExchange("new-sess", "new")); err != nil {
		t.Fatalf("SaveExchange failed: %v", err)
	}

	// Backdate the old session in the index.
	backend.mu.Lock()
	index, err := backend.loadIndex()
	if err != nil {
		backend.mu.Unlock()
		t.Fatalf("loadIndex failed: %v", err)
	}
	index["old-sess"].UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := backend.saveIndex(index); err != nil {
		backend.mu.Unlock()
		t.Fatalf("saveIndex failed: %v", err)
	}
	backend.mu.Unlock()

	pruned, err := PruneBefore(ctx, backend, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if _, err := backend.LoadExchanges(ctx, "old-sess"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("old session should be gone after pruning")
	}
	if _, err := backend.LoadExchanges(ctx, "new-sess"); err != nil {
		t.Errorf("new session should survive pruning, got %v", err)
	}
}
