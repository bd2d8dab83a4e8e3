package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinex/anemoi/llm"
)

func TestSqliteStorageSaveAndLoad(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	messages := []llm.ChatMessage{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", loaded[0].Content)
	}
	if loaded[1].Content != "Hi there" {
		t.Errorf("expected 'Hi there', got '%s'", loaded[1].Content)
	}
}

func TestSqliteStorageLoadNonexistentSession(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	loaded, err := storage.Load(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 0 {
		t.Errorf("expected empty slice, got %d messages", len(loaded))
	}
}

func TestSqliteStorageDeleteSession(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	messages := []llm.ChatMessage{
		{Role: "user", Content: "Test"},
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exists, err := storage.Exists(ctx, "test-session")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected session to exist")
	}

	if err := storage.Delete(ctx, "test-session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = storage.Exists(ctx, "test-session")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected session to not exist after deletion")
	}
}

func TestSqliteStorageListSessions(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	msg := []llm.ChatMessage{
		{Role: "user", Content: "Test"},
	}

	if err := storage.Save(ctx, "session-1", msg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := storage.Save(ctx, "session-2", msg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestSqliteStorageOverwriteSession(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	messages1 := []llm.ChatMessage{
		{Role: "user", Content: "First"},
	}

	messages2 := []llm.ChatMessage{
		{Role: "user", Content: "Second"},
		{Role: "assistant", Content: "Response"},
	}

	if err := storage.Save(ctx, "test-session", messages1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := storage.Save(ctx, "test-session", messages2); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Second" {
		t.Errorf("expected 'Second', got '%s'", loaded[0].Content)
	}
}

func TestSqliteStoragePreservesToolCalls(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	messages := []llm.ChatMessage{
		llm.SystemMessage("system"),
		llm.AssistantToolCallMessage("", []llm.ToolCall{
			{ID: "call-1", Name: "fetch_url", Arguments: []byte(`{"url":"https://example.com"}`)},
		}),
		llm.ToolResultMessage("call-1", "fetch_url", "page body"),
	}

	if err := storage.Save(ctx, "tools", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := storage.Load(ctx, "tools")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}
	if len(loaded[1].ToolCalls) != 1 || loaded[1].ToolCalls[0].Name != "fetch_url" {
		t.Errorf("tool calls not restored: %+v", loaded[1])
	}
	if string(loaded[1].ToolCalls[0].Arguments) != `{"url":"https://example.com"}` {
		t.Errorf("arguments = %s", loaded[1].ToolCalls[0].Arguments)
	}
	if loaded[2].ToolCallID != "call-1" || loaded[2].Name != "fetch_url" {
		t.Errorf("tool result not restored: %+v", loaded[2])
	}
}

func TestSqliteStorageTurns(t *testing.T) {
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := []TurnRecord{
		{ID: "t1", SessionID: "s", Agent: "web", Reason: "completed", Iterations: 2, ModelCalls: 3, PromptTokens: 100, CompletionTokens: 20, CreatedAt: base},
		{ID: "t2", SessionID: "s", Agent: "web", Reason: "max_iteration", Iterations: 10, ModelCalls: 16, Forced: true, CreatedAt: base.Add(time.Minute)},
	}
	for _, rec := range records {
		if err := storage.RecordTurn(ctx, rec); err != nil {
			t.Fatalf("RecordTurn failed: %v", err)
		}
	}

	turns, err := storage.ListTurns(ctx, "s")
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if !turns[0].CreatedAt.Equal(base) {
		t.Errorf("turn 0 created at %v, want %v", turns[0].CreatedAt, base)
	}
	got, want := turns[0], records[0]
	got.CreatedAt, want.CreatedAt = time.Time{}, time.Time{}
	if got != want {
		t.Errorf("turn 0 = %+v, want %+v", got, want)
	}
	if !turns[1].Forced || turns[1].Reason != "max_iteration" {
		t.Errorf("turn 1 = %+v", turns[1])
	}

	// A turn record alone makes the session exist.
	exists, err := storage.Exists(ctx, "s")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v", exists, err)
	}

	if err := storage.Delete(ctx, "s"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	turns, err = storage.ListTurns(ctx, "s")
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected turns to cascade on delete, got %d", len(turns))
	}
}

func TestOpenSqliteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "anemoi.db")
	storage, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	defer storage.Close()

	if err := storage.Save(context.Background(), "s", []llm.ChatMessage{llm.UserMessage("hi")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}
