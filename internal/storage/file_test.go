package storage

import (
	"path/filepath"
	"testing"

	"assistant-bot/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	rec := domain.NewUserRecord(42)
	rec.MessageCount = 5
	rec.Messages = []domain.ChatMessage{{Role: "user", Content: "hi"}}
	rec.Slots[0].ThreadID = "thread_1"
	if err := store.PutUser(rec); err != nil {
		t.Fatalf("PutUser failed: %v", err)
	}

	// Reopen to prove it hit disk.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok, err := reopened.GetUser(42)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !ok {
		t.Fatal("record not found after reopen")
	}
	if got.MessageCount != 5 {
		t.Errorf("MessageCount = %d, want 5", got.MessageCount)
	}
	if got.Slots[0].ThreadID != "thread_1" {
		t.Errorf("ThreadID = %q", got.Slots[0].ThreadID)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("Messages = %v", got.Messages)
	}
}

func TestFileStoreMissingUser(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	_, ok, err := store.GetUser(1)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if ok {
		t.Error("unknown user should not be found")
	}
}

func TestFileStoreReturnsCopies(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	rec := domain.NewUserRecord(7)
	if err := store.PutUser(rec); err != nil {
		t.Fatalf("PutUser failed: %v", err)
	}

	a, _, _ := store.GetUser(7)
	a.MessageCount = 99

	b, _, _ := store.GetUser(7)
	if b.MessageCount != 0 {
		t.Error("mutating a returned record must not affect the store")
	}
}

func TestNewStoreDispatch(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewStore(Options{Type: "file", Path: filepath.Join(dir, "u.json")}); err != nil {
		t.Errorf("file store: %v", err)
	}
	if _, err := NewStore(Options{Type: "sqlite", Path: filepath.Join(dir, "u.db")}); err != nil {
		t.Errorf("sqlite store: %v", err)
	}
	if _, err := NewStore(Options{Type: "redis", Path: "x"}); err == nil {
		t.Error("unsupported type should error")
	}
	if _, err := NewStore(Options{Type: "file"}); err == nil {
		t.Error("missing path should error")
	}
}
