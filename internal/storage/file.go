package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"assistant-bot/internal/domain"
)

// fileStore implements Store using a single JSON file.
type fileStore struct {
	mu sync.RWMutex

	filePath string
	users    map[int64]*domain.UserRecord
}

// NewFileStore creates a new file-based store, loading existing data if the
// file is present.
func NewFileStore(filePath string) (Store, error) {
	store := &fileStore{
		filePath: filePath,
		users:    make(map[int64]*domain.UserRecord),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load storage file: %w", err)
	}

	return store, nil
}

// load reads data from file.
func (f *fileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}

	var storedData struct {
		Users map[int64]*domain.UserRecord `json:"users"`
	}
	if err := json.Unmarshal(data, &storedData); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}

	f.users = storedData.Users
	if f.users == nil {
		f.users = make(map[int64]*domain.UserRecord)
	}
	return nil
}

// saveLocked writes data to file. Caller must hold the lock.
func (f *fileStore) saveLocked() error {
	storedData := struct {
		Users map[int64]*domain.UserRecord `json:"users"`
	}{
		Users: f.users,
	}

	data, err := json.MarshalIndent(storedData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	// Write to temporary file first, then rename (atomic replace).
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// GetUser returns a copy of the stored record so callers can mutate freely
// before an explicit PutUser.
func (f *fileStore) GetUser(userID int64) (*domain.UserRecord, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, exists := f.users[userID]
	if !exists {
		return nil, false, nil
	}
	clone := *rec
	clone.Messages = append([]domain.ChatMessage(nil), rec.Messages...)
	return &clone, true, nil
}

// PutUser creates or replaces a user record and flushes to disk.
func (f *fileStore) PutUser(rec *domain.UserRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *rec
	clone.Messages = append([]domain.ChatMessage(nil), rec.Messages...)
	f.users[rec.UserID] = &clone
	return f.saveLocked()
}

// ListUserIDs returns all stored user ids.
func (f *fileStore) ListUserIDs() ([]int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close implements Store.
func (f *fileStore) Close() error {
	return nil
}
