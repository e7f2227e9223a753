package user

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/domain"
	"assistant-bot/internal/storage"
)

// cacheSize bounds the number of user records kept in memory.
const cacheSize = 1000

// Manager is the single accessor for user records. Reads go cache-then-store
// and populate the cache; handlers mutate the cached record in place and
// call Save to flush it to durable storage. A crash between a mutation and
// Save loses that turn's state change.
type Manager struct {
	mu    sync.Mutex
	store storage.Store
	cache *lru.Cache[int64, *domain.UserRecord]
}

// NewManager creates a user manager over the given store.
func NewManager(store storage.Store) (*Manager, error) {
	cache, err := lru.New[int64, *domain.UserRecord](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}
	return &Manager{store: store, cache: cache}, nil
}

// GetOrCreate returns the cached record for a user, loading it from the
// store or default-initializing it on first contact. The returned pointer
// stays the canonical in-memory record until it is evicted.
func (m *Manager) GetOrCreate(userID int64) (*domain.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.cache.Get(userID); ok {
		return rec, nil
	}

	rec, exists, err := m.store.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !exists {
		rec = domain.NewUserRecord(userID)
		log.Infof("Created default record for new user %d", userID)
	}
	normalize(rec)

	m.cache.Add(userID, rec)
	return rec, nil
}

// Save flushes the cached record for a user to durable storage. It is a
// no-op when nothing is cached for that user.
func (m *Manager) Save(userID int64) error {
	m.mu.Lock()
	rec, ok := m.cache.Get(userID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.store.PutUser(rec); err != nil {
		return fmt.Errorf("save user %d: %w", userID, err)
	}
	return nil
}

// ListUserIDs returns the ids of every stored user.
func (m *Manager) ListUserIDs() ([]int64, error) {
	return m.store.ListUserIDs()
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// normalize repairs records loaded from older snapshots.
func normalize(rec *domain.UserRecord) {
	if rec.HistoryChars <= 0 {
		rec.HistoryChars = domain.DefaultHistoryChars
	}
	if rec.ActiveSlot < 1 || rec.ActiveSlot > domain.AssistantSlots {
		rec.ActiveSlot = 1
	}
	if rec.ImageQuality == "" {
		rec.ImageQuality = "standard"
	}
	if rec.ImageSize == "" {
		rec.ImageSize = "1024x1024"
	}
	if _, ok := domain.LookupModel(rec.Model); !ok {
		domain.ApplyModel(rec, domain.DefaultModel)
	}
}
