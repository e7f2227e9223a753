package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/domain"
	"assistant-bot/internal/user"
)

// ErrNoAssistant means neither the user nor the config binds an assistant
// to the active slot.
var ErrNoAssistant = errors.New("no assistant configured for this slot")

// Creator creates provider-side threads.
type Creator interface {
	CreateThread(ctx context.Context) (string, error)
}

// Manager owns the thread binding of each (user, slot) pair: lookup,
// lazy creation and reset. It also hands out the per-pair lock that keeps
// concurrent turns of the same user from racing on one thread.
type Manager struct {
	users    *user.Manager
	creator  Creator
	defaults [domain.AssistantSlots]string

	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	userID int64
	slot   int
}

// NewManager creates a thread manager. defaults holds the configured
// assistant id per slot; empty entries leave the slot unbound.
func NewManager(users *user.Manager, creator Creator, defaults [domain.AssistantSlots]string) *Manager {
	return &Manager{
		users:    users,
		creator:  creator,
		defaults: defaults,
		locks:    make(map[lockKey]*sync.Mutex),
	}
}

// Lock acquires the turn lock for the user's active slot and returns the
// release function.
func (m *Manager) Lock(userID int64, slot int) func() {
	key := lockKey{userID: userID, slot: slot}

	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Ensure returns the thread id of the user's active slot, creating and
// persisting one on first use. At most one thread is created per call.
func (m *Manager) Ensure(ctx context.Context, rec *domain.UserRecord) (string, error) {
	slot := rec.ActiveSlotState()
	if slot.ThreadID != "" {
		return slot.ThreadID, nil
	}

	threadID, err := m.creator.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread for user %d slot %d: %w", rec.UserID, rec.ActiveSlot, err)
	}

	slot.ThreadID = threadID
	if err := m.users.Save(rec.UserID); err != nil {
		return "", err
	}
	log.Infof("Created thread %s for user %d slot %d", threadID, rec.UserID, rec.ActiveSlot)
	return threadID, nil
}

// Reset drops the thread binding of the user's active slot. Resetting an
// unbound slot is a no-op.
func (m *Manager) Reset(rec *domain.UserRecord) error {
	slot := rec.ActiveSlotState()
	if slot.ThreadID == "" {
		return nil
	}

	log.Infof("Resetting thread %s for user %d slot %d", slot.ThreadID, rec.UserID, rec.ActiveSlot)
	slot.ThreadID = ""
	return m.users.Save(rec.UserID)
}

// AssistantID resolves the assistant bound to the user's active slot: a
// per-user override wins over the configured default.
func (m *Manager) AssistantID(rec *domain.UserRecord) (string, error) {
	slot := rec.ActiveSlotState()
	if slot.AssistantID != "" {
		return slot.AssistantID, nil
	}
	n := rec.ActiveSlot
	if n < 1 || n > domain.AssistantSlots {
		n = 1
	}
	if id := m.defaults[n-1]; id != "" {
		return id, nil
	}
	return "", ErrNoAssistant
}
