package storage

import (
	"assistant-bot/internal/domain"
)

// Store defines the interface for durable user-record storage.
type Store interface {
	// GetUser returns the stored record for a user, or (nil, false, nil)
	// when the user has never been saved.
	GetUser(userID int64) (*domain.UserRecord, bool, error)

	// PutUser creates or replaces the record for rec.UserID.
	PutUser(rec *domain.UserRecord) error

	// ListUserIDs returns the ids of every stored user.
	ListUserIDs() ([]int64, error)

	// Maintenance
	Close() error
}

// Options contains configuration options for storage backends.
type Options struct {
	Type string // "file" or "sqlite"
	Path string // path of the JSON file or SQLite database
}
