package storage

import (
	"fmt"
)

// NewStore creates a new store based on options.
func NewStore(opts Options) (Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	switch opts.Type {
	case "", "file":
		return NewFileStore(opts.Path)
	case "sqlite":
		return NewSQLiteStore(opts.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: file, sqlite)", opts.Type)
	}
}
