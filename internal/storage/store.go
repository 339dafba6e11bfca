package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/config"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("storage: empty key")

// Store is a durable key/value space.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key and returns the stored value.
	Set(ctx context.Context, key string, value []byte) ([]byte, error)
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile:
		return NewFileStore(cfg.Path)
	case config.BackendSQLite:
		return NewSQLiteStore(filepath.Join(cfg.Path, "execstream.db"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
