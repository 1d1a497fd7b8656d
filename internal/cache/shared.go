package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"hegemony-server/internal/shared/errors"
)

var (
	// ErrMiss means the key is not cached.
	ErrMiss = errors.New("cache miss")
	// ErrVersionMismatch means a compare-and-swap lost against another writer.
	ErrVersionMismatch = errors.New("cached version changed")
)

// DirtyKey is a key written since its last flush. Overdue is set once the
// dirty marker expired, meaning the flush is lagging behind the marker TTL.
type DirtyKey struct {
	Key     string
	Overdue bool
}

// Shared is the cache tier every server instance sees. Values are JSON
// documents carrying a top-level "version" field.
type Shared interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value without marking it dirty; used when loading from the
	// durable store.
	Put(ctx context.Context, key string, value []byte) error
	// Swap stores value only if the cached version equals expectedVersion
	// (0 means the key must not exist) and marks the key dirty in the same
	// atomic step.
	Swap(ctx context.Context, key string, expectedVersion int64, value []byte) error
	Delete(ctx context.Context, key string) error
	// PutIfClean stores value unless the key is dirty or already holds a
	// newer version, and reports whether it stored it. The check and the
	// write are one atomic step.
	PutIfClean(ctx context.Context, key string, value []byte) (bool, error)
	// DeleteIfClean removes key unless it is dirty, and reports whether it
	// did. The check and the delete are one atomic step.
	DeleteIfClean(ctx context.Context, key string) (bool, error)

	DirtyKeys(ctx context.Context) ([]DirtyKey, error)
	IsDirty(ctx context.Context, key string) (bool, error)
	// MarkClean clears the dirty flag if the cached version still equals
	// version, and reports whether it did.
	MarkClean(ctx context.Context, key string, version int64) (bool, error)

	// Track and Members maintain small named sets, used to enumerate cached
	// keys of one kind.
	Track(ctx context.Context, index, member string) error
	Members(ctx context.Context, index string) ([]string, error)

	Ping(ctx context.Context) error
}

// VersionOf reads the top-level version field of a cached document.
func VersionOf(value []byte) (int64, error) {
	var v struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(value, &v); err != nil {
		return 0, fmt.Errorf("failed to read cached version: %w", err)
	}
	return v.Version, nil
}
