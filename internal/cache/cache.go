package cache

import (
	"context"
	"log/slog"
	"time"

	"hegemony-server/internal/shared/errors"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	LocalSize int
	LocalTTL  time.Duration
}

// Cache layers a short-lived in-process LRU over the shared tier. The local
// tier is a lookaside only; every write goes through the shared tier's
// compare-and-swap, so a stale local read surfaces as a version mismatch on
// save.
type Cache struct {
	local  *expirable.LRU[string, []byte]
	shared Shared
	group  singleflight.Group
	logger *slog.Logger
}

func New(shared Shared, opts Options, logger *slog.Logger) *Cache {
	size := opts.LocalSize
	if size <= 0 {
		size = 10000
	}
	ttl := opts.LocalTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}

	return &Cache{
		local:  expirable.NewLRU[string, []byte](size, nil, ttl),
		shared: shared,
		logger: logger.With("component", "cache"),
	}
}

func (c *Cache) Shared() Shared {
	return c.shared
}

// Get returns the cached value. Returned slices must not be modified.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := c.local.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := c.shared.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		c.local.Add(key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.shared.Put(ctx, key, value); err != nil {
		c.local.Remove(key)
		return err
	}
	c.local.Add(key, value)
	return nil
}

// Swap is Shared.Swap that keeps the local tier in step: refreshed on
// success, dropped on any failure.
func (c *Cache) Swap(ctx context.Context, key string, expectedVersion int64, value []byte) error {
	if err := c.shared.Swap(ctx, key, expectedVersion, value); err != nil {
		c.local.Remove(key)
		if errors.Is(err, ErrVersionMismatch) {
			c.logger.Warn("Cache swap lost", "key", key, "expected_version", expectedVersion)
		}
		return err
	}
	c.local.Add(key, value)
	return nil
}

// Invalidate drops key from the local tier only.
func (c *Cache) Invalidate(key string) {
	c.local.Remove(key)
}

// Delete removes key from both tiers, including its dirty flag.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Remove(key)
	return c.shared.Delete(ctx, key)
}

// PutIfClean is Shared.PutIfClean. The local copy is dropped when the shared
// tier refuses the write.
func (c *Cache) PutIfClean(ctx context.Context, key string, value []byte) (bool, error) {
	stored, err := c.shared.PutIfClean(ctx, key, value)
	if err != nil || !stored {
		c.local.Remove(key)
		return false, err
	}
	c.local.Add(key, value)
	return true, nil
}

// DeleteIfClean is Shared.DeleteIfClean for both tiers.
func (c *Cache) DeleteIfClean(ctx context.Context, key string) (bool, error) {
	deleted, err := c.shared.DeleteIfClean(ctx, key)
	if err != nil {
		return false, err
	}
	if deleted {
		c.local.Remove(key)
	}
	return deleted, nil
}

func (c *Cache) DirtyKeys(ctx context.Context) ([]DirtyKey, error) {
	return c.shared.DirtyKeys(ctx)
}

func (c *Cache) IsDirty(ctx context.Context, key string) (bool, error) {
	return c.shared.IsDirty(ctx, key)
}

func (c *Cache) MarkClean(ctx context.Context, key string, version int64) (bool, error) {
	return c.shared.MarkClean(ctx, key, version)
}

func (c *Cache) Track(ctx context.Context, index, member string) error {
	return c.shared.Track(ctx, index, member)
}

func (c *Cache) Members(ctx context.Context, index string) ([]string, error) {
	return c.shared.Members(ctx, index)
}

// ReadShared bypasses the local tier; the flusher uses it so it never writes
// back a locally stale copy.
func (c *Cache) ReadShared(ctx context.Context, key string) ([]byte, error) {
	return c.shared.Get(ctx, key)
}
