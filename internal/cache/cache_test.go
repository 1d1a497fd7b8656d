package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hegemony-server/internal/entity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(version int64, gold int) []byte {
	return []byte(fmt.Sprintf(`{"version":%d,"resources":{"gold":%d}}`, version, gold))
}

type sharedFactory func(t *testing.T) Shared

func sharedImplementations() map[string]sharedFactory {
	return map[string]sharedFactory{
		"redis": func(t *testing.T) Shared {
			s := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: s.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisShared(client, "test:", time.Minute)
		},
		"memory": func(t *testing.T) Shared {
			return NewMemoryShared(time.Minute)
		},
	}
}

func TestSharedCompareAndSwap(t *testing.T) {
	for name, factory := range sharedImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			key := EntityKey(entity.Resolve(entity.RoleFaction, "wei", "sangokushi"))

			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, ErrMiss)

			require.NoError(t, s.Swap(ctx, key, 0, doc(1, 100)))
			assert.ErrorIs(t, s.Swap(ctx, key, 0, doc(1, 100)), ErrVersionMismatch, "create twice")

			require.NoError(t, s.Swap(ctx, key, 1, doc(2, 90)))
			assert.ErrorIs(t, s.Swap(ctx, key, 1, doc(2, 80)), ErrVersionMismatch, "stale version")

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, string(doc(2, 90)), string(got))

			missing := EntityKey(entity.Resolve(entity.RoleFaction, "shu", "sangokushi"))
			assert.ErrorIs(t, s.Swap(ctx, missing, 3, doc(4, 0)), ErrMiss)
		})
	}
}

func TestSharedDirtyTracking(t *testing.T) {
	for name, factory := range sharedImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			key := "entity:sangokushi:settlement:ye"

			require.NoError(t, s.Put(ctx, key, doc(1, 0)))
			dirty, err := s.IsDirty(ctx, key)
			require.NoError(t, err)
			assert.False(t, dirty, "Put does not mark dirty")

			require.NoError(t, s.Swap(ctx, key, 1, doc(2, 0)))
			require.NoError(t, s.Swap(ctx, key, 2, doc(3, 0)))

			keys, err := s.DirtyKeys(ctx)
			require.NoError(t, err)
			require.Len(t, keys, 1, "the dirty set is idempotent")
			assert.Equal(t, key, keys[0].Key)
			assert.False(t, keys[0].Overdue)

			cleaned, err := s.MarkClean(ctx, key, 2)
			require.NoError(t, err)
			assert.False(t, cleaned, "version moved since it was read")

			cleaned, err = s.MarkClean(ctx, key, 3)
			require.NoError(t, err)
			assert.True(t, cleaned)

			dirty, err = s.IsDirty(ctx, key)
			require.NoError(t, err)
			assert.False(t, dirty)

			require.NoError(t, s.Swap(ctx, key, 3, doc(4, 0)))
			require.NoError(t, s.Delete(ctx, key))
			keys, err = s.DirtyKeys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestSharedConditionalWrites(t *testing.T) {
	for name, factory := range sharedImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			key := "entity:sangokushi:settlement:xuchang"

			stored, err := s.PutIfClean(ctx, key, doc(1, 0))
			require.NoError(t, err)
			assert.True(t, stored, "absent keys are loaded")

			require.NoError(t, s.Swap(ctx, key, 1, doc(2, 50)))
			stored, err = s.PutIfClean(ctx, key, doc(1, 0))
			require.NoError(t, err)
			assert.False(t, stored, "dirty keys are kept")
			deleted, err := s.DeleteIfClean(ctx, key)
			require.NoError(t, err)
			assert.False(t, deleted)

			cleaned, err := s.MarkClean(ctx, key, 2)
			require.NoError(t, err)
			require.True(t, cleaned)

			stored, err = s.PutIfClean(ctx, key, doc(1, 0))
			require.NoError(t, err)
			assert.False(t, stored, "an older copy never replaces a newer one")
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, string(doc(2, 50)), string(got))

			stored, err = s.PutIfClean(ctx, key, doc(2, 60))
			require.NoError(t, err)
			assert.True(t, stored)

			deleted, err = s.DeleteIfClean(ctx, key)
			require.NoError(t, err)
			assert.True(t, deleted)
			_, err = s.Get(ctx, key)
			assert.ErrorIs(t, err, ErrMiss)
		})
	}
}

func TestSharedIndexes(t *testing.T) {
	for name, factory := range sharedImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			index := SystemIndex("sangokushi", "treasury")

			require.NoError(t, s.Track(ctx, index, "a"))
			require.NoError(t, s.Track(ctx, index, "b"))
			require.NoError(t, s.Track(ctx, index, "a"))

			members, err := s.Members(ctx, index)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, members)
			require.NoError(t, s.Ping(ctx))
		})
	}
}

func TestRedisDirtyMarkerExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisShared(client, "hegemony:", time.Minute)

	require.NoError(t, s.Swap(ctx, "entity:k", 0, doc(1, 0)))
	assert.True(t, mr.Exists("hegemony:dirty:entity:k"))
	assert.True(t, mr.Exists("hegemony:entity:k"))

	mr.FastForward(2 * time.Minute)

	keys, err := s.DirtyKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Overdue)
}

func TestMemoryDirtyMarkerExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryShared(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Swap(ctx, "entity:k", 0, doc(1, 0)))
	now = now.Add(2 * time.Minute)

	keys, err := s.DirtyKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Overdue)
}

func TestConcurrentSwapsFromSameReadOneWins(t *testing.T) {
	for name, factory := range sharedImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(factory(t), Options{}, slog.New(slog.DiscardHandler))
			key := "entity:sangokushi:faction:wu"
			require.NoError(t, c.Put(ctx, key, doc(1, 1000)))

			var wins, losses atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := c.Swap(ctx, key, 1, doc(2, 1000-i))
					if err == nil {
						wins.Add(1)
					} else {
						assert.ErrorIs(t, err, ErrVersionMismatch)
						losses.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(7), losses.Load())
		})
	}
}

func TestCacheLocalTier(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryShared(time.Minute)
	c := New(shared, Options{LocalSize: 10, LocalTTL: time.Hour}, slog.New(slog.DiscardHandler))
	key := "entity:logh:faction:empire"

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Put(ctx, key, doc(1, 0)))
	require.NoError(t, shared.Put(ctx, key, doc(5, 0)))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc(1, 0)), string(got), "served from the local tier")

	assert.ErrorIs(t, c.Swap(ctx, key, 1, doc(2, 0)), ErrVersionMismatch)

	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc(5, 0)), string(got), "a lost swap drops the stale local copy")

	c.Invalidate(key)
	require.NoError(t, c.Delete(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestKeys(t *testing.T) {
	ref := entity.Resolve(entity.RoleSettlement, "odin", "logh")
	key := EntityKey(ref)
	assert.Equal(t, "entity:logh:settlement:odin", key)
	assert.True(t, IsEntityKey(key))

	parsed, ok := EntityRef(key)
	require.True(t, ok)
	assert.Equal(t, ref, parsed)

	owner := entity.Resolve(entity.RoleFaction, "empire", "logh")
	sys := SystemKey("logh", "treasury", &owner)
	assert.Equal(t, "system:logh:treasury:logh:faction:empire", sys)
	assert.True(t, IsSystemKey(sys))
	_, ok = EntityRef(sys)
	assert.False(t, ok)
}
