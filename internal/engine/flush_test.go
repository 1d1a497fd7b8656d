package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushPersistsDirtyKeys(t *testing.T) {
	f := newFixture(t)
	wei := entity.Resolve(entity.RoleFaction, "wei", "sangokushi")

	created, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)
	_, err = f.engine.SaveEntity(f.ctx, created, entity.Patch{Attributes: map[string]float64{"agriculture": 320}})
	require.NoError(t, err)
	_, err = f.engine.DispatchSystem(f.ctx, "sangokushi", "tally", &wei, "bump", json.RawMessage(`{"by":4}`))
	require.NoError(t, err)

	stats, err := f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushStats{Scanned: 2, Flushed: 2}, stats)

	stored, err := f.store.FindByID(f.ctx, xuchang, nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, 320.0, stored.Attribute("agriculture"))

	state, err := f.states.Find(f.ctx, "sangokushi", "tally", &wei, nil)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.JSONEq(t, `{"count":4}`, string(state.State))

	stats, err = f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "everything was marked clean")
}

func TestFlushKeepsKeysThatMovedDirty(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)

	moved := false
	f.store.onPersist = func(*entity.Entity) {
		if moved {
			return
		}
		moved = true
		current, err := f.engine.LoadEntity(context.Background(), xuchang)
		if !assert.NoError(t, err) {
			return
		}
		_, err = f.engine.SaveEntity(context.Background(), current, entity.Patch{Attributes: map[string]float64{"agriculture": 900}})
		assert.NoError(t, err)
	}

	stats, err := f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Moved)
	assert.Zero(t, stats.Flushed)

	dirty, err := f.cache.IsDirty(f.ctx, cache.EntityKey(xuchang))
	require.NoError(t, err)
	assert.True(t, dirty, "the write made during the flush is not lost")

	stats, err = f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Flushed)

	stored, err := f.store.FindByID(f.ctx, xuchang, nil)
	require.NoError(t, err)
	assert.Equal(t, 900.0, stored.Attribute("agriculture"))
	assert.Equal(t, int64(2), stored.Version)
}

func TestFlusherRunFlushesOnShutdown(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.flusher.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("flusher did not stop")
	}

	stored, err := f.store.FindByID(f.ctx, xuchang, nil)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.Version)
}

func TestFlushDropsDirtyKeysWithoutValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixtureWith(t, cache.NewRedisShared(client, "test:", time.Minute))
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)
	mr.Del("test:" + cache.EntityKey(xuchang))

	stats, err := f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, FlushStats{Scanned: 1, Dropped: 1}, stats)

	dirty, err := f.cache.IsDirty(f.ctx, cache.EntityKey(xuchang))
	require.NoError(t, err)
	assert.False(t, dirty)

	stats, err = f.flusher.Flush(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "the key is not rescanned")
}
