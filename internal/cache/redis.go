package cache

import (
	"context"
	"fmt"
	"time"

	"hegemony-server/internal/shared/errors"

	"github.com/redis/go-redis/v9"
)

// RedisShared keeps the shared tier in Redis. Every key is stored under
// prefix; the dirty set holds unprefixed keys.
type RedisShared struct {
	client    *redis.Client
	prefix    string
	markerTTL time.Duration
}

func NewRedisShared(client *redis.Client, prefix string, markerTTL time.Duration) *RedisShared {
	return &RedisShared{
		client:    client,
		prefix:    prefix,
		markerTTL: markerTTL,
	}
}

func (r *RedisShared) valueKey(key string) string  { return r.prefix + key }
func (r *RedisShared) dirtySet() string            { return r.prefix + "dirty" }
func (r *RedisShared) markerKey(key string) string { return r.prefix + "dirty:" + key }
func (r *RedisShared) indexKey(name string) string { return r.prefix + "index:" + name }

func (r *RedisShared) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisShared) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.valueKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (r *RedisShared) Swap(ctx context.Context, key string, expectedVersion int64, value []byte) error {
	k := r.valueKey(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrMiss
			}
		case err != nil:
			return err
		default:
			if expectedVersion == 0 {
				return ErrVersionMismatch
			}
			version, err := VersionOf(current)
			if err != nil {
				return err
			}
			if version != expectedVersion {
				return ErrVersionMismatch
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, 0)
			pipe.SAdd(ctx, r.dirtySet(), key)
			pipe.Set(ctx, r.markerKey(key), 1, r.markerTTL)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionMismatch
	}
	if err != nil && !errors.Is(err, ErrVersionMismatch) && !errors.Is(err, ErrMiss) {
		return fmt.Errorf("failed to swap %s: %w", key, err)
	}
	return err
}

func (r *RedisShared) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.valueKey(key), r.markerKey(key))
		pipe.SRem(ctx, r.dirtySet(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PutIfClean watches the value key, so a Swap landing after the dirty check
// aborts the write.
func (r *RedisShared) PutIfClean(ctx context.Context, key string, value []byte) (bool, error) {
	next, err := VersionOf(value)
	if err != nil {
		return false, err
	}
	k := r.valueKey(key)
	stored := false

	txf := func(tx *redis.Tx) error {
		dirty, err := tx.SIsMember(ctx, r.dirtySet(), key).Result()
		if err != nil {
			return err
		}
		if dirty {
			return nil
		}

		current, err := tx.Get(ctx, k).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			version, err := VersionOf(current)
			if err != nil {
				return err
			}
			if version > next {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, 0)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}

	err = r.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return stored, nil
}

func (r *RedisShared) DeleteIfClean(ctx context.Context, key string) (bool, error) {
	k := r.valueKey(key)
	deleted := false

	txf := func(tx *redis.Tx) error {
		dirty, err := tx.SIsMember(ctx, r.dirtySet(), key).Result()
		if err != nil {
			return err
		}
		if dirty {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	err := r.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return deleted, nil
}

func (r *RedisShared) DirtyKeys(ctx context.Context) ([]DirtyKey, error) {
	keys, err := r.client.SMembers(ctx, r.dirtySet()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		checks[i] = pipe.Exists(ctx, r.markerKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check dirty markers: %w", err)
	}

	out := make([]DirtyKey, len(keys))
	for i, key := range keys {
		out[i] = DirtyKey{Key: key, Overdue: checks[i].Val() == 0}
	}
	return out, nil
}

func (r *RedisShared) IsDirty(ctx context.Context, key string) (bool, error) {
	dirty, err := r.client.SIsMember(ctx, r.dirtySet(), key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dirty flag of %s: %w", key, err)
	}
	return dirty, nil
}

func (r *RedisShared) MarkClean(ctx context.Context, key string, version int64) (bool, error) {
	k := r.valueKey(key)
	cleaned := false

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			v, err := VersionOf(current)
			if err != nil {
				return err
			}
			if v != version {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, r.dirtySet(), key)
			pipe.Del(ctx, r.markerKey(key))
			return nil
		})
		if err == nil {
			cleaned = true
		}
		return err
	}

	err := r.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark %s clean: %w", key, err)
	}
	return cleaned, nil
}

func (r *RedisShared) Track(ctx context.Context, index, member string) error {
	if err := r.client.SAdd(ctx, r.indexKey(index), member).Err(); err != nil {
		return fmt.Errorf("failed to track %s in %s: %w", member, index, err)
	}
	return nil
}

func (r *RedisShared) Members(ctx context.Context, index string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.indexKey(index)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", index, err)
	}
	return members, nil
}

func (r *RedisShared) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
