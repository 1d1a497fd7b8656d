package cache

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryShared is the single-process stand-in for Redis, used when Redis is
// disabled. It gives the same atomicity guarantees within one process.
type MemoryShared struct {
	mu        sync.Mutex
	values    map[string][]byte
	dirty     map[string]time.Time
	indexes   map[string]map[string]struct{}
	markerTTL time.Duration
	now       func() time.Time
}

func NewMemoryShared(markerTTL time.Duration) *MemoryShared {
	return &MemoryShared{
		values:    make(map[string][]byte),
		dirty:     make(map[string]time.Time),
		indexes:   make(map[string]map[string]struct{}),
		markerTTL: markerTTL,
		now:       time.Now,
	}
}

func (m *MemoryShared) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrMiss
	}
	return bytes.Clone(v), nil
}

func (m *MemoryShared) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = bytes.Clone(value)
	return nil
}

func (m *MemoryShared) Swap(_ context.Context, key string, expectedVersion int64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.values[key]
	switch {
	case !exists && expectedVersion != 0:
		return ErrMiss
	case exists && expectedVersion == 0:
		return ErrVersionMismatch
	case exists:
		version, err := VersionOf(current)
		if err != nil {
			return err
		}
		if version != expectedVersion {
			return ErrVersionMismatch
		}
	}

	m.values[key] = bytes.Clone(value)
	m.dirty[key] = m.now().Add(m.markerTTL)
	return nil
}

func (m *MemoryShared) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.dirty, key)
	return nil
}

func (m *MemoryShared) PutIfClean(_ context.Context, key string, value []byte) (bool, error) {
	next, err := VersionOf(value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dirty := m.dirty[key]; dirty {
		return false, nil
	}
	if current, ok := m.values[key]; ok {
		version, err := VersionOf(current)
		if err != nil {
			return false, err
		}
		if version > next {
			return false, nil
		}
	}
	m.values[key] = bytes.Clone(value)
	return true, nil
}

func (m *MemoryShared) DeleteIfClean(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dirty := m.dirty[key]; dirty {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MemoryShared) DirtyKeys(_ context.Context) ([]DirtyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]DirtyKey, 0, len(m.dirty))
	for key, expires := range m.dirty {
		out = append(out, DirtyKey{Key: key, Overdue: !now.Before(expires)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryShared) IsDirty(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, dirty := m.dirty[key]
	return dirty, nil
}

func (m *MemoryShared) MarkClean(_ context.Context, key string, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.values[key]; ok {
		v, err := VersionOf(current)
		if err != nil {
			return false, err
		}
		if v != version {
			return false, nil
		}
	}
	delete(m.dirty, key)
	return true, nil
}

func (m *MemoryShared) Track(_ context.Context, index, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.indexes[index]
	if !ok {
		set = make(map[string]struct{})
		m.indexes[index] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemoryShared) Members(_ context.Context, index string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.indexes[index]))
	for member := range m.indexes[index] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryShared) Ping(context.Context) error {
	return nil
}
