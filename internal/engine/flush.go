package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/metrics"

	"golang.org/x/sync/errgroup"
)

type FlushStats struct {
	Scanned int `json:"scanned"`
	Flushed int `json:"flushed"`
	// Moved counts keys written again while being flushed; they stay dirty
	// for the next run.
	Moved int `json:"moved"`
	// Dropped counts dirty keys whose cached value was gone, so there was
	// nothing left to write.
	Dropped int `json:"dropped"`
	Overdue int `json:"overdue"`
	Failed  int `json:"failed"`
}

// Flusher writes dirty cache keys back to the durable store.
type Flusher struct {
	cache       *cache.Cache
	entities    EntityStore
	states      StateStore
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewFlusher(c *cache.Cache, entities EntityStore, states StateStore, concurrency int, m *metrics.Metrics, logger *slog.Logger) *Flusher {
	if concurrency <= 0 {
		concurrency = 8
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Flusher{
		cache:       c,
		entities:    entities,
		states:      states,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger.With("component", "flusher"),
	}
}

type flushOutcome int

const (
	flushDone flushOutcome = iota
	flushMoved
	flushGone
)

// Flush drains the dirty set once. A key is only marked clean if its cached
// version did not change while it was being written.
func (f *Flusher) Flush(ctx context.Context) (FlushStats, error) {
	logger := f.logger.With("operation", "flush")

	var stats FlushStats
	keys, err := f.cache.DirtyKeys(ctx)
	if err != nil {
		logger.Error("Failed to list dirty keys", "error", err)
		return stats, fmt.Errorf("failed to list dirty keys: %w", err)
	}
	stats.Scanned = len(keys)
	if len(keys) == 0 {
		return stats, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, dk := range keys {
		g.Go(func() error {
			outcome, err := f.flushKey(gctx, dk.Key)

			mu.Lock()
			defer mu.Unlock()
			if dk.Overdue {
				stats.Overdue++
			}
			switch {
			case err != nil:
				stats.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", dk.Key, err))
				logger.Error("Failed to flush key", "key", dk.Key, "error", err)
			case outcome == flushMoved:
				stats.Moved++
			case outcome == flushGone:
				stats.Dropped++
			case outcome == flushDone:
				stats.Flushed++
			}
			return nil
		})
	}
	_ = g.Wait()

	f.metrics.RecordFlush(ctx, stats.Flushed, stats.Failed)
	if stats.Overdue > 0 {
		logger.Warn("Dirty keys past their marker TTL", "overdue", stats.Overdue)
	}
	logger.Info("Flush completed",
		"scanned", stats.Scanned,
		"flushed", stats.Flushed,
		"moved", stats.Moved,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
	)
	return stats, errors.Join(errs...)
}

func (f *Flusher) flushKey(ctx context.Context, key string) (flushOutcome, error) {
	raw, err := f.cache.ReadShared(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return f.dropGone(ctx, key)
		}
		return flushDone, err
	}

	version, err := cache.VersionOf(raw)
	if err != nil {
		return flushDone, err
	}

	switch {
	case cache.IsEntityKey(key):
		var e entity.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return flushDone, fmt.Errorf("failed to decode entity: %w", err)
		}
		if _, err := f.entities.Persist(ctx, &e, nil); err != nil {
			return flushDone, err
		}
	case cache.IsSystemKey(key):
		var s gamesystem.SystemState
		if err := json.Unmarshal(raw, &s); err != nil {
			return flushDone, fmt.Errorf("failed to decode system state: %w", err)
		}
		if _, err := f.states.Persist(ctx, &s, nil); err != nil {
			return flushDone, err
		}
	default:
		f.logger.Warn("Dirty key of unknown kind dropped", "key", key)
	}

	cleaned, err := f.cache.MarkClean(ctx, key, version)
	if err != nil {
		return flushDone, fmt.Errorf("failed to mark key clean: %w", err)
	}
	if !cleaned {
		return flushMoved, nil
	}
	return flushDone, nil
}

// dropGone clears the dirty flag of a key whose value left the cache. A key
// written again in the meantime stays dirty.
func (f *Flusher) dropGone(ctx context.Context, key string) (flushOutcome, error) {
	cleaned, err := f.cache.MarkClean(ctx, key, 0)
	if err != nil {
		return flushDone, fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	if !cleaned {
		return flushMoved, nil
	}
	f.logger.Warn("Dirty key lost its cached value", "key", key)
	return flushGone, nil
}

// Run flushes every interval until ctx is cancelled, then flushes one last
// time.
func (f *Flusher) Run(ctx context.Context, interval time.Duration) {
	logger := f.logger.With("operation", "run", "interval", interval)
	logger.Info("Flusher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if _, err := f.Flush(final); err != nil {
				logger.Error("Final flush incomplete", "error", err)
			}
			cancel()
			logger.Info("Flusher stopped")
			return
		case <-ticker.C:
			if _, err := f.Flush(ctx); err != nil {
				logger.Warn("Flush incomplete, keys stay dirty", "error", err)
			}
		}
	}
}
