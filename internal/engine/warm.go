package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/shared/errors"

	"golang.org/x/sync/errgroup"
)

const (
	warmPageSize    = 200
	warmConcurrency = 16
)

type WarmStats struct {
	Entities int `json:"entities"`
	Systems  int `json:"systems"`
	// Skipped counts keys left alone because the cache holds unflushed or
	// newer changes for them.
	Skipped int `json:"skipped"`
}

// Warm copies a scenario's durable entities and system states into the
// cache. Loaded keys are not dirty.
func (e *Engine) Warm(ctx context.Context, scenarioID string) (WarmStats, error) {
	logger := e.logger.With("component", "engine", "operation", "warm", "scenario", scenarioID)
	logger.Info("Warming cache")

	var stats WarmStats
	if _, ok := e.scenarios.Get(scenarioID); !ok {
		return stats, errors.Configurationf("scenario %s is not registered", scenarioID)
	}

	var loaded, skipped atomic.Int64
	for page := 1; ; page++ {
		result, err := e.entities.FindPaginated(ctx, entity.Filter{Scenario: scenarioID}, page, warmPageSize, nil)
		if err != nil {
			logger.Error("Failed to read entity page", "page", page, "error", err)
			return stats, fmt.Errorf("failed to warm entities: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(warmConcurrency)
		for _, ent := range result.Items {
			g.Go(func() error {
				put, err := e.warmKey(gctx, cache.EntityKey(ent.Ref()), ent)
				if err != nil {
					return err
				}
				if put {
					loaded.Add(1)
				} else {
					skipped.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, fmt.Errorf("failed to warm entities: %w", err)
		}

		if !result.HasMore {
			break
		}
	}
	stats.Entities = int(loaded.Load())

	states, err := e.states.ListByScenario(ctx, scenarioID, nil)
	if err != nil {
		logger.Error("Failed to read system states", "error", err)
		return stats, fmt.Errorf("failed to warm system states: %w", err)
	}
	for _, s := range states {
		key := cache.SystemKey(s.Scenario, s.SystemID, s.Owner)
		put, err := e.warmKey(ctx, key, s)
		if err != nil {
			return stats, fmt.Errorf("failed to warm system states: %w", err)
		}
		if !put {
			skipped.Add(1)
			continue
		}
		if err := e.cache.Track(ctx, cache.SystemIndex(s.Scenario, s.SystemID), key); err != nil {
			return stats, fmt.Errorf("failed to index system state: %w", err)
		}
		stats.Systems++
	}
	stats.Skipped = int(skipped.Load())

	logger.Info("Cache warmed", "entities", stats.Entities, "systems", stats.Systems, "skipped", stats.Skipped)
	return stats, nil
}

func (e *Engine) warmKey(ctx context.Context, key string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return e.cache.PutIfClean(ctx, key, raw)
}
