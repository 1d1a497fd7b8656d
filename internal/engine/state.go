package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/shared/errors"
)

// LoadSystemState returns the cached state of a system for owner. Like
// LoadEntity it never reads the durable store.
func (e *Engine) LoadSystemState(ctx context.Context, scenarioID, systemID string, owner *entity.RoleRef) (*gamesystem.SystemState, error) {
	key := cache.SystemKey(scenarioID, systemID, owner)
	state, err := e.loadStateKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			e.logger.Warn("System state requested but not cached",
				"component", "engine",
				"operation", "load_system_state",
				"key", key,
			)
		}
		return nil, err
	}
	return state, nil
}

func (e *Engine) loadStateKey(ctx context.Context, key string) (*gamesystem.SystemState, error) {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			e.metrics.RecordCacheRead(ctx, "system", false)
			return nil, errors.WrapNotFound(fmt.Sprintf("system state %s not found", key), ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to read cached system state: %w", err)
	}
	e.metrics.RecordCacheRead(ctx, "system", true)

	var out gamesystem.SystemState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode cached system state %s: %w", key, err)
	}
	return &out, nil
}

// SaveSystemState stores next as the state following loaded, under the same
// optimistic-lock contract as SaveEntity.
func (e *Engine) SaveSystemState(ctx context.Context, loaded *gamesystem.SystemState, next json.RawMessage) (*gamesystem.SystemState, error) {
	out := loaded.Clone()
	out.State = append(json.RawMessage(nil), next...)
	out.Version = loaded.Version + 1
	out.UpdatedAt = e.now()

	if err := e.swapState(ctx, out, loaded.Version); err != nil {
		if errors.IsConflict(err) {
			e.logger.Warn("System state save lost optimistic lock",
				"component", "engine",
				"operation", "save_system_state",
				"key", out.Key(),
				"version", loaded.Version,
			)
		}
		return nil, err
	}
	return out, nil
}

func (e *Engine) swapState(ctx context.Context, s *gamesystem.SystemState, expected int64) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode system state: %w", err)
	}

	key := cache.SystemKey(s.Scenario, s.SystemID, s.Owner)
	err = e.cache.Swap(ctx, key, expected, raw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrVersionMismatch):
		e.metrics.RecordConflict(ctx, "system")
		return errors.WrapConflict(fmt.Sprintf("system state %s was modified concurrently", s.Key()), err)
	case errors.Is(err, cache.ErrMiss):
		return errors.WrapNotFound(fmt.Sprintf("system state %s not found", s.Key()), ErrCacheMiss)
	default:
		return fmt.Errorf("failed to write system state to cache: %w", err)
	}
}

// InitSystemState returns the cached state for owner, creating it from the
// system's initial state when none is cached.
func (e *Engine) InitSystemState(ctx context.Context, scenarioID, systemID string, owner *entity.RoleRef) (*gamesystem.SystemState, error) {
	logger := e.logger.With(
		"component", "engine",
		"operation", "init_system_state",
		"scenario", scenarioID,
		"system", systemID,
	)

	sys, err := e.systems.Get(systemID)
	if err != nil {
		logger.Error("System not registered", "error", err)
		return nil, err
	}
	if _, ok := e.scenarios.Get(scenarioID); !ok {
		return nil, errors.Configurationf("scenario %s is not registered", scenarioID)
	}
	if err := checkOwner(sys, scenarioID, owner); err != nil {
		return nil, err
	}

	key := cache.SystemKey(scenarioID, systemID, owner)
	existing, err := e.loadStateKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, err
	}

	initial, err := sys.InitState(ctx, scenarioID, owner)
	if err != nil {
		logger.Error("System failed to build initial state", "error", err)
		return nil, fmt.Errorf("failed to init %s state: %w", systemID, err)
	}

	state := &gamesystem.SystemState{
		Scenario:  scenarioID,
		SystemID:  systemID,
		Owner:     owner,
		Version:   1,
		State:     initial,
		UpdatedAt: e.now(),
	}
	if err := e.swapState(ctx, state, 0); err != nil {
		if errors.IsConflict(err) {
			// Created concurrently by another caller.
			return e.loadStateKey(ctx, key)
		}
		return nil, err
	}
	if err := e.cache.Track(ctx, cache.SystemIndex(scenarioID, systemID), key); err != nil {
		return nil, fmt.Errorf("failed to index system state: %w", err)
	}

	logger.Info("System state initialized", "key", state.Key())
	return state, nil
}

func checkOwner(sys gamesystem.System, scenarioID string, owner *entity.RoleRef) error {
	switch sys.Scope() {
	case gamesystem.ScopeWorld:
		if owner != nil {
			return errors.Validationf("system %s is world scoped and takes no owner", sys.ID())
		}
		return nil
	case gamesystem.ScopeFaction:
		if owner == nil || owner.Role != entity.RoleFaction {
			return errors.Validationf("system %s needs a faction owner", sys.ID())
		}
	default:
		if owner == nil {
			return errors.Validationf("system %s needs an owner", sys.ID())
		}
	}
	if !owner.Valid() || owner.Scenario != scenarioID {
		return errors.Validationf("owner %s is not an entity of scenario %s", owner.String(), scenarioID)
	}
	return nil
}
