package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/shared/errors"
)

// DispatchSystem runs command against the owner's state of a system: the
// command's validator first, then its reducer, then an optimistic save.
// A state that was never initialized is initialized first.
func (e *Engine) DispatchSystem(ctx context.Context, scenarioID, systemID string, owner *entity.RoleRef, command string, payload json.RawMessage) (*gamesystem.SystemState, error) {
	logger := e.logger.With(
		"component", "engine",
		"operation", "dispatch_system",
		"scenario", scenarioID,
		"system", systemID,
		"command", command,
	)

	reducer, err := e.systems.Reducer(systemID, command)
	if err != nil {
		logger.Error("Cannot resolve reducer", "error", err)
		e.metrics.RecordDispatch(ctx, systemID, command, "configuration")
		return nil, err
	}

	state, err := e.InitSystemState(ctx, scenarioID, systemID, owner)
	if err != nil {
		e.metrics.RecordDispatch(ctx, systemID, command, "error")
		return nil, err
	}

	if validate, ok := e.systems.Validator(systemID, command); ok {
		if problems := validate(ctx, state.State, payload); len(problems) > 0 {
			logger.Debug("System command rejected", "errors", problems)
			e.metrics.RecordDispatch(ctx, systemID, command, "rejected")
			return nil, errors.Validationf("%s.%s rejected: %s", systemID, command, strings.Join(problems, "; "))
		}
	}

	next, err := reducer(ctx, state.State, payload)
	if err != nil {
		logger.Error("Reducer failed", "error", err)
		e.metrics.RecordDispatch(ctx, systemID, command, "error")
		return nil, fmt.Errorf("failed to reduce %s.%s: %w", systemID, command, err)
	}

	saved, err := e.SaveSystemState(ctx, state, next)
	if err != nil {
		status := "error"
		if errors.IsConflict(err) {
			status = "conflict"
		}
		e.metrics.RecordDispatch(ctx, systemID, command, status)
		return nil, err
	}

	e.metrics.RecordDispatch(ctx, systemID, command, "success")
	logger.Debug("System command applied", "version", saved.Version)
	return saved, nil
}

// QuerySystem runs a read-only selector over the cached state.
func (e *Engine) QuerySystem(ctx context.Context, scenarioID, systemID string, owner *entity.RoleRef, selector string, params json.RawMessage) (any, error) {
	sel, err := e.systems.Selector(systemID, selector)
	if err != nil {
		e.logger.Error("Cannot resolve selector",
			"component", "engine",
			"operation", "query_system",
			"system", systemID,
			"selector", selector,
			"error", err,
		)
		return nil, err
	}

	state, err := e.LoadSystemState(ctx, scenarioID, systemID, owner)
	if err != nil {
		return nil, err
	}
	return sel(ctx, state.State, params)
}

type TickStats struct {
	Ticked    int `json:"ticked"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// TickSystems advances every cached state of every ticking system in the
// scenario once. A state that moved during its tick is skipped until the
// next tick.
func (e *Engine) TickSystems(ctx context.Context, scenarioID string) (TickStats, error) {
	logger := e.logger.With("component", "engine", "operation", "tick_systems", "scenario", scenarioID)

	var stats TickStats
	if _, ok := e.scenarios.Get(scenarioID); !ok {
		return stats, errors.Configurationf("scenario %s is not registered", scenarioID)
	}

	for _, systemID := range e.systems.Tickers() {
		sys, err := e.systems.Get(systemID)
		if err != nil {
			return stats, err
		}
		ticker := sys.(gamesystem.Ticker)

		keys, err := e.cache.Members(ctx, cache.SystemIndex(scenarioID, systemID))
		if err != nil {
			return stats, fmt.Errorf("failed to list %s states: %w", systemID, err)
		}

		for _, key := range keys {
			state, err := e.loadStateKey(ctx, key)
			if err != nil {
				logger.Warn("Indexed system state not loadable", "key", key, "error", err)
				stats.Failed++
				continue
			}

			next, err := ticker.Tick(ctx, state.State)
			if err != nil {
				logger.Error("System tick failed", "key", key, "error", err)
				stats.Failed++
				continue
			}

			if _, err := e.SaveSystemState(ctx, state, next); err != nil {
				if errors.IsConflict(err) {
					stats.Conflicts++
					continue
				}
				logger.Error("Failed to save ticked state", "key", key, "error", err)
				stats.Failed++
				continue
			}
			stats.Ticked++
		}
	}

	logger.Debug("Systems ticked", "ticked", stats.Ticked, "conflicts", stats.Conflicts, "failed", stats.Failed)
	return stats, nil
}
