// Package engine is the gameplay-facing facade over the cache. Gameplay code
// reads entities and system states from the cache only; the durable store is
// touched when warming, on explicit reloads and by the flusher.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/metrics"
)

// ErrCacheMiss is wrapped by the not-found error returned when gameplay asks
// for something that was never loaded into the cache.
var ErrCacheMiss = errors.New("not present in cache")

// EntityStore is the durable side the engine warms from and reloads from.
type EntityStore interface {
	FindByID(ctx context.Context, ref entity.RoleRef, tx *database.Tx) (*entity.Entity, error)
	FindPaginated(ctx context.Context, f entity.Filter, page, limit int, tx *database.Tx) (*entity.Page, error)
	Persist(ctx context.Context, e *entity.Entity, tx *database.Tx) (bool, error)
}

type StateStore interface {
	ListByScenario(ctx context.Context, scenario string, tx *database.Tx) ([]*gamesystem.SystemState, error)
	Persist(ctx context.Context, s *gamesystem.SystemState, tx *database.Tx) (bool, error)
}

type Deps struct {
	Cache     *cache.Cache
	Scenarios *scenario.Registry
	Resources *scenario.ResourceRegistry
	Systems   *gamesystem.Registry
	Actions   *ActionRegistry
	Entities  EntityStore
	States    StateStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Engine struct {
	cache     *cache.Cache
	scenarios *scenario.Registry
	resources *scenario.ResourceRegistry
	systems   *gamesystem.Registry
	actions   *ActionRegistry
	entities  EntityStore
	states    StateStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.Default()
	}
	if d.Actions == nil {
		d.Actions = NewActionRegistry()
	}
	if d.Systems == nil {
		d.Systems = gamesystem.NewRegistry()
	}
	if d.Resources == nil {
		d.Resources = scenario.NewResourceRegistry()
	}
	return &Engine{
		cache:     d.Cache,
		scenarios: d.Scenarios,
		resources: d.Resources,
		systems:   d.Systems,
		actions:   d.Actions,
		entities:  d.Entities,
		states:    d.States,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Actions() *ActionRegistry {
	return e.actions
}

func (e *Engine) Systems() *gamesystem.Registry {
	return e.systems
}

func (e *Engine) Resources() *scenario.ResourceRegistry {
	return e.resources
}

func (e *Engine) Scenario(id string) (*scenario.Config, bool) {
	return e.scenarios.Get(id)
}

// LoadEntity returns a private copy of the cached entity. A miss is reported
// as not found and never falls back to the durable store.
func (e *Engine) LoadEntity(ctx context.Context, ref entity.RoleRef) (*entity.Entity, error) {
	if !ref.Valid() {
		return nil, errors.Validationf("invalid entity reference %q", ref.String())
	}

	raw, err := e.cache.Get(ctx, cache.EntityKey(ref))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			e.metrics.RecordCacheRead(ctx, "entity", false)
			e.logger.Warn("Entity requested but not cached",
				"component", "engine",
				"operation", "load_entity",
				"ref", ref.String(),
			)
			return nil, errors.WrapNotFound(fmt.Sprintf("entity %s not found", ref.String()), ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to read cached entity: %w", err)
	}
	e.metrics.RecordCacheRead(ctx, "entity", true)

	var out entity.Entity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode cached entity %s: %w", ref.String(), err)
	}
	return &out, nil
}

// SaveEntity applies p to the entity as it was loaded and stores the result
// with the version bumped by one. The write only succeeds if the cached copy
// still carries loaded.Version; otherwise a conflict is returned and nothing
// is written.
func (e *Engine) SaveEntity(ctx context.Context, loaded *entity.Entity, p entity.Patch) (*entity.Entity, error) {
	logger := e.logger.With(
		"component", "engine",
		"operation", "save_entity",
		"ref", loaded.Ref().String(),
		"version", loaded.Version,
	)

	next := loaded.Clone()
	p.Apply(next)
	if cfg, ok := e.scenarios.Get(next.Scenario); ok {
		if clamped := cfg.Clamp(next); len(clamped) > 0 {
			logger.Debug("Values clamped to scenario bounds", "keys", clamped)
		}
	}
	next.Version = loaded.Version + 1
	next.UpdatedAt = e.now()

	if err := e.swapEntity(ctx, next, loaded.Version); err != nil {
		if errors.IsConflict(err) {
			logger.Warn("Entity save lost optimistic lock")
		} else {
			logger.Error("Failed to save entity", "error", err)
		}
		return nil, err
	}

	logger.Debug("Entity saved", "new_version", next.Version)
	return next, nil
}

// CreateEntity caches a new entity at version 1. It fails with a conflict if
// the reference is already cached.
func (e *Engine) CreateEntity(ctx context.Context, ent *entity.Entity) (*entity.Entity, error) {
	logger := e.logger.With(
		"component", "engine",
		"operation", "create_entity",
		"ref", ent.Ref().String(),
	)

	if !ent.Ref().Valid() {
		return nil, errors.Validationf("invalid entity reference %q", ent.Ref().String())
	}
	cfg, ok := e.scenarios.Get(ent.Scenario)
	if !ok {
		return nil, errors.Configurationf("scenario %s is not registered", ent.Scenario)
	}
	if err := cfg.ValidateEntity(ent); err != nil {
		return nil, err
	}

	next := ent.Clone()
	cfg.Clamp(next)
	now := e.now()
	next.Version = 1
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	if err := e.swapEntity(ctx, next, 0); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.Conflictf("entity %s already exists", ent.Ref().String())
		}
		logger.Error("Failed to create entity", "error", err)
		return nil, err
	}

	logger.Info("Entity created")
	return next, nil
}

func (e *Engine) swapEntity(ctx context.Context, next *entity.Entity, expected int64) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode entity: %w", err)
	}

	err = e.cache.Swap(ctx, cache.EntityKey(next.Ref()), expected, raw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrVersionMismatch):
		e.metrics.RecordConflict(ctx, "entity")
		return errors.WrapConflict(fmt.Sprintf("entity %s was modified concurrently", next.Ref().String()), err)
	case errors.Is(err, cache.ErrMiss):
		return errors.WrapNotFound(fmt.Sprintf("entity %s not found", next.Ref().String()), ErrCacheMiss)
	default:
		return fmt.Errorf("failed to write entity to cache: %w", err)
	}
}

// Evict drops an entity from the cache. Entities with unflushed changes are
// refused.
func (e *Engine) Evict(ctx context.Context, ref entity.RoleRef) error {
	deleted, err := e.cache.DeleteIfClean(ctx, cache.EntityKey(ref))
	if err != nil {
		return fmt.Errorf("failed to evict entity: %w", err)
	}
	if !deleted {
		return errors.Conflictf("entity %s has unflushed changes", ref.String())
	}

	e.logger.Info("Entity evicted", "component", "engine", "operation", "evict", "ref", ref.String())
	return nil
}

// Reload replaces the cached copy of ref with the durable one. Entities with
// unflushed or newer cached changes are refused.
func (e *Engine) Reload(ctx context.Context, ref entity.RoleRef) (*entity.Entity, error) {
	logger := e.logger.With("component", "engine", "operation", "reload", "ref", ref.String())

	stored, err := e.entities.FindByID(ctx, ref, nil)
	if err != nil {
		logger.Error("Failed to read entity for reload", "error", err)
		return nil, fmt.Errorf("failed to reload entity: %w", err)
	}
	if stored == nil {
		return nil, errors.NotFoundf("entity %s not found", ref.String())
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	put, err := e.cache.PutIfClean(ctx, cache.EntityKey(ref), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to cache entity: %w", err)
	}
	if !put {
		return nil, errors.Conflictf("entity %s has unflushed changes", ref.String())
	}

	logger.Info("Entity reloaded", "version", stored.Version)
	return stored, nil
}
