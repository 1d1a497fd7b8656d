package scenario

import (
	"log/slog"
	"sort"
	"sync"

	"hegemony-server/internal/entity"
)

// Registry holds the active scenario configurations. It is safe for
// concurrent use; reads vastly outnumber writes, which only happen on load
// and reload.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]*Config
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		scenarios: make(map[string]*Config),
		logger:    logger,
	}
}

// Register stores cfg under its id. A later registration for the same id
// replaces the earlier one.
func (r *Registry) Register(cfg *Config) {
	r.mu.Lock()
	_, replaced := r.scenarios[cfg.ID]
	r.scenarios[cfg.ID] = cfg
	r.mu.Unlock()

	r.logger.Info("Scenario registered",
		"component", "scenario_registry",
		"scenario", cfg.ID,
		"roles", len(cfg.Roles),
		"relations", len(cfg.Relations),
		"replaced", replaced,
	)
}

// Get returns the scenario configuration. The result is shared and must be
// treated as read-only.
func (r *Registry) Get(id string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.scenarios[id]
	return cfg, ok
}

// RoleConfig returns how scenario stores role; false means the role does not
// exist in that world.
func (r *Registry) RoleConfig(id string, role entity.Role) (RoleConfig, bool) {
	cfg, ok := r.Get(id)
	if !ok {
		return RoleConfig{}, false
	}
	rc, ok := cfg.Roles[role]
	return rc, ok
}

// RelationConfig returns how scenario stores key; false means the relation is
// not available in that world.
func (r *Registry) RelationConfig(id string, key RelationKey) (RelationConfig, bool) {
	cfg, ok := r.Get(id)
	if !ok {
		return RelationConfig{}, false
	}
	rc, ok := cfg.Relations[key]
	return rc, ok
}

func (r *Registry) HasRole(id string, role entity.Role) bool {
	_, ok := r.RoleConfig(id, role)
	return ok
}

// IDs returns the registered scenario ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.scenarios))
	for id := range r.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
