package gamesystem

import (
	"sort"
	"strings"
	"sync"

	"hegemony-server/internal/shared/errors"
)

// Registry holds the systems known to the engine. Systems are registered at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	systems map[string]System
}

func NewRegistry() *Registry {
	return &Registry{systems: make(map[string]System)}
}

func (r *Registry) Register(sys System) error {
	if sys == nil {
		return errors.Validation("system is required")
	}
	id := strings.TrimSpace(sys.ID())
	if id == "" {
		return errors.Validation("system id is required")
	}
	switch sys.Scope() {
	case ScopeEntity, ScopeFaction, ScopeWorld:
	default:
		return errors.Validationf("system %s has unknown scope %q", id, sys.Scope())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.systems[id]; exists {
		return errors.Conflictf("system %s already registered", id)
	}
	r.systems[id] = sys
	return nil
}

// Get returns the system or a configuration error when it was never
// registered.
func (r *Registry) Get(id string) (System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sys, ok := r.systems[id]
	if !ok {
		return nil, errors.Configurationf("system %s is not registered", id)
	}
	return sys, nil
}

func (r *Registry) Reducer(id, command string) (Reducer, error) {
	sys, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	reducer, ok := sys.Reducers()[command]
	if !ok {
		return nil, errors.Configurationf("system %s has no reducer %s", id, command)
	}
	return reducer, nil
}

// Validator returns the command's validator; commands without one are
// accepted as-is.
func (r *Registry) Validator(id, command string) (Validator, bool) {
	sys, err := r.Get(id)
	if err != nil {
		return nil, false
	}
	v, ok := sys.Validators()[command]
	return v, ok
}

func (r *Registry) Selector(id, name string) (Selector, error) {
	sys, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	sel, ok := sys.Selectors()[name]
	if !ok {
		return nil, errors.Configurationf("system %s has no selector %s", id, name)
	}
	return sel, nil
}

// IDs returns the registered system ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.systems))
	for id := range r.systems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tickers returns the ids of systems that implement Ticker.
func (r *Registry) Tickers() []string {
	var ids []string
	for _, id := range r.IDs() {
		sys, _ := r.Get(id)
		if _, ok := sys.(Ticker); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
