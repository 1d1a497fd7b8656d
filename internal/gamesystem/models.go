package gamesystem

import (
	"context"
	"encoding/json"
	"time"

	"hegemony-server/internal/entity"
)

// Scope tells what a system's state is attached to.
type Scope string

const (
	ScopeEntity  Scope = "entity"
	ScopeFaction Scope = "faction"
	ScopeWorld   Scope = "world"
)

// SystemState is the persisted state of one system for one owner. World
// scoped systems have no owner.
type SystemState struct {
	Scenario  string          `json:"scenario"`
	SystemID  string          `json:"systemId"`
	Owner     *entity.RoleRef `json:"owner,omitempty"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Key returns scenario:systemId, followed by :owner when the state has one.
func (s *SystemState) Key() string {
	return StateKey(s.Scenario, s.SystemID, s.Owner)
}

func StateKey(scenario, systemID string, owner *entity.RoleRef) string {
	key := scenario + ":" + systemID
	if owner != nil {
		key += ":" + owner.String()
	}
	return key
}

// OwnerKey is the owner column value: the canonical owner ref or "".
func (s *SystemState) OwnerKey() string {
	if s.Owner == nil {
		return ""
	}
	return s.Owner.String()
}

func (s *SystemState) Clone() *SystemState {
	out := *s
	if s.Owner != nil {
		owner := *s.Owner
		out.Owner = &owner
	}
	out.State = append(json.RawMessage(nil), s.State...)
	return &out
}

// Reducer computes the next state from the current state and a command
// payload. It must not mutate its inputs.
type Reducer func(ctx context.Context, state, payload json.RawMessage) (json.RawMessage, error)

// Validator inspects a command before its reducer runs and returns the
// reasons it is rejected; an empty result accepts it.
type Validator func(ctx context.Context, state, payload json.RawMessage) []string

// Selector derives a read-only view of the state.
type Selector func(ctx context.Context, state, params json.RawMessage) (any, error)

// System is a pluggable game subsystem such as taxation or research.
type System interface {
	ID() string
	Scope() Scope
	InitState(ctx context.Context, scenario string, owner *entity.RoleRef) (json.RawMessage, error)
	Reducers() map[string]Reducer
	Validators() map[string]Validator
	Selectors() map[string]Selector
}

// Ticker is implemented by systems that advance on every game tick.
type Ticker interface {
	Tick(ctx context.Context, state json.RawMessage) (json.RawMessage, error)
}
