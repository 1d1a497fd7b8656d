// Package command holds the built-in action handlers and game systems.
package command

import (
	"context"
	"fmt"

	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/scenario"
)

// Register adds every built-in handler and system.
func Register(actions *engine.ActionRegistry, systems *gamesystem.Registry) error {
	for _, h := range []engine.ActionHandler{
		NewDevelop(),
		Convert{},
		Garrison{},
	} {
		if err := actions.Register(h); err != nil {
			return fmt.Errorf("failed to register action %s: %w", h.Type(), err)
		}
	}
	if err := systems.Register(Treasury{}); err != nil {
		return fmt.Errorf("failed to register treasury system: %w", err)
	}
	return nil
}

// actingFaction loads the faction the caller acts for.
func actingFaction(ctx context.Context, ac engine.ActionContext) (*entity.Entity, error) {
	if ac.Faction == nil {
		return nil, fmt.Errorf("no acting faction")
	}
	if ac.Faction.Role != entity.RoleFaction || ac.Faction.Scenario != ac.Scenario {
		return nil, fmt.Errorf("%s is not a faction of %s", ac.Faction.String(), ac.Scenario)
	}
	return ac.World.LoadEntity(ctx, *ac.Faction)
}

// ownedBy reports whether e's owned_by ref points at faction.
func ownedBy(e *entity.Entity, faction entity.RoleRef) bool {
	owner, ok := e.RefOne(string(scenario.RelationOwnedBy))
	return ok && owner == faction
}
