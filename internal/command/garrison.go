package command

import (
	"context"
	"encoding/json"
	"fmt"

	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/scenario"
)

type GarrisonPayload struct {
	ForceID      string `json:"forceId"`
	SettlementID string `json:"settlementId"`
}

// Garrison stations one of the acting faction's forces at a settlement it
// holds. A force serves the faction its commander is a member of.
type Garrison struct{}

func (Garrison) Type() string        { return "military.garrison" }
func (Garrison) Category() string    { return "military" }
func (Garrison) Scenarios() []string { return nil }

func (Garrison) load(ctx context.Context, ac engine.ActionContext, p GarrisonPayload) (force, settlement *entity.Entity, err error) {
	force, err = ac.World.LoadEntity(ctx, entity.Resolve(entity.RoleForce, p.ForceID, ac.Scenario))
	if err != nil {
		return nil, nil, err
	}
	settlement, err = ac.World.LoadEntity(ctx, entity.Resolve(entity.RoleSettlement, p.SettlementID, ac.Scenario))
	if err != nil {
		return nil, nil, err
	}
	return force, settlement, nil
}

func (g Garrison) Validate(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) []string {
	p, err := gamesystem.Decode[GarrisonPayload](raw)
	if err != nil {
		return []string{"invalid payload: " + err.Error()}
	}
	if ac.Faction == nil {
		return []string{"no acting faction"}
	}

	force, settlement, err := g.load(ctx, ac, p)
	if err != nil {
		return []string{err.Error()}
	}

	var problems []string
	serves, err := servesFaction(ctx, ac, force, *ac.Faction)
	if err != nil {
		return []string{err.Error()}
	}
	if !serves {
		problems = append(problems, fmt.Sprintf("%s does not serve your faction", force.Name))
	}
	if !ownedBy(settlement, *ac.Faction) {
		problems = append(problems, fmt.Sprintf("%s is not held by your faction", settlement.Name))
	}
	if current, ok := force.RefOne(string(scenario.RelationGarrisonedAt)); ok && current == settlement.Ref() {
		problems = append(problems, fmt.Sprintf("%s is already at %s", force.Name, settlement.Name))
	}
	return problems
}

func (g Garrison) Execute(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) (*engine.Outcome, error) {
	p, err := gamesystem.Decode[GarrisonPayload](raw)
	if err != nil {
		return nil, err
	}
	force, settlement, err := g.load(ctx, ac, p)
	if err != nil {
		return nil, err
	}

	return &engine.Outcome{
		Success: true,
		Message: fmt.Sprintf("%s garrisoned at %s", force.Name, settlement.Name),
		Changes: engine.Changes{Entities: []engine.EntityPatch{{
			Entity: force,
			Patch: entity.Patch{Refs: map[string]entity.RefValue{
				string(scenario.RelationGarrisonedAt): entity.One(settlement.Ref()),
			}},
		}}},
	}, nil
}

func servesFaction(ctx context.Context, ac engine.ActionContext, force *entity.Entity, faction entity.RoleRef) (bool, error) {
	commanderRef, ok := force.RefOne(string(scenario.RelationCommandedBy))
	if !ok {
		return false, nil
	}
	commander, err := ac.World.LoadEntity(ctx, commanderRef)
	if err != nil {
		return false, err
	}
	member, ok := commander.RefOne(string(scenario.RelationMemberOf))
	return ok && member == faction, nil
}
