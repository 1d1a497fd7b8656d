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

type DevelopPayload struct {
	SettlementID string  `json:"settlementId"`
	Attribute    string  `json:"attribute"`
	Amount       float64 `json:"amount"`
}

// Develop raises an attribute of one of the faction's settlements and pays
// for it from the faction treasury.
type Develop struct {
	// Costs is the price of one attribute point, per scenario.
	Costs map[string]map[string]float64
}

func NewDevelop() *Develop {
	return &Develop{
		Costs: map[string]map[string]float64{
			"sangokushi": {"gold": 2},
			"logh":       {"credits": 12.5},
		},
	}
}

func (*Develop) Type() string     { return "domestic.develop" }
func (*Develop) Category() string { return "domestic" }

func (d *Develop) Scenarios() []string {
	out := make([]string, 0, len(d.Costs))
	for id := range d.Costs {
		out = append(out, id)
	}
	return out
}

func (d *Develop) cost(scenarioID string, amount float64) map[string]float64 {
	out := make(map[string]float64, len(d.Costs[scenarioID]))
	for id, unit := range d.Costs[scenarioID] {
		out[id] = unit * amount
	}
	return out
}

func (d *Develop) Validate(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) []string {
	p, err := gamesystem.Decode[DevelopPayload](raw)
	if err != nil {
		return []string{"invalid payload: " + err.Error()}
	}

	var problems []string
	if p.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	cfg, ok := ac.World.Scenario(ac.Scenario)
	if !ok {
		return []string{fmt.Sprintf("scenario %s is not loaded", ac.Scenario)}
	}
	if _, ok := cfg.Attributes[p.Attribute]; !ok {
		problems = append(problems, fmt.Sprintf("attribute %q does not exist in %s", p.Attribute, ac.Scenario))
	}

	faction, err := actingFaction(ctx, ac)
	if err != nil {
		return append(problems, err.Error())
	}
	settlement, err := ac.World.LoadEntity(ctx, entity.Resolve(entity.RoleSettlement, p.SettlementID, ac.Scenario))
	if err != nil {
		return append(problems, err.Error())
	}
	if !ownedBy(settlement, faction.Ref()) {
		problems = append(problems, fmt.Sprintf("%s is not held by %s", settlement.Name, faction.Name))
	}

	if p.Amount > 0 {
		if err := ac.World.Resources().ValidateCost(ac.Scenario, faction.Resources, d.cost(ac.Scenario, p.Amount), scenario.CostOptions{}); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

func (d *Develop) Execute(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) (*engine.Outcome, error) {
	p, err := gamesystem.Decode[DevelopPayload](raw)
	if err != nil {
		return nil, err
	}

	faction, err := actingFaction(ctx, ac)
	if err != nil {
		return nil, err
	}
	settlement, err := ac.World.LoadEntity(ctx, entity.Resolve(entity.RoleSettlement, p.SettlementID, ac.Scenario))
	if err != nil {
		return nil, err
	}

	balances, err := ac.World.Resources().ApplyCost(ac.Scenario, faction.Resources, d.cost(ac.Scenario, p.Amount), scenario.CostCommit, scenario.CostOptions{})
	if err != nil {
		return nil, err
	}

	next := settlement.Attribute(p.Attribute) + p.Amount
	return &engine.Outcome{
		Success: true,
		Message: fmt.Sprintf("%s %s raised to %v", settlement.Name, p.Attribute, next),
		Data:    map[string]any{"attribute": p.Attribute, "value": next, "resources": balances},
		Changes: engine.Changes{Entities: []engine.EntityPatch{
			{Entity: faction, Patch: entity.Patch{Resources: balances}},
			{Entity: settlement, Patch: entity.Patch{Attributes: map[string]float64{p.Attribute: next}}},
		}},
	}, nil
}
