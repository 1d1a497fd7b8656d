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

type ConvertPayload struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// Convert trades one faction resource for another along the scenario's
// conversion graph. It is available wherever a matching rule exists.
type Convert struct{}

func (Convert) Type() string        { return "logistics.convert" }
func (Convert) Category() string    { return "logistics" }
func (Convert) Scenarios() []string { return nil }

func (Convert) costs(ac engine.ActionContext, p ConvertPayload) (map[string]float64, float64, error) {
	gained, err := ac.World.Resources().Convert(ac.Scenario, p.From, p.To, p.Amount)
	if err != nil {
		return nil, 0, err
	}
	// A negative cost is a gain.
	return map[string]float64{p.From: p.Amount, p.To: -gained}, gained, nil
}

func (c Convert) Validate(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) []string {
	p, err := gamesystem.Decode[ConvertPayload](raw)
	if err != nil {
		return []string{"invalid payload: " + err.Error()}
	}
	if !ac.World.Resources().CanConvert(ac.Scenario, p.From, p.To) {
		return []string{fmt.Sprintf("%s cannot be converted into %s in %s", p.From, p.To, ac.Scenario)}
	}

	faction, err := actingFaction(ctx, ac)
	if err != nil {
		return []string{err.Error()}
	}
	costs, _, err := c.costs(ac, p)
	if err != nil {
		return []string{err.Error()}
	}
	if err := ac.World.Resources().ValidateCost(ac.Scenario, faction.Resources, costs, scenario.CostOptions{}); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func (c Convert) Execute(ctx context.Context, ac engine.ActionContext, raw json.RawMessage) (*engine.Outcome, error) {
	p, err := gamesystem.Decode[ConvertPayload](raw)
	if err != nil {
		return nil, err
	}
	faction, err := actingFaction(ctx, ac)
	if err != nil {
		return nil, err
	}

	costs, gained, err := c.costs(ac, p)
	if err != nil {
		return nil, err
	}
	balances, err := ac.World.Resources().ApplyCost(ac.Scenario, faction.Resources, costs, scenario.CostCommit, scenario.CostOptions{})
	if err != nil {
		return nil, err
	}

	return &engine.Outcome{
		Success: true,
		Message: fmt.Sprintf("converted %v %s into %v %s", p.Amount, p.From, gained, p.To),
		Data:    map[string]any{"gained": gained, "resources": balances},
		Changes: engine.Changes{Entities: []engine.EntityPatch{
			{Entity: faction, Patch: entity.Patch{Resources: balances}},
		}},
	}, nil
}
