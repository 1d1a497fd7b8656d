package command

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
)

// TreasuryState is a faction's reserve fund. It earns Rate interest per tick.
type TreasuryState struct {
	Balance float64 `json:"balance"`
	Rate    float64 `json:"rate"`
}

type TreasuryAmount struct {
	Amount float64 `json:"amount"`
}

type TreasuryBalance struct {
	Balance float64 `json:"balance"`
	Rate    float64 `json:"rate"`
}

const defaultTreasuryRate = 0.01

// Treasury is a faction-scoped system holding a reserve fund.
type Treasury struct{}

func (Treasury) ID() string              { return "treasury" }
func (Treasury) Scope() gamesystem.Scope { return gamesystem.ScopeFaction }

func (Treasury) InitState(context.Context, string, *entity.RoleRef) (json.RawMessage, error) {
	return gamesystem.Encode(TreasuryState{Rate: defaultTreasuryRate})
}

func (Treasury) Reducers() map[string]gamesystem.Reducer {
	return map[string]gamesystem.Reducer{
		"deposit": gamesystem.Reduce(func(_ context.Context, s TreasuryState, p TreasuryAmount) (TreasuryState, error) {
			s.Balance = cents(s.Balance + p.Amount)
			return s, nil
		}),
		"withdraw": gamesystem.Reduce(func(_ context.Context, s TreasuryState, p TreasuryAmount) (TreasuryState, error) {
			if p.Amount > s.Balance {
				return s, fmt.Errorf("withdrawal of %v exceeds balance %v", p.Amount, s.Balance)
			}
			s.Balance = cents(s.Balance - p.Amount)
			return s, nil
		}),
	}
}

func positive(_ context.Context, _ TreasuryState, p TreasuryAmount) []string {
	if p.Amount <= 0 {
		return []string{"amount must be positive"}
	}
	return nil
}

func (Treasury) Validators() map[string]gamesystem.Validator {
	return map[string]gamesystem.Validator{
		"deposit": gamesystem.Validate(positive),
		"withdraw": gamesystem.Validate(func(ctx context.Context, s TreasuryState, p TreasuryAmount) []string {
			if problems := positive(ctx, s, p); len(problems) > 0 {
				return problems
			}
			if p.Amount > s.Balance {
				return []string{fmt.Sprintf("insufficient treasury: have %v, need %v", s.Balance, p.Amount)}
			}
			return nil
		}),
	}
}

func (Treasury) Selectors() map[string]gamesystem.Selector {
	return map[string]gamesystem.Selector{
		"balance": gamesystem.Select(func(_ context.Context, s TreasuryState, _ struct{}) (TreasuryBalance, error) {
			return TreasuryBalance(s), nil
		}),
	}
}

func (Treasury) Tick(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return gamesystem.Tick(func(_ context.Context, s TreasuryState) (TreasuryState, error) {
		s.Balance = cents(s.Balance * (1 + s.Rate))
		return s, nil
	})(ctx, raw)
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
