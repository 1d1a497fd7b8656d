package engine

import (
	"context"
	"encoding/json"
	"testing"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	apperrors "hegemony-server/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tally struct {
	Count int `json:"count"`
}

type bump struct {
	By int `json:"by"`
}

// tallySystem is a faction-scoped counter that also ticks.
type tallySystem struct{}

func (tallySystem) ID() string              { return "tally" }
func (tallySystem) Scope() gamesystem.Scope { return gamesystem.ScopeFaction }

func (tallySystem) InitState(context.Context, string, *entity.RoleRef) (json.RawMessage, error) {
	return gamesystem.Encode(tally{})
}

func (tallySystem) Reducers() map[string]gamesystem.Reducer {
	return map[string]gamesystem.Reducer{
		"bump": gamesystem.Reduce(func(_ context.Context, s tally, p bump) (tally, error) {
			s.Count += p.By
			return s, nil
		}),
	}
}

func (tallySystem) Validators() map[string]gamesystem.Validator {
	return map[string]gamesystem.Validator{
		"bump": gamesystem.Validate(func(_ context.Context, _ tally, p bump) []string {
			if p.By <= 0 {
				return []string{"by must be positive"}
			}
			return nil
		}),
	}
}

func (tallySystem) Selectors() map[string]gamesystem.Selector {
	return map[string]gamesystem.Selector{
		"count": gamesystem.Select(func(_ context.Context, s tally, _ struct{}) (int, error) {
			return s.Count, nil
		}),
	}
}

func (tallySystem) Tick(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return gamesystem.Tick(func(_ context.Context, s tally) (tally, error) {
		s.Count *= 2
		return s, nil
	})(ctx, raw)
}

// stubHandler lets each test plug in its own behaviour.
type stubHandler struct {
	actionType string
	worlds     []string
	validate   func(ac ActionContext) []string
	execute    func(ctx context.Context, ac ActionContext) (*Outcome, error)
	executed   int
}

func (h *stubHandler) Type() string        { return h.actionType }
func (h *stubHandler) Category() string    { return "test" }
func (h *stubHandler) Scenarios() []string { return h.worlds }

func (h *stubHandler) Validate(_ context.Context, ac ActionContext, _ json.RawMessage) []string {
	if h.validate == nil {
		return nil
	}
	return h.validate(ac)
}

func (h *stubHandler) Execute(ctx context.Context, ac ActionContext, _ json.RawMessage) (*Outcome, error) {
	h.executed++
	return h.execute(ctx, ac)
}

func raiseAgriculture(by float64) func(ctx context.Context, ac ActionContext) (*Outcome, error) {
	return func(ctx context.Context, ac ActionContext) (*Outcome, error) {
		city, err := ac.World.LoadEntity(ctx, xuchang)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Success: true,
			Message: "developed",
			Changes: Changes{Entities: []EntityPatch{{
				Entity: city,
				Patch:  entity.Patch{Attributes: map[string]float64{"agriculture": city.Attribute("agriculture") + by}},
			}}},
		}, nil
	}
}

func TestActionRegistry(t *testing.T) {
	r := NewActionRegistry()
	require.NoError(t, r.Register(&stubHandler{actionType: "b.second"}))
	require.NoError(t, r.Register(&stubHandler{actionType: "a.first"}))

	assert.True(t, apperrors.IsConflict(r.Register(&stubHandler{actionType: "a.first"})))
	assert.Error(t, r.Register(&stubHandler{actionType: " "}))

	_, err := r.Get("missing")
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Equal(t, []string{"a.first", "b.second"}, r.Types())
}

func TestExecuteActionAppliesChanges(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)

	h := &stubHandler{actionType: "domestic.test", execute: raiseAgriculture(50)}
	require.NoError(t, f.engine.Actions().Register(h))

	res := f.engine.ExecuteAction(f.ctx, ActionContext{Type: "domestic.test", Scenario: "sangokushi"}, nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, "developed", res.Message)

	city, err := f.engine.LoadEntity(f.ctx, xuchang)
	require.NoError(t, err)
	assert.Equal(t, 350.0, city.Attribute("agriculture"))
	assert.Equal(t, int64(2), city.Version)
}

func TestExecuteActionStructuredFailures(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)

	rejecting := &stubHandler{
		actionType: "test.reject",
		validate:   func(ActionContext) []string { return []string{"not your city", "no gold"} },
		execute:    raiseAgriculture(1),
	}
	panicking := &stubHandler{
		actionType: "test.panic",
		execute: func(context.Context, ActionContext) (*Outcome, error) {
			panic("boom")
		},
	}
	landOnly := &stubHandler{actionType: "test.land", worlds: []string{"sangokushi"}, execute: raiseAgriculture(1)}
	for _, h := range []*stubHandler{rejecting, panicking, landOnly} {
		require.NoError(t, f.engine.Actions().Register(h))
	}

	res := f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.reject", Scenario: "sangokushi"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeValidationFailed, res.Code)
	assert.Equal(t, []string{"not your city", "no gold"}, res.Errors)
	assert.Zero(t, rejecting.executed, "execute never runs after a failed validation")

	res = f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.panic", Scenario: "sangokushi"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeExecutionFailed, res.Code)
	assert.Contains(t, res.Message, "boom")

	res = f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.missing", Scenario: "sangokushi"}, nil)
	assert.Equal(t, CodeUnknownAction, res.Code)

	res = f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.land", Scenario: "logh"}, nil)
	assert.Equal(t, CodeUnsupportedScenario, res.Code)

	res = f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.land", Scenario: "atlantis"}, nil)
	assert.Equal(t, CodeUnsupportedScenario, res.Code)

	city, err := f.engine.LoadEntity(f.ctx, xuchang)
	require.NoError(t, err)
	assert.Equal(t, int64(1), city.Version, "no failed action touched the cache")
}

func TestExecuteActionReportsConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateEntity(f.ctx, newCity(xuchang, 300))
	require.NoError(t, err)

	h := &stubHandler{
		actionType: "test.race",
		execute: func(ctx context.Context, ac ActionContext) (*Outcome, error) {
			out, err := raiseAgriculture(10)(ctx, ac)
			if err != nil {
				return nil, err
			}
			// Another writer gets in between read and apply.
			city, err := f.engine.LoadEntity(ctx, xuchang)
			if err != nil {
				return nil, err
			}
			if _, err := f.engine.SaveEntity(ctx, city, entity.Patch{Attributes: map[string]float64{"commerce": 1}}); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
	require.NoError(t, f.engine.Actions().Register(h))

	res := f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.race", Scenario: "sangokushi"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeConflict, res.Code)
	assert.Zero(t, res.Applied)
}

func TestExecuteActionHandlerDecline(t *testing.T) {
	f := newFixture(t)
	h := &stubHandler{
		actionType: "test.decline",
		execute: func(context.Context, ActionContext) (*Outcome, error) {
			return &Outcome{Success: false, Message: "the harvest failed"}, nil
		},
	}
	require.NoError(t, f.engine.Actions().Register(h))

	res := f.engine.ExecuteAction(f.ctx, ActionContext{Type: "test.decline", Scenario: "sangokushi"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, CodeDeclined, res.Code)
	assert.Equal(t, "the harvest failed", res.Message)
}

func TestDispatchAndQuerySystem(t *testing.T) {
	f := newFixture(t)
	wei := entity.Resolve(entity.RoleFaction, "wei", "sangokushi")

	state, err := f.engine.DispatchSystem(f.ctx, "sangokushi", "tally", &wei, "bump", json.RawMessage(`{"by":3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version, "initialized at 1, bumped to 2")
	assert.JSONEq(t, `{"count":3}`, string(state.State))

	_, err = f.engine.DispatchSystem(f.ctx, "sangokushi", "tally", &wei, "bump", json.RawMessage(`{"by":-1}`))
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))
	assert.Contains(t, err.Error(), "by must be positive")

	_, err = f.engine.DispatchSystem(f.ctx, "sangokushi", "tally", &wei, "reset", nil)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = f.engine.DispatchSystem(f.ctx, "sangokushi", "taxes", &wei, "bump", nil)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = f.engine.DispatchSystem(f.ctx, "sangokushi", "tally", nil, "bump", json.RawMessage(`{"by":1}`))
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err), "faction scope needs a faction owner")

	count, err := f.engine.QuerySystem(f.ctx, "sangokushi", "tally", &wei, "count", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	shu := entity.Resolve(entity.RoleFaction, "shu", "sangokushi")
	_, err = f.engine.QuerySystem(f.ctx, "sangokushi", "tally", &shu, "count", nil)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestTickSystems(t *testing.T) {
	f := newFixture(t)
	wei := entity.Resolve(entity.RoleFaction, "wei", "sangokushi")
	shu := entity.Resolve(entity.RoleFaction, "shu", "sangokushi")
	empire := entity.Resolve(entity.RoleFaction, "empire", "logh")

	for _, owner := range []entity.RoleRef{wei, shu, empire} {
		_, err := f.engine.DispatchSystem(f.ctx, owner.Scenario, "tally", &owner, "bump", json.RawMessage(`{"by":5}`))
		require.NoError(t, err)
	}

	stats, err := f.engine.TickSystems(f.ctx, "sangokushi")
	require.NoError(t, err)
	assert.Equal(t, TickStats{Ticked: 2}, stats)

	count, err := f.engine.QuerySystem(f.ctx, "sangokushi", "tally", &wei, "count", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	count, err = f.engine.QuerySystem(f.ctx, "logh", "tally", &empire, "count", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "other scenarios do not tick")
}
