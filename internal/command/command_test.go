package command

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"hegemony-server/internal/cache"
	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database/dbtest"
	"hegemony-server/internal/shared/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	wei      = entity.Resolve(entity.RoleFaction, "wei", "sangokushi")
	shu      = entity.Resolve(entity.RoleFaction, "shu", "sangokushi")
	xuchang  = entity.Resolve(entity.RoleSettlement, "xuchang", "sangokushi")
	chengdu  = entity.Resolve(entity.RoleSettlement, "chengdu", "sangokushi")
	tiger    = entity.Resolve(entity.RoleForce, "tiger-cavalry", "sangokushi")
	whiteEar = entity.Resolve(entity.RoleForce, "white-ear", "sangokushi")
	caoRen   = entity.Resolve(entity.RoleCommander, "cao-ren", "sangokushi")
	liuBei   = entity.Resolve(entity.RoleCommander, "liu-bei", "sangokushi")
	empire   = entity.Resolve(entity.RoleFaction, "empire", "logh")
	odin     = entity.Resolve(entity.RoleSettlement, "odin", "logh")
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	db := dbtest.NewSQLite(t)

	scenarios := scenario.NewRegistry(logger)
	resources := scenario.NewResourceRegistry()
	_, err := scenario.NewLoader(scenarios, resources, logger).LoadFS(scenario.Builtin())
	require.NoError(t, err)

	m, err := metrics.New(sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	eng := engine.New(engine.Deps{
		Cache:     cache.New(cache.NewMemoryShared(time.Minute), cache.Options{}, logger),
		Scenarios: scenarios,
		Resources: resources,
		Entities:  entity.NewRepository(db, logger),
		States:    gamesystem.NewRepository(db, logger),
		Metrics:   m,
		Logger:    logger,
	})
	require.NoError(t, Register(eng.Actions(), eng.Systems()))

	seed := func(e *entity.Entity) {
		_, err := eng.CreateEntity(context.Background(), e)
		require.NoError(t, err)
	}

	weiFaction := entity.NewEntity(wei, "Wei")
	weiFaction.Resources = map[string]float64{"gold": 1000, "rice": 5000}
	seed(weiFaction)
	seed(entity.NewEntity(shu, "Shu"))

	for ref, owner := range map[entity.RoleRef]entity.RoleRef{xuchang: wei, chengdu: shu} {
		city := entity.NewEntity(ref, ref.ID)
		city.Attributes = map[string]float64{"agriculture": 300}
		city.Refs = map[string]entity.RefValue{"owned_by": entity.One(owner)}
		seed(city)
	}

	for ref, faction := range map[entity.RoleRef]entity.RoleRef{caoRen: wei, liuBei: shu} {
		commander := entity.NewEntity(ref, ref.ID)
		commander.Refs = map[string]entity.RefValue{"member_of": entity.One(faction)}
		seed(commander)
	}
	for ref, commander := range map[entity.RoleRef]entity.RoleRef{tiger: caoRen, whiteEar: liuBei} {
		force := entity.NewEntity(ref, ref.ID)
		force.Attributes = map[string]float64{"strength": 5000}
		force.Refs = map[string]entity.RefValue{"commanded_by": entity.One(commander)}
		seed(force)
	}

	empireFaction := entity.NewEntity(empire, "Galactic Empire")
	empireFaction.Resources = map[string]float64{"credits": 1000}
	seed(empireFaction)
	planet := entity.NewEntity(odin, "Odin")
	planet.Attributes = map[string]float64{"industry": 6000}
	planet.Refs = map[string]entity.RefValue{"owned_by": entity.One(empire)}
	seed(planet)

	return eng
}

func run(t *testing.T, eng *engine.Engine, actionType string, faction entity.RoleRef, payload any) *engine.ActionResult {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return eng.ExecuteAction(context.Background(), engine.ActionContext{
		Type:     actionType,
		Scenario: faction.Scenario,
		Faction:  &faction,
	}, raw)
}

func load(t *testing.T, eng *engine.Engine, ref entity.RoleRef) *entity.Entity {
	t.Helper()
	e, err := eng.LoadEntity(context.Background(), ref)
	require.NoError(t, err)
	return e
}

func TestDevelopSpendsFactionResources(t *testing.T) {
	eng := newEngine(t)

	res := run(t, eng, "domestic.develop", wei, DevelopPayload{SettlementID: "xuchang", Attribute: "agriculture", Amount: 50})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Applied)

	assert.Equal(t, 900.0, load(t, eng, wei).Resource("gold"))
	city := load(t, eng, xuchang)
	assert.Equal(t, 350.0, city.Attribute("agriculture"))
	assert.Equal(t, int64(2), city.Version)
}

func TestDevelopInTheSpaceScenario(t *testing.T) {
	eng := newEngine(t)

	res := run(t, eng, "domestic.develop", empire, DevelopPayload{SettlementID: "odin", Attribute: "industry", Amount: 10})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, 875.0, load(t, eng, empire).Resource("credits"))
	assert.Equal(t, 6010.0, load(t, eng, odin).Attribute("industry"))
}

func TestDevelopValidation(t *testing.T) {
	eng := newEngine(t)

	cases := map[string]struct {
		faction entity.RoleRef
		payload DevelopPayload
		want    string
	}{
		"too expensive":     {wei, DevelopPayload{SettlementID: "xuchang", Attribute: "agriculture", Amount: 600}, "insufficient gold"},
		"foreign city":      {wei, DevelopPayload{SettlementID: "chengdu", Attribute: "agriculture", Amount: 1}, "is not held by"},
		"unknown attribute": {wei, DevelopPayload{SettlementID: "xuchang", Attribute: "industry", Amount: 1}, `attribute "industry" does not exist`},
		"no amount":         {wei, DevelopPayload{SettlementID: "xuchang", Attribute: "agriculture"}, "amount must be positive"},
		"uncached city":     {wei, DevelopPayload{SettlementID: "luoyang", Attribute: "agriculture", Amount: 1}, "not found"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := run(t, eng, "domestic.develop", tc.faction, tc.payload)
			assert.False(t, res.Success)
			assert.Equal(t, engine.CodeValidationFailed, res.Code)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[len(res.Errors)-1], tc.want)
		})
	}

	assert.Equal(t, 1000.0, load(t, eng, wei).Resource("gold"), "rejected actions spend nothing")
}

func TestConvert(t *testing.T) {
	eng := newEngine(t)

	res := run(t, eng, "logistics.convert", wei, ConvertPayload{From: "rice", To: "gold", Amount: 1000})
	require.True(t, res.Success, res.Message)

	faction := load(t, eng, wei)
	assert.Equal(t, 4000.0, faction.Resource("rice"))
	assert.Equal(t, 1500.0, faction.Resource("gold"))

	res = run(t, eng, "logistics.convert", wei, ConvertPayload{From: "rice", To: "gold", Amount: 9000})
	assert.Equal(t, engine.CodeValidationFailed, res.Code)

	res = run(t, eng, "logistics.convert", empire, ConvertPayload{From: "rice", To: "gold", Amount: 10})
	assert.Equal(t, engine.CodeValidationFailed, res.Code, "no rice in space")
}

func TestGarrison(t *testing.T) {
	eng := newEngine(t)

	res := run(t, eng, "military.garrison", wei, GarrisonPayload{ForceID: "tiger-cavalry", SettlementID: "xuchang"})
	require.True(t, res.Success, res.Message)

	at, ok := load(t, eng, tiger).RefOne("garrisoned_at")
	require.True(t, ok)
	assert.Equal(t, xuchang, at)

	res = run(t, eng, "military.garrison", wei, GarrisonPayload{ForceID: "tiger-cavalry", SettlementID: "xuchang"})
	assert.Equal(t, engine.CodeValidationFailed, res.Code, "already there")

	res = run(t, eng, "military.garrison", wei, GarrisonPayload{ForceID: "tiger-cavalry", SettlementID: "chengdu"})
	assert.Equal(t, engine.CodeValidationFailed, res.Code, "not our city")

	res = run(t, eng, "military.garrison", wei, GarrisonPayload{ForceID: "white-ear", SettlementID: "xuchang"})
	assert.Equal(t, engine.CodeValidationFailed, res.Code)
	assert.Contains(t, res.Errors, "white-ear does not serve your faction")
	_, ok = load(t, eng, whiteEar).RefOne("garrisoned_at")
	assert.False(t, ok, "another faction's force stays put")
}

func TestTreasury(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, err := eng.DispatchSystem(ctx, "sangokushi", "treasury", &wei, "deposit", json.RawMessage(`{"amount":500}`))
	require.NoError(t, err)
	_, err = eng.DispatchSystem(ctx, "sangokushi", "treasury", &wei, "withdraw", json.RawMessage(`{"amount":120}`))
	require.NoError(t, err)

	_, err = eng.DispatchSystem(ctx, "sangokushi", "treasury", &wei, "withdraw", json.RawMessage(`{"amount":1000}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient treasury")

	stats, err := eng.TickSystems(ctx, "sangokushi")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ticked)

	balance, err := eng.QuerySystem(ctx, "sangokushi", "treasury", &wei, "balance", nil)
	require.NoError(t, err)
	assert.Equal(t, TreasuryBalance{Balance: 383.8, Rate: defaultTreasuryRate}, balance)
}
