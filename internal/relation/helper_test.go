package relation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/database/dbtest"
	apperrors "hegemony-server/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *database.DB
	repo   *Repository
	helper *Helper
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	registry := scenario.NewRegistry(logger)
	_, err := scenario.NewLoader(registry, scenario.NewResourceRegistry(), logger).LoadFS(scenario.Builtin())
	require.NoError(t, err)

	db := dbtest.NewSQLite(t)
	repo := NewRepository(db, registry, logger)
	return fixture{db: db, repo: repo, helper: NewHelper(repo, registry, logger)}
}

func TestRelationRoundTripInBothWorlds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		scenario   string
		collection string
		field      string
	}{
		{"sangokushi", "cities", "nationId"},
		{"logh", "planets", "powerId"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			settlement := entity.Resolve(entity.RoleSettlement, "s1", tc.scenario)
			faction := entity.Resolve(entity.RoleFaction, "f1", tc.scenario)

			require.NoError(t, f.repo.Put(ctx, settlement, Document{"name": "Capital"}, nil))
			require.NoError(t, f.helper.SetRelated(ctx, settlement, scenario.RelationOwnedBy, &faction))

			got, err := f.helper.GetRelated(ctx, settlement, scenario.RelationOwnedBy)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, faction, *got)

			owned, err := f.helper.FindByRelation(ctx, scenario.RelationOwnedBy, faction)
			require.NoError(t, err)
			assert.Equal(t, []entity.RoleRef{settlement}, owned)

			doc, err := f.repo.Get(ctx, settlement, nil)
			require.NoError(t, err)
			assert.Equal(t, "f1", doc[tc.field])
			assert.Equal(t, "Capital", doc["name"])

			var count int
			require.NoError(t, f.db.GetContext(ctx, &count,
				"SELECT COUNT(*) FROM documents WHERE collection = ? AND scenario = ?", tc.collection, tc.scenario))
			assert.Equal(t, 1, count)

			require.NoError(t, f.helper.SetRelated(ctx, settlement, scenario.RelationOwnedBy, nil))
			got, err = f.helper.GetRelated(ctx, settlement, scenario.RelationOwnedBy)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestManyRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	treaty := entity.Resolve(entity.RoleDiplomacy, "red_cliffs", "sangokushi")
	shu := entity.Resolve(entity.RoleFaction, "shu", "sangokushi")
	wu := entity.Resolve(entity.RoleFaction, "wu", "sangokushi")

	require.NoError(t, f.repo.Put(ctx, treaty, Document{"kind": "alliance"}, nil))
	require.NoError(t, f.helper.AddRelated(ctx, treaty, scenario.RelationPartyTo, shu))
	require.NoError(t, f.helper.AddRelated(ctx, treaty, scenario.RelationPartyTo, wu))
	require.NoError(t, f.helper.AddRelated(ctx, treaty, scenario.RelationPartyTo, wu))

	parties, err := f.helper.GetRelatedMany(ctx, treaty, scenario.RelationPartyTo)
	require.NoError(t, err)
	assert.Equal(t, []entity.RoleRef{shu, wu}, parties)

	treaties, err := f.helper.FindByRelation(ctx, scenario.RelationPartyTo, wu)
	require.NoError(t, err)
	assert.Equal(t, []entity.RoleRef{treaty}, treaties)

	require.NoError(t, f.helper.RemoveRelated(ctx, treaty, scenario.RelationPartyTo, wu))
	parties, err = f.helper.GetRelatedMany(ctx, treaty, scenario.RelationPartyTo)
	require.NoError(t, err)
	assert.Equal(t, []entity.RoleRef{shu}, parties)

	err = f.helper.SetRelated(ctx, treaty, scenario.RelationPartyTo, &shu)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))
}

func TestConcurrentAddRelatedKeepsEveryTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	treaty := entity.Resolve(entity.RoleDiplomacy, "coalition", "sangokushi")
	require.NoError(t, f.repo.Put(ctx, treaty, Document{"kind": "coalition"}, nil))

	var want []entity.RoleRef
	var wg sync.WaitGroup
	for i := range 8 {
		party := entity.Resolve(entity.RoleFaction, fmt.Sprintf("lord%d", i), "sangokushi")
		want = append(want, party)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.helper.AddRelated(ctx, treaty, scenario.RelationPartyTo, party))
		}()
	}
	wg.Wait()

	parties, err := f.helper.GetRelatedMany(ctx, treaty, scenario.RelationPartyTo)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, parties)
}

func TestUpdateCreatesMissingDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	city := entity.Resolve(entity.RoleSettlement, "wancheng", "sangokushi")

	doc, err := f.repo.Update(ctx, city, Document{"name": "Wancheng"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "wancheng", "name": "Wancheng"}, doc)

	stored, err := f.repo.Get(ctx, city, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wancheng", stored["name"])

	_, err = f.repo.GetForUpdate(ctx, city, nil)
	assert.Error(t, err, "locking reads need a transaction")
}

func TestUnavailableRelationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := entity.Resolve(entity.RoleItem, "seal", "logh")
	_, err := f.helper.GetRelated(ctx, item, scenario.RelationHeldBy)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.ErrorIs(t, err, ErrRelationUnavailable)

	_, err = f.repo.Get(ctx, item, nil)
	assert.ErrorIs(t, err, ErrRoleUnavailable)
}

func TestRelationsNeverCrossScenarios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	city := entity.Resolve(entity.RoleSettlement, "luoyang", "sangokushi")
	empire := entity.Resolve(entity.RoleFaction, "empire", "logh")
	require.NoError(t, f.repo.Put(ctx, city, Document{}, nil))

	err := f.helper.SetRelated(ctx, city, scenario.RelationOwnedBy, &empire)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))

	commander := entity.Resolve(entity.RoleCommander, "guan_yu", "sangokushi")
	err = f.helper.SetRelated(ctx, city, scenario.RelationOwnedBy, &commander)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err), "wrong target role")
}

func TestRepositoryUpdateMergesAndDeletesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	general := entity.Resolve(entity.RoleCommander, "zhao_yun", "sangokushi")

	doc, err := f.repo.Update(ctx, general, Document{"might": 96.0, "title": "General"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "zhao_yun", doc["id"])

	doc, err = f.repo.Update(ctx, general, Document{"title": nil, "horse": "white"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, doc, "title")
	assert.Equal(t, 96.0, doc["might"])

	found, err := f.repo.FindByField(ctx, "sangokushi", entity.RoleCommander, "horse", "white", nil)
	require.NoError(t, err)
	assert.Equal(t, []entity.RoleRef{general}, found)

	require.NoError(t, f.repo.Delete(ctx, general, nil))
	gone, err := f.repo.Get(ctx, general, nil)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
