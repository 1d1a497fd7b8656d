package edge

import (
	"context"
	"log/slog"
	"testing"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database/dbtest"
	apperrors "hegemony-server/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wei     = entity.Resolve(entity.RoleFaction, "wei", "sangokushi")
	shu     = entity.Resolve(entity.RoleFaction, "shu", "sangokushi")
	xuchang = entity.Resolve(entity.RoleSettlement, "xuchang", "sangokushi")
	chengdu = entity.Resolve(entity.RoleSettlement, "chengdu", "sangokushi")
	caoCao  = entity.Resolve(entity.RoleCommander, "cao_cao", "sangokushi")
	empire  = entity.Resolve(entity.RoleFaction, "empire", "logh")
	discard = slog.New(slog.DiscardHandler)
	ctx     = context.Background()
)

func TestCreateAndFindEdges(t *testing.T) {
	repo := NewRepository(dbtest.NewSQLite(t), discard)

	created, err := repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, wei), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "sangokushi", created.Scenario)

	_, err = repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, chengdu, shu), nil)
	require.NoError(t, err)
	_, err = repo.CreateEdge(ctx, New(scenario.RelationMemberOf, caoCao, wei), nil)
	require.NoError(t, err)

	toWei, err := repo.FindEdgesTo(ctx, wei, "", nil)
	require.NoError(t, err)
	assert.Len(t, toWei, 2)

	ownedByWei, err := repo.FindEdgesTo(ctx, wei, scenario.RelationOwnedBy, nil)
	require.NoError(t, err)
	require.Len(t, ownedByWei, 1)
	assert.Equal(t, xuchang, ownedByWei[0].From)

	fromXuchang, err := repo.FindEdgesFrom(ctx, xuchang, "", nil)
	require.NoError(t, err)
	require.Len(t, fromXuchang, 1)
	assert.Equal(t, created.ID, fromXuchang[0].ID)

	found, err := repo.FindEdge(ctx, scenario.RelationOwnedBy, xuchang, wei, nil)
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := repo.FindEdge(ctx, scenario.RelationOwnedBy, xuchang, shu, nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEdgeUniqueness(t *testing.T) {
	repo := NewRepository(dbtest.NewSQLite(t), discard)

	_, err := repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, wei), nil)
	require.NoError(t, err)

	_, err = repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, wei), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	edges, err := repo.FindEdgesFrom(ctx, xuchang, scenario.RelationOwnedBy, nil)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestCreateEdgeRejectsInvalidEdges(t *testing.T) {
	repo := NewRepository(dbtest.NewSQLite(t), discard)

	_, err := repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, empire), nil)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err), "cross-scenario")

	_, err = repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, wei, xuchang), nil)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err), "reversed roles")

	_, err = repo.CreateEdge(ctx, New("befriends", xuchang, wei), nil)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err), "unknown key")
}

func TestDeleteEdge(t *testing.T) {
	repo := NewRepository(dbtest.NewSQLite(t), discard)

	_, err := repo.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, wei), nil)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteEdge(ctx, scenario.RelationOwnedBy, xuchang, wei, nil))
	err = repo.DeleteEdge(ctx, scenario.RelationOwnedBy, xuchang, wei, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEntityDeleteLeavesNoDanglingEdges(t *testing.T) {
	db := dbtest.NewSQLite(t)
	edges := NewRepository(db, discard)
	entities := entity.NewRepository(db, discard)
	svc := entity.NewService(db, entities, edges, nil, discard)

	for _, ref := range []entity.RoleRef{wei, shu, xuchang, chengdu, caoCao} {
		require.NoError(t, svc.Create(ctx, entity.NewEntity(ref, ref.ID)))
	}
	_, err := edges.CreateEdge(ctx, New(scenario.RelationOwnedBy, xuchang, wei), nil)
	require.NoError(t, err)
	_, err = edges.CreateEdge(ctx, New(scenario.RelationMemberOf, caoCao, wei), nil)
	require.NoError(t, err)
	_, err = edges.CreateEdge(ctx, New(scenario.RelationLedBy, wei, caoCao), nil)
	require.NoError(t, err)
	_, err = edges.CreateEdge(ctx, New(scenario.RelationOwnedBy, chengdu, shu), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, wei))

	from, err := edges.FindEdgesFrom(ctx, wei, "", nil)
	require.NoError(t, err)
	assert.Empty(t, from)
	to, err := edges.FindEdgesTo(ctx, wei, "", nil)
	require.NoError(t, err)
	assert.Empty(t, to)

	untouched, err := edges.FindEdgesTo(ctx, shu, "", nil)
	require.NoError(t, err)
	assert.Len(t, untouched, 1)

	_, err = svc.Get(ctx, wei)
	assert.True(t, apperrors.IsNotFound(err))
}
