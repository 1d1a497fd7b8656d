package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchApplyMergesKeys(t *testing.T) {
	e := NewEntity(Resolve(RoleSettlement, "chang_an", "sangokushi"), "Chang'an")
	e.Attributes = map[string]float64{"agriculture": 100, "commerce": 50}
	e.Refs = map[string]RefValue{"owner": One(Resolve(RoleFaction, "han", "sangokushi"))}

	name := "Chang'an (Dong Zhuo)"
	p := Patch{
		Name:       &name,
		Attributes: map[string]float64{"agriculture": 120},
		Resources:  map[string]float64{"gold": 10},
		Refs:       map[string]RefValue{"owner": One(Resolve(RoleFaction, "dong_zhuo", "sangokushi"))},
		Systems:    map[string]json.RawMessage{"tax": json.RawMessage(`{"rate":0.1}`)},
	}
	require.False(t, p.IsEmpty())
	p.Apply(e)

	assert.Equal(t, name, e.Name)
	assert.Equal(t, 120.0, e.Attributes["agriculture"])
	assert.Equal(t, 50.0, e.Attributes["commerce"])
	assert.Equal(t, 10.0, e.Resources["gold"])
	owner, ok := e.RefOne("owner")
	require.True(t, ok)
	assert.Equal(t, "dong_zhuo", owner.ID)
	assert.JSONEq(t, `{"rate":0.1}`, string(e.Systems["tax"]))
}

func TestPatchRemovesKeys(t *testing.T) {
	e := NewEntity(Resolve(RoleCommander, "lu_bu", "sangokushi"), "Lu Bu")
	e.Attributes = map[string]float64{"loyalty": 10, "might": 100}
	e.Refs = map[string]RefValue{
		"faction":  One(Resolve(RoleFaction, "dong_zhuo", "sangokushi")),
		"location": One(Resolve(RoleSettlement, "chang_an", "sangokushi")),
	}
	e.Ext = map[string]any{"betrayals": 2.0, "horse": "red_hare"}

	Patch{
		Refs:  map[string]RefValue{"faction": {}},
		Ext:   map[string]any{"betrayals": nil},
		Unset: []string{"attributes.loyalty", "refs.location", "bogus"},
	}.Apply(e)

	assert.NotContains(t, e.Attributes, "loyalty")
	assert.Contains(t, e.Attributes, "might")
	assert.Empty(t, e.Refs)
	assert.Equal(t, map[string]any{"horse": "red_hare"}, e.Ext)
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Unset: []string{"ext.a"}}.IsEmpty())
}

func TestPatchMergeLaterWins(t *testing.T) {
	a := Patch{Resources: map[string]float64{"gold": 1, "rice": 2}}
	b := Patch{Resources: map[string]float64{"gold": 5}}

	merged := a.Merge(b)
	assert.Equal(t, map[string]float64{"gold": 5, "rice": 2}, merged.Resources)
	assert.Equal(t, map[string]float64{"gold": 1, "rice": 2}, a.Resources)
}
