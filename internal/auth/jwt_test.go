package auth

import (
	"testing"
	"time"

	"hegemony-server/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokens(secret, time.Hour)
	require.NoError(t, err)

	signed, err := tokens.Generate(Claims{
		PlayerID: "p1",
		Username: "cao",
		Scenario: "sangokushi",
		Faction:  "sangokushi:faction:wei",
	})
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PlayerID)
	assert.Equal(t, "player_p1", claims.Subject)
	assert.False(t, claims.IsAdmin())

	faction, err := claims.FactionRef()
	require.NoError(t, err)
	assert.Equal(t, entity.Resolve(entity.RoleFaction, "wei", "sangokushi"), *faction)

	commander, err := claims.CommanderRef()
	require.NoError(t, err)
	assert.Nil(t, commander)
}

func TestTokenRejections(t *testing.T) {
	_, err := NewTokens("short", time.Hour)
	assert.Error(t, err)

	tokens, err := NewTokens(secret, time.Hour)
	require.NoError(t, err)
	other, err := NewTokens(secret+"-other", time.Hour)
	require.NoError(t, err)

	signed, err := other.Generate(Claims{PlayerID: "p1"})
	require.NoError(t, err)
	_, err = tokens.Validate(signed)
	assert.Error(t, err, "signed with another secret")

	expired, err := NewTokens(secret, time.Nanosecond)
	require.NoError(t, err)
	signed, err = expired.Generate(Claims{PlayerID: "p1"})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = tokens.Validate(signed)
	assert.Error(t, err, "expired")

	bad := Claims{Faction: "sangokushi:settlement:xuchang"}
	_, err = bad.FactionRef()
	assert.Error(t, err)
}
