package auth

import (
	"hegemony-server/internal/entity"
	"hegemony-server/internal/shared/errors"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

// Claims identify a player and the side they play in one scenario. Faction
// and Commander hold canonical entity references.
type Claims struct {
	PlayerID  string `json:"player_id"`
	Username  string `json:"username"`
	Role      string `json:"role,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Faction   string `json:"faction,omitempty"`
	Commander string `json:"commander,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// FactionRef returns the faction the player acts for, or nil when the token
// carries none.
func (c *Claims) FactionRef() (*entity.RoleRef, error) {
	return parseRef(c.Faction, entity.RoleFaction)
}

func (c *Claims) CommanderRef() (*entity.RoleRef, error) {
	return parseRef(c.Commander, entity.RoleCommander)
}

func parseRef(canonical string, role entity.Role) (*entity.RoleRef, error) {
	if canonical == "" {
		return nil, nil
	}
	ref, ok := entity.ParseRef(canonical)
	if !ok || ref.Role != role {
		return nil, errors.Unauthorized("token carries an invalid " + string(role) + " reference")
	}
	return &ref, nil
}
