package entity

import (
	"strings"
)

// Role is the abstract game-object category shared by every scenario.
type Role string

const (
	RoleSettlement Role = "settlement"
	RoleCommander  Role = "commander"
	RoleFaction    Role = "faction"
	RoleForce      Role = "force"
	RoleDiplomacy  Role = "diplomacy"
	RoleItem       Role = "item"
	RolePlayer     Role = "player"
)

var roles = []Role{
	RoleSettlement,
	RoleCommander,
	RoleFaction,
	RoleForce,
	RoleDiplomacy,
	RoleItem,
	RolePlayer,
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

// RoleRef addresses one entity. It is only meaningful inside its scenario.
type RoleRef struct {
	Role     Role   `json:"role"`
	ID       string `json:"id"`
	Scenario string `json:"scenario"`
}

func Resolve(role Role, id, scenario string) RoleRef {
	return RoleRef{Role: role, ID: id, Scenario: scenario}
}

// String returns the canonical form scenario:role:id.
func (r RoleRef) String() string {
	return r.Scenario + ":" + string(r.Role) + ":" + r.ID
}

func (r RoleRef) IsZero() bool {
	return r == RoleRef{}
}

// Valid reports whether every part is present and the role is known.
func (r RoleRef) Valid() bool {
	return r.Scenario != "" && r.ID != "" && r.Role.Valid()
}

// SameScenario reports whether both references live in the same world.
func (r RoleRef) SameScenario(other RoleRef) bool {
	return r.Scenario == other.Scenario
}

// ParseRef parses the canonical form produced by String. Malformed input
// returns false; the id part may itself contain colons.
func ParseRef(s string) (RoleRef, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return RoleRef{}, false
	}

	ref := RoleRef{Scenario: parts[0], Role: Role(parts[1]), ID: parts[2]}
	if !ref.Valid() {
		return RoleRef{}, false
	}
	return ref, true
}
