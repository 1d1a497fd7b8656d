package cache

import (
	"strings"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
)

const (
	entityPrefix = "entity:"
	systemPrefix = "system:"
)

func EntityKey(ref entity.RoleRef) string {
	return entityPrefix + ref.String()
}

func SystemKey(scenario, systemID string, owner *entity.RoleRef) string {
	return systemPrefix + gamesystem.StateKey(scenario, systemID, owner)
}

// SystemIndex names the set of system-state keys cached for one system.
func SystemIndex(scenario, systemID string) string {
	return "systems:" + scenario + ":" + systemID
}

// IsEntityKey reports whether key was built by EntityKey.
func IsEntityKey(key string) bool {
	return strings.HasPrefix(key, entityPrefix)
}

// IsSystemKey reports whether key was built by SystemKey.
func IsSystemKey(key string) bool {
	return strings.HasPrefix(key, systemPrefix)
}

// EntityRef recovers the reference from an entity key.
func EntityRef(key string) (entity.RoleRef, bool) {
	if !IsEntityKey(key) {
		return entity.RoleRef{}, false
	}
	return entity.ParseRef(strings.TrimPrefix(key, entityPrefix))
}
