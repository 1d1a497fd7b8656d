package scenario

import (
	"hegemony-server/internal/entity"
	"hegemony-server/internal/shared/errors"
)

// RelationKey names a directed relationship between two roles. The set is
// closed: every scenario maps a subset of these keys onto its own fields.
type RelationKey string

const (
	RelationOwnedBy      RelationKey = "owned_by"
	RelationMemberOf     RelationKey = "member_of"
	RelationLocatedAt    RelationKey = "located_at"
	RelationGarrisonedAt RelationKey = "garrisoned_at"
	RelationCommandedBy  RelationKey = "commanded_by"
	RelationLedBy        RelationKey = "led_by"
	RelationPartyTo      RelationKey = "party_to"
	RelationHeldBy       RelationKey = "held_by"
)

type relationShape struct {
	from entity.Role
	to   entity.Role
	many bool
}

var relationTable = map[RelationKey]relationShape{
	RelationOwnedBy:      {from: entity.RoleSettlement, to: entity.RoleFaction},
	RelationMemberOf:     {from: entity.RoleCommander, to: entity.RoleFaction},
	RelationLocatedAt:    {from: entity.RoleCommander, to: entity.RoleSettlement},
	RelationGarrisonedAt: {from: entity.RoleForce, to: entity.RoleSettlement},
	RelationCommandedBy:  {from: entity.RoleForce, to: entity.RoleCommander},
	RelationLedBy:        {from: entity.RoleFaction, to: entity.RoleCommander},
	RelationPartyTo:      {from: entity.RoleDiplomacy, to: entity.RoleFaction, many: true},
	RelationHeldBy:       {from: entity.RoleItem, to: entity.RoleCommander},
}

func (k RelationKey) Valid() bool {
	_, ok := relationTable[k]
	return ok
}

// Endpoints returns the roles a relation connects and whether it is
// one-to-many.
func (k RelationKey) Endpoints() (from, to entity.Role, many bool, ok bool) {
	shape, ok := relationTable[k]
	return shape.from, shape.to, shape.many, ok
}

// RoleConfig maps an abstract role onto the scenario's storage collection.
type RoleConfig struct {
	Collection string `yaml:"collection" json:"collection"`
	Label      string `yaml:"label" json:"label,omitempty"`
}

// RelationConfig tells the relation helper which document field carries a
// relation in this scenario.
type RelationConfig struct {
	From     entity.Role `yaml:"from" json:"from"`
	To       entity.Role `yaml:"to" json:"to"`
	ViaField string      `yaml:"viaField" json:"viaField"`
	Many     bool        `yaml:"many" json:"many,omitempty"`
}

type AttributeDef struct {
	Label   string   `yaml:"label" json:"label,omitempty"`
	Min     *float64 `yaml:"min" json:"min,omitempty"`
	Max     *float64 `yaml:"max" json:"max,omitempty"`
	Default float64  `yaml:"default" json:"default,omitempty"`
}

type SlotDef struct {
	Label    string  `yaml:"label" json:"label,omitempty"`
	Max      float64 `yaml:"max" json:"max"`
	MaxLevel *int    `yaml:"maxLevel" json:"maxLevel,omitempty"`
}

type ResourceKind string

const (
	ResourceCurrency ResourceKind = "currency"
	ResourceMaterial ResourceKind = "material"
	ResourceCapacity ResourceKind = "capacity"
	ResourceAbstract ResourceKind = "abstract"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceCurrency, ResourceMaterial, ResourceCapacity, ResourceAbstract:
		return true
	}
	return false
}

type ResourceDef struct {
	ID           string       `yaml:"id" json:"id"`
	Label        string       `yaml:"label" json:"label,omitempty"`
	Kind         ResourceKind `yaml:"kind" json:"kind"`
	Min          *float64     `yaml:"min" json:"min,omitempty"`
	Max          *float64     `yaml:"max" json:"max,omitempty"`
	Precision    int          `yaml:"precision" json:"precision"`
	Transferable bool         `yaml:"transferable" json:"transferable"`
}

// ConversionRule is a directed edge of the resource conversion graph:
// converting n units of From yields n*Rate-Fee units of To.
type ConversionRule struct {
	From string  `yaml:"from" json:"from"`
	To   string  `yaml:"to" json:"to"`
	Rate float64 `yaml:"rate" json:"rate"`
	Fee  float64 `yaml:"fee" json:"fee,omitempty"`
}

// SettlementType is one weighted option for generated settlements.
type SettlementType struct {
	Type       string             `yaml:"type" json:"type"`
	Weight     int                `yaml:"weight" json:"weight"`
	Attributes map[string]float64 `yaml:"attributes" json:"attributes,omitempty"`
}

type SeedFaction struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// SeedConfig drives starter world generation.
type SeedConfig struct {
	Factions              []SeedFaction      `yaml:"factions" json:"factions,omitempty"`
	SettlementsPerFaction int                `yaml:"settlementsPerFaction" json:"settlementsPerFaction,omitempty"`
	CommandersPerFaction  int                `yaml:"commandersPerFaction" json:"commandersPerFaction,omitempty"`
	SettlementTypes       []SettlementType   `yaml:"settlementTypes" json:"settlementTypes,omitempty"`
	SettlementNames       []string           `yaml:"settlementNames" json:"settlementNames,omitempty"`
	StartingResources     map[string]float64 `yaml:"startingResources" json:"startingResources,omitempty"`
	ForceStrength         float64            `yaml:"forceStrength" json:"forceStrength,omitempty"`
}

// Config is one scenario's full description.
type Config struct {
	ID          string                         `yaml:"id" json:"id"`
	Name        string                         `yaml:"name" json:"name"`
	Description string                         `yaml:"description" json:"description,omitempty"`
	Roles       map[entity.Role]RoleConfig     `yaml:"roles" json:"roles"`
	Relations   map[RelationKey]RelationConfig `yaml:"relations" json:"relations"`
	Attributes  map[string]AttributeDef        `yaml:"attributes" json:"attributes,omitempty"`
	Slots       map[string]SlotDef             `yaml:"slots" json:"slots,omitempty"`
	Resources   []ResourceDef                  `yaml:"resources" json:"resources,omitempty"`
	Conversions []ConversionRule               `yaml:"conversions" json:"conversions,omitempty"`
	Seed        SeedConfig                     `yaml:"seed" json:"seed,omitempty"`
}

func (c *Config) HasRole(role entity.Role) bool {
	_, ok := c.Roles[role]
	return ok
}

// Clamp forces attributes and slots of e into the configured bounds and
// returns the keys it changed.
func (c *Config) Clamp(e *entity.Entity) []string {
	var changed []string

	for key, value := range e.Attributes {
		def, ok := c.Attributes[key]
		if !ok {
			continue
		}
		clamped := value
		if def.Min != nil && clamped < *def.Min {
			clamped = *def.Min
		}
		if def.Max != nil && clamped > *def.Max {
			clamped = *def.Max
		}
		if clamped != value {
			e.Attributes[key] = clamped
			changed = append(changed, "attributes."+key)
		}
	}

	for key, slot := range e.Slots {
		def, hasDef := c.Slots[key]
		limit := slot.Max
		if hasDef && def.Max > 0 && (limit <= 0 || def.Max < limit) {
			limit = def.Max
		}

		next := slot
		next.Max = limit
		if next.Value < 0 {
			next.Value = 0
		}
		if limit > 0 && next.Value > limit {
			next.Value = limit
		}
		if hasDef && def.MaxLevel != nil && next.Level != nil && *next.Level > *def.MaxLevel {
			level := *def.MaxLevel
			next.Level = &level
		}
		if next.Progress != nil && (*next.Progress < 0 || *next.Progress > 1) {
			progress := min(max(*next.Progress, 0), 1)
			next.Progress = &progress
		}

		if next.Value != slot.Value || next.Max != slot.Max || next.Level != slot.Level || next.Progress != slot.Progress {
			e.Slots[key] = next
			changed = append(changed, "slots."+key)
		}
	}

	return changed
}

// ValidateEntity reports structural problems of e against this scenario.
func (c *Config) ValidateEntity(e *entity.Entity) error {
	if e.Scenario != c.ID {
		return errors.Validationf("entity %s belongs to scenario %q, not %q", e.Ref().String(), e.Scenario, c.ID)
	}
	if !c.HasRole(e.Role) {
		return errors.Validationf("role %s is not available in scenario %q", e.Role, c.ID)
	}
	for key, ref := range e.Refs {
		for _, target := range ref.Refs() {
			if !target.SameScenario(e.Ref()) {
				return errors.Validationf("ref %s of %s crosses into scenario %q", key, e.Ref().String(), target.Scenario)
			}
		}
	}
	return nil
}
