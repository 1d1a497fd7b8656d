package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Entity is the scenario-neutral record stored for every game object. The
// meaning of attribute, resource and slot keys is defined by the scenario.
type Entity struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Attributes map[string]float64         `json:"attributes,omitempty"`
	Slots      map[string]Slot            `json:"slots,omitempty"`
	Resources  map[string]float64         `json:"resources,omitempty"`
	Refs       map[string]RefValue        `json:"refs,omitempty"`
	Systems    map[string]json.RawMessage `json:"systems,omitempty"`
	Ext        map[string]any             `json:"ext,omitempty"`
}

// Slot is a capacity-bound counter such as a production line or building.
type Slot struct {
	Value    float64        `json:"value"`
	Max      float64        `json:"max"`
	Level    *int           `json:"level,omitempty"`
	Progress *float64       `json:"progress,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// NewEntity returns an empty entity at version 1.
func NewEntity(ref RoleRef, name string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:        ref.ID,
		Scenario:  ref.Scenario,
		Role:      ref.Role,
		Name:      name,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Entity) Ref() RoleRef {
	return RoleRef{Role: e.Role, ID: e.ID, Scenario: e.Scenario}
}

func (e *Entity) Attribute(key string) float64 {
	return e.Attributes[key]
}

func (e *Entity) Resource(key string) float64 {
	return e.Resources[key]
}

// RefOne returns the single reference stored under key.
func (e *Entity) RefOne(key string) (RoleRef, bool) {
	v, ok := e.Refs[key]
	if !ok || v.IsList() || v.One == nil {
		return RoleRef{}, false
	}
	return *v.One, true
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}

	out := *e
	out.Attributes = maps.Clone(e.Attributes)
	out.Resources = maps.Clone(e.Resources)

	if e.Slots != nil {
		out.Slots = make(map[string]Slot, len(e.Slots))
		for k, s := range e.Slots {
			out.Slots[k] = s.clone()
		}
	}
	if e.Refs != nil {
		out.Refs = make(map[string]RefValue, len(e.Refs))
		for k, r := range e.Refs {
			out.Refs[k] = r.clone()
		}
	}
	if e.Systems != nil {
		out.Systems = make(map[string]json.RawMessage, len(e.Systems))
		for k, raw := range e.Systems {
			out.Systems[k] = bytes.Clone(raw)
		}
	}
	if e.Ext != nil {
		out.Ext = deepCopyMap(e.Ext)
	}
	return &out
}

func (s Slot) clone() Slot {
	out := s
	if s.Level != nil {
		level := *s.Level
		out.Level = &level
	}
	if s.Progress != nil {
		progress := *s.Progress
		out.Progress = &progress
	}
	if s.Meta != nil {
		out.Meta = deepCopyMap(s.Meta)
	}
	return out
}

// RefValue is either one reference or an ordered list of references.
type RefValue struct {
	One  *RoleRef
	Many []RoleRef
	list bool
}

func One(ref RoleRef) RefValue {
	return RefValue{One: &ref}
}

func Many(refs ...RoleRef) RefValue {
	out := make([]RoleRef, len(refs))
	copy(out, refs)
	return RefValue{Many: out, list: true}
}

func (v RefValue) IsList() bool {
	return v.list
}

// IsEmpty reports whether the value holds no reference; a patch uses an empty
// value to delete the key.
func (v RefValue) IsEmpty() bool {
	return v.One == nil && !v.list
}

// Refs flattens the value into a slice.
func (v RefValue) Refs() []RoleRef {
	if v.list {
		return v.Many
	}
	if v.One != nil {
		return []RoleRef{*v.One}
	}
	return nil
}

func (v RefValue) clone() RefValue {
	if v.list {
		return Many(v.Many...)
	}
	if v.One != nil {
		return One(*v.One)
	}
	return RefValue{}
}

func (v RefValue) MarshalJSON() ([]byte, error) {
	if v.list {
		if v.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Many)
	}
	if v.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v.One)
}

func (v *RefValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = RefValue{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var many []RoleRef
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return fmt.Errorf("failed to decode ref list: %w", err)
		}
		*v = RefValue{Many: many, list: true}
		return nil
	default:
		var one RoleRef
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return fmt.Errorf("failed to decode ref: %w", err)
		}
		*v = RefValue{One: &one}
		return nil
	}
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
