package entity

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Patch is a key-wise merge onto an Entity. Map entries replace the stored
// value for their key; an empty RefValue or a nil Ext value removes the key.
// Unset lists dotted paths to remove, such as "attributes.morale".
type Patch struct {
	Name       *string                    `json:"name,omitempty"`
	Attributes map[string]float64         `json:"attributes,omitempty"`
	Resources  map[string]float64         `json:"resources,omitempty"`
	Slots      map[string]Slot            `json:"slots,omitempty"`
	Refs       map[string]RefValue        `json:"refs,omitempty"`
	Systems    map[string]json.RawMessage `json:"systems,omitempty"`
	Ext        map[string]any             `json:"ext,omitempty"`
	Unset      []string                   `json:"unset,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil &&
		len(p.Attributes) == 0 &&
		len(p.Resources) == 0 &&
		len(p.Slots) == 0 &&
		len(p.Refs) == 0 &&
		len(p.Systems) == 0 &&
		len(p.Ext) == 0 &&
		len(p.Unset) == 0
}

// Apply merges the patch into e in place. Version and timestamps are left to
// the caller, which owns the concurrency protocol.
func (p Patch) Apply(e *Entity) {
	if p.Name != nil {
		e.Name = *p.Name
	}

	for k, v := range p.Attributes {
		if e.Attributes == nil {
			e.Attributes = make(map[string]float64)
		}
		e.Attributes[k] = v
	}

	for k, v := range p.Resources {
		if e.Resources == nil {
			e.Resources = make(map[string]float64)
		}
		e.Resources[k] = v
	}

	for k, v := range p.Slots {
		if e.Slots == nil {
			e.Slots = make(map[string]Slot)
		}
		e.Slots[k] = v.clone()
	}

	for k, v := range p.Refs {
		if v.IsEmpty() {
			delete(e.Refs, k)
			continue
		}
		if e.Refs == nil {
			e.Refs = make(map[string]RefValue)
		}
		e.Refs[k] = v.clone()
	}

	for k, v := range p.Systems {
		if e.Systems == nil {
			e.Systems = make(map[string]json.RawMessage)
		}
		e.Systems[k] = bytes.Clone(v)
	}

	for k, v := range p.Ext {
		if v == nil {
			delete(e.Ext, k)
			continue
		}
		if e.Ext == nil {
			e.Ext = make(map[string]any)
		}
		e.Ext[k] = deepCopyValue(v)
	}

	for _, path := range p.Unset {
		unset(e, path)
	}
}

func unset(e *Entity, path string) {
	section, key, ok := strings.Cut(path, ".")
	if !ok {
		return
	}

	switch section {
	case "attributes":
		delete(e.Attributes, key)
	case "resources":
		delete(e.Resources, key)
	case "slots":
		delete(e.Slots, key)
	case "refs":
		delete(e.Refs, key)
	case "systems":
		delete(e.Systems, key)
	case "ext":
		delete(e.Ext, key)
	}
}

// Merge folds other into p; keys in other win.
func (p Patch) Merge(other Patch) Patch {
	out := p
	if other.Name != nil {
		out.Name = other.Name
	}
	out.Attributes = mergeInto(out.Attributes, other.Attributes)
	out.Resources = mergeInto(out.Resources, other.Resources)
	out.Slots = mergeInto(out.Slots, other.Slots)
	out.Refs = mergeInto(out.Refs, other.Refs)
	out.Systems = mergeInto(out.Systems, other.Systems)
	out.Ext = mergeInto(out.Ext, other.Ext)
	out.Unset = append(append([]string(nil), p.Unset...), other.Unset...)
	return out
}

func mergeInto[V any](dst, src map[string]V) map[string]V {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]V, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
