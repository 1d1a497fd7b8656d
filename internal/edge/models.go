package edge

import (
	"time"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
)

// Edge is a directed relationship between two entities of one scenario.
type Edge struct {
	ID        string               `json:"id"`
	Scenario  string               `json:"scenario"`
	Key       scenario.RelationKey `json:"key"`
	From      entity.RoleRef       `json:"from"`
	To        entity.RoleRef       `json:"to"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}

func New(key scenario.RelationKey, from, to entity.RoleRef) *Edge {
	return &Edge{
		Scenario: from.Scenario,
		Key:      key,
		From:     from,
		To:       to,
	}
}
