package relation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
)

// ErrRelationUnavailable marks a relation the scenario does not configure.
var ErrRelationUnavailable = errors.New("relation not available in scenario")

// Helper reads and writes relations without knowing which document field a
// scenario uses for them.
type Helper struct {
	repo      *Repository
	scenarios *scenario.Registry
	logger    *slog.Logger
}

func NewHelper(repo *Repository, scenarios *scenario.Registry, logger *slog.Logger) *Helper {
	return &Helper{
		repo:      repo,
		scenarios: scenarios,
		logger:    logger,
	}
}

func (h *Helper) relation(scenarioID string, key scenario.RelationKey) (scenario.RelationConfig, error) {
	rc, ok := h.scenarios.RelationConfig(scenarioID, key)
	if !ok {
		return scenario.RelationConfig{}, errors.WrapNotFound(
			fmt.Sprintf("relation %s is not available in scenario %s", key, scenarioID), ErrRelationUnavailable)
	}
	return rc, nil
}

func (h *Helper) source(ref entity.RoleRef, key scenario.RelationKey) (scenario.RelationConfig, error) {
	rc, err := h.relation(ref.Scenario, key)
	if err != nil {
		return rc, err
	}
	if ref.Role != rc.From {
		return rc, errors.Validationf("relation %s starts at %s, not %s", key, rc.From, ref.Role)
	}
	return rc, nil
}

func (h *Helper) target(ref entity.RoleRef, rc scenario.RelationConfig, key scenario.RelationKey, to entity.RoleRef) error {
	if !ref.SameScenario(to) {
		return errors.Validationf("relation %s cannot point from scenario %s into %s", key, ref.Scenario, to.Scenario)
	}
	if to.Role != rc.To {
		return errors.Validationf("relation %s ends at %s, not %s", key, rc.To, to.Role)
	}
	if to.ID == "" {
		return errors.Validationf("relation %s target has no id", key)
	}
	return nil
}

func (h *Helper) load(ctx context.Context, ref entity.RoleRef, tx *database.Tx) (Document, error) {
	doc, err := h.repo.Get(ctx, ref, tx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.NotFoundf("%s not found", ref.String())
	}
	return doc, nil
}

// GetRelated follows a single-valued relation. A document without the field
// returns nil.
func (h *Helper) GetRelated(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey) (*entity.RoleRef, error) {
	rc, err := h.source(ref, key)
	if err != nil {
		return nil, err
	}
	if rc.Many {
		return nil, errors.Validationf("relation %s is many-valued", key)
	}

	doc, err := h.load(ctx, ref, nil)
	if err != nil {
		return nil, err
	}

	id, _ := doc[rc.ViaField].(string)
	if id == "" {
		return nil, nil
	}
	related := entity.Resolve(rc.To, id, ref.Scenario)
	return &related, nil
}

// GetRelatedMany follows a relation and returns every target. Single-valued
// relations yield at most one element.
func (h *Helper) GetRelatedMany(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey) ([]entity.RoleRef, error) {
	rc, err := h.source(ref, key)
	if err != nil {
		return nil, err
	}

	doc, err := h.load(ctx, ref, nil)
	if err != nil {
		return nil, err
	}

	var refs []entity.RoleRef
	for _, id := range idsOf(doc[rc.ViaField]) {
		refs = append(refs, entity.Resolve(rc.To, id, ref.Scenario))
	}
	return refs, nil
}

// FindByRelation returns every source whose relation key points at target.
func (h *Helper) FindByRelation(ctx context.Context, key scenario.RelationKey, target entity.RoleRef) ([]entity.RoleRef, error) {
	rc, err := h.relation(target.Scenario, key)
	if err != nil {
		return nil, err
	}
	if target.Role != rc.To {
		return nil, errors.Validationf("relation %s ends at %s, not %s", key, rc.To, target.Role)
	}

	if rc.Many {
		return h.repo.FindContaining(ctx, target.Scenario, rc.From, rc.ViaField, target.ID, nil)
	}
	return h.repo.FindByField(ctx, target.Scenario, rc.From, rc.ViaField, target.ID, nil)
}

// SetRelated points a single-valued relation at target; nil clears it.
func (h *Helper) SetRelated(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, target *entity.RoleRef) error {
	logger := h.logger.With(
		"component", "relation_helper",
		"operation", "set_related",
		"ref", ref.String(),
		"key", key,
	)

	rc, err := h.source(ref, key)
	if err != nil {
		return err
	}
	if rc.Many {
		return errors.Validationf("relation %s is many-valued; use AddRelated or RemoveRelated", key)
	}

	patch := Document{rc.ViaField: nil}
	if target != nil {
		if err := h.target(ref, rc, key, *target); err != nil {
			return err
		}
		patch[rc.ViaField] = target.ID
	}

	if _, err := h.repo.Update(ctx, ref, patch, nil); err != nil {
		logger.Error("Failed to set relation", "error", err)
		return err
	}
	logger.Debug("Relation set", "cleared", target == nil)
	return nil
}

// AddRelated appends target to a many-valued relation. Adding an existing
// target is a no-op.
func (h *Helper) AddRelated(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, target entity.RoleRef) error {
	return h.editMany(ctx, ref, key, target, func(ids []string) []string {
		if slices.Contains(ids, target.ID) {
			return ids
		}
		return append(ids, target.ID)
	})
}

// RemoveRelated drops target from a many-valued relation.
func (h *Helper) RemoveRelated(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, target entity.RoleRef) error {
	return h.editMany(ctx, ref, key, target, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == target.ID })
	})
}

func (h *Helper) editMany(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, target entity.RoleRef, edit func([]string) []string) error {
	rc, err := h.source(ref, key)
	if err != nil {
		return err
	}
	if !rc.Many {
		return errors.Validationf("relation %s is single-valued; use SetRelated", key)
	}
	if err := h.target(ref, rc, key, target); err != nil {
		return err
	}

	return h.repo.db.WithTx(ctx, func(tx *database.Tx) error {
		doc, err := h.repo.GetForUpdate(ctx, ref, tx)
		if err != nil {
			return err
		}
		if doc == nil {
			return errors.NotFoundf("%s not found", ref.String())
		}

		ids := edit(idsOf(doc[rc.ViaField]))
		values := make([]any, len(ids))
		for i, id := range ids {
			values[i] = id
		}

		_, err = h.repo.Update(ctx, ref, Document{rc.ViaField: values}, tx)
		return err
	})
}

func idsOf(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		ids := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	case []string:
		return slices.Clone(t)
	}
	return nil
}
