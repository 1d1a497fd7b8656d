package entity

import (
	"context"
	"log/slog"

	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
)

// EdgeRemover deletes every edge touching an entity inside tx.
type EdgeRemover interface {
	DeleteAllEdges(ctx context.Context, ref RoleRef, tx *database.Tx) (int, error)
}

// RoleCatalog reports whether a scenario configures a role.
type RoleCatalog interface {
	HasRole(scenario string, role Role) bool
}

type Service struct {
	db     *database.DB
	repo   *Repository
	edges  EdgeRemover
	roles  RoleCatalog
	logger *slog.Logger
}

func NewService(db *database.DB, repo *Repository, edges EdgeRemover, roles RoleCatalog, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		edges:  edges,
		roles:  roles,
		logger: logger,
	}
}

func (s *Service) Repository() *Repository {
	return s.repo
}

// Create stores a new entity after checking its role exists in the scenario.
func (s *Service) Create(ctx context.Context, e *Entity) error {
	logger := s.logger.With(
		"component", "entity_service",
		"operation", "create",
		"ref", e.Ref().String(),
	)

	if !e.Ref().Valid() {
		return errors.Validationf("invalid entity reference %q", e.Ref().String())
	}
	if s.roles != nil && !s.roles.HasRole(e.Scenario, e.Role) {
		logger.Warn("Role not configured for scenario")
		return errors.Validationf("role %s is not available in scenario %s", e.Role, e.Scenario)
	}

	return s.repo.Create(ctx, e, nil)
}

func (s *Service) Get(ctx context.Context, ref RoleRef) (*Entity, error) {
	e, err := s.repo.FindByID(ctx, ref, nil)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.NotFoundf("entity %s not found", ref.String())
	}
	return e, nil
}

// Delete removes the entity and every edge touching it in one transaction, so
// a failed cascade leaves the entity in place.
func (s *Service) Delete(ctx context.Context, ref RoleRef) error {
	logger := s.logger.With(
		"component", "entity_service",
		"operation", "delete",
		"ref", ref.String(),
	)
	logger.Debug("Deleting entity with edges")

	var removed int
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := s.repo.Delete(ctx, ref, tx); err != nil {
			return err
		}
		if s.edges == nil {
			return nil
		}
		n, err := s.edges.DeleteAllEdges(ctx, ref, tx)
		if err != nil {
			return err
		}
		removed = n
		return nil
	})
	if err != nil {
		logger.Error("Failed to delete entity", "error", err)
		return err
	}

	logger.Info("Entity deleted", "edges_removed", removed)
	return nil
}
