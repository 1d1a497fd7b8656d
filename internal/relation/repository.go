package relation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
)

// Document is a scenario-shaped record such as a sangokushi city or a logh
// planet. Field names follow the scenario's own vocabulary.
type Document map[string]any

// ErrRoleUnavailable marks a role the scenario does not configure.
var ErrRoleUnavailable = errors.New("role not available in scenario")

// Repository stores scenario documents addressed by role. The physical
// collection always comes from the scenario registry.
type Repository struct {
	db        *database.DB
	scenarios *scenario.Registry
	logger    *slog.Logger
}

func NewRepository(db *database.DB, scenarios *scenario.Registry, logger *slog.Logger) *Repository {
	logger.Debug("Initializing role document repository")

	return &Repository{
		db:        db,
		scenarios: scenarios,
		logger:    logger,
	}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	return r.db.Executor(tx)
}

// Collection resolves the storage collection for role in scenario.
func (r *Repository) Collection(scenarioID string, role entity.Role) (string, error) {
	rc, ok := r.scenarios.RoleConfig(scenarioID, role)
	if !ok {
		return "", errors.WrapNotFound(fmt.Sprintf("role %s is not available in scenario %s", role, scenarioID), ErrRoleUnavailable)
	}
	return rc.Collection, nil
}

// Get returns the document for ref, or nil when it does not exist.
func (r *Repository) Get(ctx context.Context, ref entity.RoleRef, tx *database.Tx) (Document, error) {
	return r.get(ctx, ref, tx, false)
}

// GetForUpdate is Get that also locks the row until tx ends, so a
// read-modify-write inside tx cannot lose a concurrent edit.
func (r *Repository) GetForUpdate(ctx context.Context, ref entity.RoleRef, tx *database.Tx) (Document, error) {
	if tx == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	return r.get(ctx, ref, tx, true)
}

func (r *Repository) get(ctx context.Context, ref entity.RoleRef, tx *database.Tx, lock bool) (Document, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "relation_repository",
		"operation", "get",
		"ref", ref.String(),
	)

	collection, err := r.Collection(ref.Scenario, ref.Role)
	if err != nil {
		return nil, err
	}
	logger.Debug("Getting document", "collection", collection)

	query := "SELECT doc FROM documents WHERE collection = ? AND scenario = ? AND id = ?"
	if lock {
		query = r.db.Dialect.ForUpdate(query)
	}

	var raw []byte
	err = exec.GetContext(ctx, &raw, r.db.Rebind(query), collection, ref.Scenario, ref.ID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to get document", "error", err)
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Put replaces the document for ref.
func (r *Repository) Put(ctx context.Context, ref entity.RoleRef, doc Document, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "relation_repository",
		"operation", "put",
		"ref", ref.String(),
	)

	collection, err := r.Collection(ref.Scenario, ref.Role)
	if err != nil {
		return err
	}

	stored := make(Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = ref.ID

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO documents (collection, scenario, id, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, scenario, id) DO UPDATE
		SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`)

	if _, err := exec.ExecContext(ctx, query, collection, ref.Scenario, ref.ID, string(raw)); err != nil {
		logger.Error("Failed to put document", "error", err)
		return fmt.Errorf("failed to put document: %w", err)
	}

	logger.Debug("Document stored", "collection", collection)
	return nil
}

// Update merges patch into the top level of the document, creating it when
// absent. A nil value removes the field.
func (r *Repository) Update(ctx context.Context, ref entity.RoleRef, patch Document, tx *database.Tx) (Document, error) {
	if tx == nil {
		var out Document
		err := r.db.WithTx(ctx, func(tx *database.Tx) error {
			var err error
			out, err = r.Update(ctx, ref, patch, tx)
			return err
		})
		return out, err
	}

	// The row must exist before it can be locked.
	if err := r.ensure(ctx, ref, tx); err != nil {
		return nil, err
	}
	doc, err := r.GetForUpdate(ctx, ref, tx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}

	for k, v := range patch {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	if err := r.Put(ctx, ref, doc, tx); err != nil {
		return nil, err
	}
	doc["id"] = ref.ID
	return doc, nil
}

func (r *Repository) ensure(ctx context.Context, ref entity.RoleRef, tx *database.Tx) error {
	collection, err := r.Collection(ref.Scenario, ref.Role)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(Document{"id": ref.ID})
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO documents (collection, scenario, id, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, scenario, id) DO NOTHING`)

	if _, err := r.getExecutor(tx).ExecContext(ctx, query, collection, ref.Scenario, ref.ID, string(raw)); err != nil {
		r.logger.Error("Failed to create document",
			"component", "relation_repository", "ref", ref.String(), "error", err)
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Delete removes the document. Absence is not an error.
func (r *Repository) Delete(ctx context.Context, ref entity.RoleRef, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	collection, err := r.Collection(ref.Scenario, ref.Role)
	if err != nil {
		return err
	}

	if _, err := exec.ExecContext(ctx,
		r.db.Rebind("DELETE FROM documents WHERE collection = ? AND scenario = ? AND id = ?"),
		collection, ref.Scenario, ref.ID); err != nil {
		r.logger.Error("Failed to delete document",
			"component", "relation_repository", "ref", ref.String(), "error", err)
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// FindByField returns the references of role documents whose field equals
// value.
func (r *Repository) FindByField(ctx context.Context, scenarioID string, role entity.Role, field string, value any, tx *database.Tx) ([]entity.RoleRef, error) {
	clause, args, err := r.db.Dialect.JSONEquals("doc", database.JSONMatch{Path: field, Value: value})
	if err != nil {
		return nil, errors.WrapValidation("invalid field", err)
	}
	return r.findIDs(ctx, scenarioID, role, clause, args, tx)
}

// FindContaining returns the references of role documents whose array field
// holds value.
func (r *Repository) FindContaining(ctx context.Context, scenarioID string, role entity.Role, field string, value any, tx *database.Tx) ([]entity.RoleRef, error) {
	clause, args, err := r.db.Dialect.JSONContains("doc", database.JSONMatch{Path: field, Value: value})
	if err != nil {
		return nil, errors.WrapValidation("invalid field", err)
	}
	return r.findIDs(ctx, scenarioID, role, clause, args, tx)
}

func (r *Repository) findIDs(ctx context.Context, scenarioID string, role entity.Role, clause string, clauseArgs []any, tx *database.Tx) ([]entity.RoleRef, error) {
	exec := r.getExecutor(tx)

	collection, err := r.Collection(scenarioID, role)
	if err != nil {
		return nil, err
	}

	query := r.db.Rebind("SELECT id FROM documents WHERE collection = ? AND scenario = ? AND " + clause + " ORDER BY id")
	args := append([]any{collection, scenarioID}, clauseArgs...)

	var ids []string
	if err := exec.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.Error("Failed to query documents",
			"component", "relation_repository", "collection", collection, "error", err)
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	refs := make([]entity.RoleRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, entity.Resolve(role, id, scenarioID))
	}
	return refs, nil
}
