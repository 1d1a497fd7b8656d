package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"
)

// Filter narrows FindByQuery and FindPaginated. Scenario is required; Match
// keys are dotted paths into the stored document ("attributes.gold").
type Filter struct {
	Scenario string
	Role     Role
	Name     string
	Match    map[string]any
}

// Page is one page of a paginated query.
type Page struct {
	Items   []*Entity `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	HasMore bool      `json:"hasMore"`
}

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing entity repository")

	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	return r.db.Executor(tx)
}

type entityRow struct {
	Version int64  `db:"version"`
	Doc     []byte `db:"doc"`
}

func (row entityRow) decode() (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(row.Doc, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity document: %w", err)
	}
	e.Version = row.Version
	return &e, nil
}

// Create inserts a new entity. An existing (scenario, role, id) is a conflict.
func (r *Repository) Create(ctx context.Context, e *Entity, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "create",
		"ref", e.Ref().String(),
	)
	logger.Debug("Creating entity")

	if !e.Ref().Valid() {
		return errors.Validationf("invalid entity reference %q", e.Ref().String())
	}
	if e.Version < 1 {
		e.Version = 1
	}

	doc, err := json.Marshal(e)
	if err != nil {
		logger.Error("Failed to encode entity", "error", err)
		return fmt.Errorf("failed to encode entity: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO entities (scenario, role, id, name, version, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scenario, role, id) DO NOTHING`)

	result, err := exec.ExecContext(ctx, query, e.Scenario, string(e.Role), e.ID, e.Name, e.Version, string(doc))
	if err != nil {
		logger.Error("Failed to create entity", "error", err)
		return fmt.Errorf("failed to create entity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		logger.Warn("Entity already exists")
		return errors.Conflictf("entity %s already exists", e.Ref().String())
	}

	logger.Info("Entity created", "version", e.Version)
	return nil
}

// FindByID returns the stored entity, or nil when it does not exist.
func (r *Repository) FindByID(ctx context.Context, ref RoleRef, tx *database.Tx) (*Entity, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "find_by_id",
		"ref", ref.String(),
	)
	logger.Debug("Finding entity")

	query := r.db.Rebind(`
		SELECT version, doc FROM entities
		WHERE scenario = ? AND role = ? AND id = ?`)

	var row entityRow
	err := exec.GetContext(ctx, &row, query, ref.Scenario, string(ref.Role), ref.ID)
	if err == sql.ErrNoRows {
		logger.Debug("Entity not found")
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to find entity", "error", err)
		return nil, fmt.Errorf("failed to find entity: %w", err)
	}

	return row.decode()
}

func (r *Repository) buildWhere(f Filter) (string, []any, error) {
	if f.Scenario == "" {
		return "", nil, errors.Validation("scenario is required")
	}

	clauses := []string{"scenario = ?"}
	args := []any{f.Scenario}

	if f.Role != "" {
		clauses = append(clauses, "role = ?")
		args = append(args, string(f.Role))
	}
	if f.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, f.Name)
	}

	paths := make([]string, 0, len(f.Match))
	for p := range f.Match {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		clause, matchArgs, err := r.db.Dialect.JSONEquals("doc", database.JSONMatch{Path: p, Value: f.Match[p]})
		if err != nil {
			return "", nil, errors.WrapValidation("invalid filter", err)
		}
		clauses = append(clauses, clause)
		args = append(args, matchArgs...)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// FindByQuery returns every entity matching f ordered by role and id.
func (r *Repository) FindByQuery(ctx context.Context, f Filter, tx *database.Tx) ([]*Entity, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "find_by_query",
		"scenario", f.Scenario,
		"role", f.Role,
	)
	logger.Debug("Querying entities")

	where, args, err := r.buildWhere(f)
	if err != nil {
		return nil, err
	}

	query := r.db.Rebind("SELECT version, doc FROM entities WHERE " + where + " ORDER BY role, id")

	var rows []entityRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		logger.Error("Failed to query entities", "error", err)
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}

	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := row.decode()
		if err != nil {
			logger.Error("Failed to decode entity row", "error", err)
			return nil, err
		}
		entities = append(entities, e)
	}

	logger.Debug("Entities retrieved", "count", len(entities))
	return entities, nil
}

// FindPaginated returns page (1-based) of the entities matching f.
func (r *Repository) FindPaginated(ctx context.Context, f Filter, page, limit int, tx *database.Tx) (*Page, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "find_paginated",
		"scenario", f.Scenario,
		"page", page,
		"limit", limit,
	)
	logger.Debug("Querying entity page")

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	where, args, err := r.buildWhere(f)
	if err != nil {
		return nil, err
	}

	var total int
	if err := exec.GetContext(ctx, &total, r.db.Rebind("SELECT COUNT(*) FROM entities WHERE "+where), args...); err != nil {
		logger.Error("Failed to count entities", "error", err)
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	query := r.db.Rebind("SELECT version, doc FROM entities WHERE " + where + " ORDER BY role, id LIMIT ? OFFSET ?")
	pageArgs := append(append([]any(nil), args...), limit, (page-1)*limit)

	var rows []entityRow
	if err := exec.SelectContext(ctx, &rows, query, pageArgs...); err != nil {
		logger.Error("Failed to query entity page", "error", err)
		return nil, fmt.Errorf("failed to query entity page: %w", err)
	}

	items := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := row.decode()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}

	return &Page{
		Items:   items,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: page*limit < total,
	}, nil
}

// ListRefs returns the references of every entity of role in scenario. An
// empty role lists the whole scenario.
func (r *Repository) ListRefs(ctx context.Context, scenario string, role Role, tx *database.Tx) ([]RoleRef, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "list_refs",
		"scenario", scenario,
		"role", role,
	)

	query := "SELECT role, id FROM entities WHERE scenario = ?"
	args := []any{scenario}
	if role != "" {
		query += " AND role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY role, id"

	var rows []struct {
		Role string `db:"role"`
		ID   string `db:"id"`
	}
	if err := exec.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		logger.Error("Failed to list entity refs", "error", err)
		return nil, fmt.Errorf("failed to list entity refs: %w", err)
	}

	refs := make([]RoleRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, Resolve(Role(row.Role), row.ID, scenario))
	}
	return refs, nil
}

// Update replaces the stored document. With expectedVersion set the write only
// succeeds while the stored version still equals it. On success e carries the
// new version.
func (r *Repository) Update(ctx context.Context, ref RoleRef, e *Entity, expectedVersion *int64, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "update",
		"ref", ref.String(),
	)
	logger.Debug("Updating entity")

	if e.Ref() != ref {
		return errors.Validationf("entity %s does not match reference %s", e.Ref().String(), ref.String())
	}

	next := e.Clone()
	if expectedVersion != nil {
		next.Version = *expectedVersion + 1
	}
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode entity: %w", err)
	}

	query := `
		UPDATE entities
		SET name = ?, doc = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE scenario = ? AND role = ? AND id = ?`
	args := []any{next.Name, string(doc), ref.Scenario, string(ref.Role), ref.ID}
	if expectedVersion != nil {
		query += " AND version = ?"
		args = append(args, *expectedVersion)
	}
	query += " RETURNING version"

	var version int64
	err = exec.QueryRowxContext(ctx, r.db.Rebind(query), args...).Scan(&version)
	if err == sql.ErrNoRows {
		return r.resolveMissedUpdate(ctx, exec, ref, expectedVersion, logger)
	}
	if err != nil {
		logger.Error("Failed to update entity", "error", err)
		return fmt.Errorf("failed to update entity: %w", err)
	}

	e.Version = version
	logger.Info("Entity updated", "version", version)
	return nil
}

// resolveMissedUpdate tells a missing row apart from a version mismatch after
// a conditioned update touched nothing.
func (r *Repository) resolveMissedUpdate(ctx context.Context, exec database.Executor, ref RoleRef, expectedVersion *int64, logger *slog.Logger) error {
	var current int64
	err := exec.GetContext(ctx, &current,
		r.db.Rebind("SELECT version FROM entities WHERE scenario = ? AND role = ? AND id = ?"),
		ref.Scenario, string(ref.Role), ref.ID)
	if err == sql.ErrNoRows {
		logger.Warn("Entity not found for update")
		return errors.NotFoundf("entity %s not found", ref.String())
	}
	if err != nil {
		return fmt.Errorf("failed to check entity version: %w", err)
	}

	expected := int64(0)
	if expectedVersion != nil {
		expected = *expectedVersion
	}
	logger.Warn("Optimistic lock conflict", "expected_version", expected, "current_version", current)
	return errors.Conflictf("entity %s changed: expected version %d, found %d", ref.String(), expected, current)
}

// Patch loads the entity, merges p and writes it back under the version it
// read. expectedVersion, when set, must match the stored version.
func (r *Repository) Patch(ctx context.Context, ref RoleRef, p Patch, expectedVersion *int64, tx *database.Tx) (*Entity, error) {
	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "patch",
		"ref", ref.String(),
	)
	logger.Debug("Patching entity")

	current, err := r.FindByID(ctx, ref, tx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NotFoundf("entity %s not found", ref.String())
	}
	if expectedVersion != nil && current.Version != *expectedVersion {
		logger.Warn("Optimistic lock conflict", "expected_version", *expectedVersion, "current_version", current.Version)
		return nil, errors.Conflictf("entity %s changed: expected version %d, found %d", ref.String(), *expectedVersion, current.Version)
	}

	next := current.Clone()
	p.Apply(next)

	read := current.Version
	if err := r.Update(ctx, ref, next, &read, tx); err != nil {
		return nil, err
	}
	return next, nil
}

// Persist writes a cached entity back. The stored row is only replaced when
// e.Version is newer, so an older flush never overwrites a newer write.
// It reports whether the row changed.
func (r *Repository) Persist(ctx context.Context, e *Entity, tx *database.Tx) (bool, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "persist",
		"ref", e.Ref().String(),
		"version", e.Version,
	)
	logger.Debug("Persisting entity")

	doc, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to encode entity: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO entities (scenario, role, id, name, version, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scenario, role, id) DO UPDATE
		SET name = excluded.name, version = excluded.version, doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
		WHERE entities.version < excluded.version`)

	result, err := exec.ExecContext(ctx, query, e.Scenario, string(e.Role), e.ID, e.Name, e.Version, string(doc))
	if err != nil {
		logger.Error("Failed to persist entity", "error", err)
		return false, fmt.Errorf("failed to persist entity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		logger.Debug("Stored entity is current, nothing written")
		return false, nil
	}
	return true, nil
}

// Delete removes the entity. Absence is a not-found error.
func (r *Repository) Delete(ctx context.Context, ref RoleRef, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "entity_repository",
		"operation", "delete",
		"ref", ref.String(),
	)
	logger.Debug("Deleting entity")

	result, err := exec.ExecContext(ctx,
		r.db.Rebind("DELETE FROM entities WHERE scenario = ? AND role = ? AND id = ?"),
		ref.Scenario, string(ref.Role), ref.ID)
	if err != nil {
		logger.Error("Failed to delete entity", "error", err)
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return errors.NotFoundf("entity %s not found", ref.String())
	}

	logger.Info("Entity deleted")
	return nil
}
