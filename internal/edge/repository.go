package edge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/errors"

	"github.com/google/uuid"
)

type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing edge repository")

	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	return r.db.Executor(tx)
}

func validate(e *Edge) error {
	if !e.From.Valid() || !e.To.Valid() {
		return errors.Validationf("edge endpoints must be valid references, got %s -> %s", e.From.String(), e.To.String())
	}
	if !e.From.SameScenario(e.To) {
		return errors.Validationf("edge %s crosses scenarios: %s -> %s", e.Key, e.From.String(), e.To.String())
	}
	if e.Scenario != "" && e.Scenario != e.From.Scenario {
		return errors.Validationf("edge scenario %q does not match its endpoints", e.Scenario)
	}

	from, to, _, ok := e.Key.Endpoints()
	if !ok {
		return errors.Validationf("unknown relation %q", e.Key)
	}
	if e.From.Role != from || e.To.Role != to {
		return errors.Validationf("relation %s connects %s to %s, got %s to %s", e.Key, from, to, e.From.Role, e.To.Role)
	}
	return nil
}

// CreateEdge stores e with a fresh id. A second edge with the same scenario,
// key and endpoints is a conflict.
func (r *Repository) CreateEdge(ctx context.Context, e *Edge, tx *database.Tx) (*Edge, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "edge_repository",
		"operation", "create_edge",
		"key", e.Key,
		"from", e.From.String(),
		"to", e.To.String(),
	)
	logger.Debug("Creating edge")

	if err := validate(e); err != nil {
		logger.Warn("Rejected edge", "error", err)
		return nil, err
	}

	created := *e
	created.ID = uuid.NewString()
	created.Scenario = e.From.Scenario
	created.CreatedAt = time.Now().UTC()

	doc, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("failed to encode edge: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO edges (id, scenario, relation_key, from_ref, to_ref, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scenario, relation_key, from_ref, to_ref) DO NOTHING`)

	result, err := exec.ExecContext(ctx, query,
		created.ID, created.Scenario, string(created.Key), created.From.String(), created.To.String(), string(doc))
	if err != nil {
		logger.Error("Failed to create edge", "error", err)
		return nil, fmt.Errorf("failed to create edge: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		logger.Warn("Edge already exists")
		return nil, errors.Conflictf("edge %s %s -> %s already exists", created.Key, created.From.String(), created.To.String())
	}

	logger.Info("Edge created", "edge_id", created.ID)
	return &created, nil
}

// DeleteEdge removes the edge matching key and both endpoints exactly.
func (r *Repository) DeleteEdge(ctx context.Context, key scenario.RelationKey, from, to entity.RoleRef, tx *database.Tx) error {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "edge_repository",
		"operation", "delete_edge",
		"key", key,
		"from", from.String(),
		"to", to.String(),
	)
	logger.Debug("Deleting edge")

	result, err := exec.ExecContext(ctx,
		r.db.Rebind("DELETE FROM edges WHERE scenario = ? AND relation_key = ? AND from_ref = ? AND to_ref = ?"),
		from.Scenario, string(key), from.String(), to.String())
	if err != nil {
		logger.Error("Failed to delete edge", "error", err)
		return fmt.Errorf("failed to delete edge: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return errors.NotFoundf("edge %s %s -> %s not found", key, from.String(), to.String())
	}
	return nil
}

// FindEdgesFrom returns edges leaving ref, optionally restricted to key.
func (r *Repository) FindEdgesFrom(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, tx *database.Tx) ([]*Edge, error) {
	return r.findEdges(ctx, "from_ref", ref, key, tx)
}

// FindEdgesTo returns edges arriving at ref, optionally restricted to key.
func (r *Repository) FindEdgesTo(ctx context.Context, ref entity.RoleRef, key scenario.RelationKey, tx *database.Tx) ([]*Edge, error) {
	return r.findEdges(ctx, "to_ref", ref, key, tx)
}

func (r *Repository) findEdges(ctx context.Context, column string, ref entity.RoleRef, key scenario.RelationKey, tx *database.Tx) ([]*Edge, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "edge_repository",
		"operation", "find_edges",
		"column", column,
		"ref", ref.String(),
		"key", key,
	)
	logger.Debug("Finding edges")

	query := "SELECT doc FROM edges WHERE scenario = ? AND " + column + " = ?"
	args := []any{ref.Scenario, ref.String()}
	if key != "" {
		query += " AND relation_key = ?"
		args = append(args, string(key))
	}
	query += " ORDER BY relation_key, from_ref, to_ref"

	var docs [][]byte
	if err := exec.SelectContext(ctx, &docs, r.db.Rebind(query), args...); err != nil {
		logger.Error("Failed to query edges", "error", err)
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}

	edges := make([]*Edge, 0, len(docs))
	for _, doc := range docs {
		var e Edge
		if err := json.Unmarshal(doc, &e); err != nil {
			logger.Error("Failed to decode edge", "error", err)
			return nil, fmt.Errorf("failed to decode edge: %w", err)
		}
		edges = append(edges, &e)
	}

	logger.Debug("Edges retrieved", "count", len(edges))
	return edges, nil
}

// FindEdge returns the exact edge or nil when it does not exist.
func (r *Repository) FindEdge(ctx context.Context, key scenario.RelationKey, from, to entity.RoleRef, tx *database.Tx) (*Edge, error) {
	exec := r.getExecutor(tx)

	var doc []byte
	err := exec.GetContext(ctx, &doc,
		r.db.Rebind("SELECT doc FROM edges WHERE scenario = ? AND relation_key = ? AND from_ref = ? AND to_ref = ?"),
		from.Scenario, string(key), from.String(), to.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find edge: %w", err)
	}

	var e Edge
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("failed to decode edge: %w", err)
	}
	return &e, nil
}

// DeleteAllEdges removes every edge touching ref and returns how many went.
func (r *Repository) DeleteAllEdges(ctx context.Context, ref entity.RoleRef, tx *database.Tx) (int, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "edge_repository",
		"operation", "delete_all_edges",
		"ref", ref.String(),
	)

	result, err := exec.ExecContext(ctx,
		r.db.Rebind("DELETE FROM edges WHERE scenario = ? AND (from_ref = ? OR to_ref = ?)"),
		ref.Scenario, ref.String(), ref.String())
	if err != nil {
		logger.Error("Failed to delete edges", "error", err)
		return 0, fmt.Errorf("failed to delete edges: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	logger.Debug("Edges deleted", "count", affected)
	return int(affected), nil
}
