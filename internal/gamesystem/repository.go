package gamesystem

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/shared/database"
)

// Repository is the durable store behind cached system states.
type Repository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewRepository(db *database.DB, logger *slog.Logger) *Repository {
	logger.Debug("Initializing system state repository")

	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) getExecutor(tx *database.Tx) database.Executor {
	return r.db.Executor(tx)
}

type stateRow struct {
	Version int64  `db:"version"`
	Doc     []byte `db:"doc"`
}

func (row stateRow) decode() (*SystemState, error) {
	var s SystemState
	if err := json.Unmarshal(row.Doc, &s); err != nil {
		return nil, fmt.Errorf("failed to decode system state: %w", err)
	}
	s.Version = row.Version
	return &s, nil
}

// Find returns the stored state or nil when none exists.
func (r *Repository) Find(ctx context.Context, scenario, systemID string, owner *entity.RoleRef, tx *database.Tx) (*SystemState, error) {
	exec := r.getExecutor(tx)

	ownerKey := ""
	if owner != nil {
		ownerKey = owner.String()
	}

	logger := r.logger.With(
		"component", "system_state_repository",
		"operation", "find",
		"scenario", scenario,
		"system_id", systemID,
		"owner", ownerKey,
	)
	logger.Debug("Finding system state")

	var row stateRow
	err := exec.GetContext(ctx, &row,
		r.db.Rebind("SELECT version, doc FROM system_states WHERE scenario = ? AND system_id = ? AND owner_ref = ?"),
		scenario, systemID, ownerKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to find system state", "error", err)
		return nil, fmt.Errorf("failed to find system state: %w", err)
	}
	return row.decode()
}

// Persist upserts s unless the stored version is already at or past it.
func (r *Repository) Persist(ctx context.Context, s *SystemState, tx *database.Tx) (bool, error) {
	exec := r.getExecutor(tx)

	logger := r.logger.With(
		"component", "system_state_repository",
		"operation", "persist",
		"key", s.Key(),
		"version", s.Version,
	)
	logger.Debug("Persisting system state")

	doc, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to encode system state: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO system_states (scenario, system_id, owner_ref, version, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scenario, system_id, owner_ref) DO UPDATE
		SET version = excluded.version, doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
		WHERE system_states.version < excluded.version`)

	result, err := exec.ExecContext(ctx, query, s.Scenario, s.SystemID, s.OwnerKey(), s.Version, string(doc))
	if err != nil {
		logger.Error("Failed to persist system state", "error", err)
		return false, fmt.Errorf("failed to persist system state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListByScenario returns every stored state of scenario.
func (r *Repository) ListByScenario(ctx context.Context, scenario string, tx *database.Tx) ([]*SystemState, error) {
	exec := r.getExecutor(tx)

	var rows []stateRow
	err := exec.SelectContext(ctx, &rows,
		r.db.Rebind("SELECT version, doc FROM system_states WHERE scenario = ? ORDER BY system_id, owner_ref"),
		scenario)
	if err != nil {
		r.logger.Error("Failed to list system states",
			"component", "system_state_repository", "scenario", scenario, "error", err)
		return nil, fmt.Errorf("failed to list system states: %w", err)
	}

	states := make([]*SystemState, 0, len(rows))
	for _, row := range rows {
		s, err := row.decode()
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}
