package handlers

import (
	"io/fs"
	"log/slog"
	"net/http"

	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/seed"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type SeedResponse struct {
	Seeded bool             `json:"seeded"`
	Stats  *seed.Stats      `json:"stats,omitempty"`
	Warm   engine.WarmStats `json:"warm"`
}

// AdminHandler exposes operator tasks such as scenario reload, cache flush
// and world seeding.
type AdminHandler struct {
	engine   *engine.Engine
	flusher  *engine.Flusher
	seeder   *seed.Service
	entities *entity.Service
	loader   *scenario.Loader
	source   fs.FS
}

func NewAdminHandler(e *engine.Engine, flusher *engine.Flusher, seeder *seed.Service, entities *entity.Service, loader *scenario.Loader, source fs.FS) *AdminHandler {
	return &AdminHandler{
		engine:   e,
		flusher:  flusher,
		seeder:   seeder,
		entities: entities,
		loader:   loader,
		source:   source,
	}
}

// ReloadScenarios re-reads every scenario document. An invalid document
// rejects the whole reload and the active configuration stays in place.
func (h *AdminHandler) ReloadScenarios(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "reload_scenarios")

	ids, err := h.loader.LoadFS(h.source)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	logger.Info("Scenarios reloaded by admin", "scenarios", ids)
	response.Success(w, http.StatusOK, map[string]interface{}{"scenarios": ids})
}

func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "flush")

	stats, err := h.flusher.Flush(r.Context())
	if err != nil {
		response.ErrorWithMessage(w, r, logger, errors.WrapInternal("flush finished with failures", err),
			"flush incomplete, failed keys stay dirty for the next run")
		return
	}

	response.Success(w, http.StatusOK, stats)
}

func (h *AdminHandler) Warm(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "warm")

	scenarioID := r.PathValue("scenario")
	if _, ok := h.engine.Scenario(scenarioID); !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", scenarioID))
		return
	}

	stats, err := h.engine.Warm(r.Context(), scenarioID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, stats)
}

// Seed generates a starter world when the scenario has no entities yet, then
// warms the cache so the new entities are readable.
func (h *AdminHandler) Seed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "seed")

	scenarioID := r.PathValue("scenario")
	if _, ok := h.engine.Scenario(scenarioID); !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", scenarioID))
		return
	}

	stats, err := h.seeder.SeedIfEmpty(ctx, scenarioID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	resp := SeedResponse{Seeded: stats != nil, Stats: stats}
	if stats != nil {
		resp.Warm, err = h.engine.Warm(ctx, scenarioID)
		if err != nil {
			response.Error(w, r, logger, err)
			return
		}
	}

	status := http.StatusOK
	if resp.Seeded {
		status = http.StatusCreated
	}
	response.Success(w, status, resp)
}

func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "tick")

	scenarioID := r.PathValue("scenario")
	if _, ok := h.engine.Scenario(scenarioID); !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", scenarioID))
		return
	}

	stats, err := h.engine.TickSystems(r.Context(), scenarioID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, stats)
}

// DeleteEntity removes an entity and its edges from the durable store. An
// entity with unflushed cache changes is refused with a conflict.
func (h *AdminHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "delete_entity")

	ref, err := refFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	if err := h.engine.Evict(ctx, ref); err != nil {
		response.Error(w, r, logger, err)
		return
	}
	if err := h.entities.Delete(ctx, ref); err != nil {
		response.Error(w, r, logger, err)
		return
	}

	logger.Info("Entity deleted by admin", "ref", ref.String())
	response.Success(w, http.StatusNoContent, nil)
}

// ReloadEntity replaces the cached copy of an entity with the durable one.
func (h *AdminHandler) ReloadEntity(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "reload_entity")

	ref, err := refFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	ent, err := h.engine.Reload(r.Context(), ref)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, ent)
}
