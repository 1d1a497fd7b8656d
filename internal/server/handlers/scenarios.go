package handlers

import (
	"log/slog"
	"net/http"

	"hegemony-server/internal/entity"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type ScenarioSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Roles       []entity.Role `json:"roles"`
}

type ScenariosHandler struct {
	registry  *scenario.Registry
	resources *scenario.ResourceRegistry
}

func NewScenariosHandler(registry *scenario.Registry, resources *scenario.ResourceRegistry) *ScenariosHandler {
	return &ScenariosHandler{registry: registry, resources: resources}
}

func (h *ScenariosHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.IDs()
	out := make([]ScenarioSummary, 0, len(ids))
	for _, id := range ids {
		cfg, ok := h.registry.Get(id)
		if !ok {
			continue
		}

		summary := ScenarioSummary{ID: cfg.ID, Name: cfg.Name, Description: cfg.Description}
		for _, role := range entity.Roles() {
			if cfg.HasRole(role) {
				summary.Roles = append(summary.Roles, role)
			}
		}
		out = append(out, summary)
	}

	response.Success(w, http.StatusOK, out)
}

func (h *ScenariosHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_scenario")

	id := r.PathValue("scenario")
	cfg, ok := h.registry.Get(id)
	if !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", id))
		return
	}

	response.Success(w, http.StatusOK, cfg)
}

// Resources lists the scenario's resource definitions.
func (h *ScenariosHandler) Resources(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_resources")

	id := r.PathValue("scenario")
	if _, ok := h.registry.Get(id); !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", id))
		return
	}

	response.Success(w, http.StatusOK, h.resources.Definitions(id))
}
