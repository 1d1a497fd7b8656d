package handlers

import (
	"log/slog"
	"net/http"

	"hegemony-server/internal/edge"
	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/relation"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type EdgesResponse struct {
	Outgoing []*edge.Edge `json:"outgoing"`
	Incoming []*edge.Edge `json:"incoming"`
}

// RelatedResponse lists the entities a relation points at, and the entities
// whose same relation points back at the subject.
type RelatedResponse struct {
	Key       scenario.RelationKey `json:"key"`
	Targets   []entity.RoleRef     `json:"targets"`
	Referrers []entity.RoleRef     `json:"referrers"`
}

type EntitiesHandler struct {
	engine    *engine.Engine
	edges     *edge.Repository
	relations *relation.Helper
}

func NewEntitiesHandler(e *engine.Engine, edges *edge.Repository, relations *relation.Helper) *EntitiesHandler {
	return &EntitiesHandler{engine: e, edges: edges, relations: relations}
}

// Get serves the cached entity; an uncached entity is a 404 even when the
// durable store holds it.
func (h *EntitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "get_entity")

	ref, err := refFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	ent, err := h.engine.LoadEntity(r.Context(), ref)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	response.Success(w, http.StatusOK, ent)
}

func (h *EntitiesHandler) Edges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_entity_edges")

	ref, err := refFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	key := scenario.RelationKey(r.URL.Query().Get("key"))
	if key != "" && !key.Valid() {
		response.Error(w, r, logger, errors.Validationf("unknown relation key: %s", key))
		return
	}

	outgoing, err := h.edges.FindEdgesFrom(ctx, ref, key, nil)
	if err != nil {
		response.ErrorWithMessage(w, r, logger, errors.WrapInternal("failed to load outgoing edges", err), "edges unavailable")
		return
	}
	incoming, err := h.edges.FindEdgesTo(ctx, ref, key, nil)
	if err != nil {
		response.ErrorWithMessage(w, r, logger, errors.WrapInternal("failed to load incoming edges", err), "edges unavailable")
		return
	}

	response.Success(w, http.StatusOK, EdgesResponse{Outgoing: outgoing, Incoming: incoming})
}

// Related resolves one relation through the scenario's own field mapping.
// Either side may be empty: a settlement has no owned_by referrers, a
// faction has no owned_by targets.
func (h *EntitiesHandler) Related(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "get_related")

	ref, err := refFromPath(r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	key := scenario.RelationKey(r.PathValue("key"))
	if !key.Valid() {
		response.Error(w, r, logger, errors.Validationf("unknown relation key: %s", key))
		return
	}
	from, to, _, _ := key.Endpoints()
	if ref.Role != from && ref.Role != to {
		response.Error(w, r, logger, errors.Validationf("relation %s does not involve %s", key, ref.Role))
		return
	}

	resp := RelatedResponse{Key: key, Targets: []entity.RoleRef{}, Referrers: []entity.RoleRef{}}
	if ref.Role == from {
		targets, err := h.relations.GetRelatedMany(ctx, ref, key)
		if err != nil {
			response.Error(w, r, logger, err)
			return
		}
		if targets != nil {
			resp.Targets = targets
		}
	}
	if ref.Role == to {
		referrers, err := h.relations.FindByRelation(ctx, key, ref)
		if err != nil {
			response.Error(w, r, logger, err)
			return
		}
		if referrers != nil {
			resp.Referrers = referrers
		}
	}

	response.Success(w, http.StatusOK, resp)
}

func refFromPath(r *http.Request) (entity.RoleRef, error) {
	ref := entity.Resolve(entity.Role(r.PathValue("role")), r.PathValue("id"), r.PathValue("scenario"))
	if !ref.Valid() {
		return entity.RoleRef{}, errors.Validationf("invalid entity reference: %s", ref.String())
	}
	return ref, nil
}
