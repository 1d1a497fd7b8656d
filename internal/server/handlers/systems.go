package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"hegemony-server/internal/auth"
	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/gamesystem"
	"hegemony-server/internal/middleware"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type SystemsHandler struct {
	engine *engine.Engine
}

func NewSystemsHandler(e *engine.Engine) *SystemsHandler {
	return &SystemsHandler{engine: e}
}

// Dispatch runs a system command. The state owner comes from the owner query
// parameter; faction scoped systems default to the player's faction.
func (h *SystemsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "dispatch_system")

	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		response.Error(w, r, logger, errors.Unauthorized("no user claims found in context"))
		return
	}

	systemID := r.PathValue("system")
	owner, err := h.owner(r, claims, systemID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	payload, err := readPayload(w, r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	state, err := h.engine.DispatchSystem(ctx, r.PathValue("scenario"), systemID, owner, r.PathValue("command"), payload)
	if err != nil {
		response.Error(w, r, logger, unregistered(err))
		return
	}

	response.Success(w, http.StatusOK, state)
}

// Select runs a read-only selector. Query parameters other than owner are
// passed to it as a JSON object of strings.
func (h *SystemsHandler) Select(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "select_system")

	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		response.Error(w, r, logger, errors.Unauthorized("no user claims found in context"))
		return
	}

	systemID := r.PathValue("system")
	owner, err := h.owner(r, claims, systemID)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if k != "owner" && len(v) > 0 {
			params[k] = v[0]
		}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		response.Error(w, r, logger, errors.WrapInternal("failed to encode selector params", err))
		return
	}

	result, err := h.engine.QuerySystem(ctx, r.PathValue("scenario"), systemID, owner, r.PathValue("selector"), raw)
	if err != nil {
		response.Error(w, r, logger, unregistered(err))
		return
	}

	response.Success(w, http.StatusOK, result)
}

func (h *SystemsHandler) owner(r *http.Request, claims *auth.Claims, systemID string) (*entity.RoleRef, error) {
	sys, err := h.engine.Systems().Get(systemID)
	if err != nil {
		return nil, errors.WrapNotFound("system not found: "+systemID, err)
	}

	var owner *entity.RoleRef
	if raw := r.URL.Query().Get("owner"); raw != "" {
		ref, ok := entity.ParseRef(raw)
		if !ok {
			return nil, errors.Validationf("invalid owner reference: %s", raw)
		}
		owner = &ref
	}

	switch sys.Scope() {
	case gamesystem.ScopeWorld:
		if owner != nil {
			return nil, errors.Validationf("system %s is world scoped and takes no owner", systemID)
		}
	case gamesystem.ScopeFaction:
		faction, err := claims.FactionRef()
		if err != nil {
			return nil, err
		}
		if owner == nil {
			owner = faction
		}
		if owner == nil {
			return nil, errors.Validationf("system %s needs a faction owner", systemID)
		}
		if !claims.IsAdmin() && (faction == nil || *owner != *faction) {
			return nil, errors.Forbidden("players may only use their own faction's systems")
		}
	case gamesystem.ScopeEntity:
		if owner == nil {
			return nil, errors.Validationf("system %s needs an owner", systemID)
		}
	}
	return owner, nil
}

// unregistered reports a command, selector or scenario named by the client
// but never registered as not found.
func unregistered(err error) error {
	if errors.IsConfiguration(err) {
		return errors.WrapNotFound("not registered", err)
	}
	return err
}
