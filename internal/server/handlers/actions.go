package handlers

import (
	"log/slog"
	"net/http"

	"hegemony-server/internal/engine"
	"hegemony-server/internal/middleware"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type ActionsHandler struct {
	engine *engine.Engine
}

func NewActionsHandler(e *engine.Engine) *ActionsHandler {
	return &ActionsHandler{engine: e}
}

// Execute runs one action for the authenticated player. Failures the
// pipeline reports come back as an ActionResult with a status matching its
// code.
func (h *ActionsHandler) Execute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("handler", "execute_action")

	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		response.Error(w, r, logger, errors.Unauthorized("no user claims found in context"))
		return
	}

	faction, err := claims.FactionRef()
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}
	actor, err := claims.CommanderRef()
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	payload, err := readPayload(w, r)
	if err != nil {
		response.Error(w, r, logger, err)
		return
	}

	ac := engine.ActionContext{
		Type:     r.PathValue("type"),
		Scenario: r.PathValue("scenario"),
		PlayerID: claims.PlayerID,
		Actor:    actor,
		Faction:  faction,
	}

	result := h.engine.ExecuteAction(ctx, ac, payload)
	if !result.Success {
		logger.Debug("Action rejected",
			"action", ac.Type,
			"scenario", ac.Scenario,
			"player_id", claims.PlayerID,
			"code", result.Code)
	}

	response.Success(w, response.ActionStatus(result), result)
}

// Types lists the actions a scenario accepts.
func (h *ActionsHandler) Types(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "list_actions")

	scenarioID := r.PathValue("scenario")
	if _, ok := h.engine.Scenario(scenarioID); !ok {
		response.Error(w, r, logger, errors.NotFoundf("scenario not found: %s", scenarioID))
		return
	}

	response.Success(w, http.StatusOK, h.engine.Actions().TypesFor(scenarioID))
}
