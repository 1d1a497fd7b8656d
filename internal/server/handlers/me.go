package handlers

import (
	"log/slog"
	"net/http"

	"hegemony-server/internal/middleware"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type MeHandler struct{}

func NewMeHandler() *MeHandler {
	return &MeHandler{}
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "me")

	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		response.Error(w, r, logger, errors.Unauthorized("no user claims found in context"))
		return
	}

	resp := map[string]interface{}{
		"player_id": claims.PlayerID,
		"username":  claims.Username,
		"role":      claims.Role,
		"scenario":  claims.Scenario,
		"faction":   claims.Faction,
		"commander": claims.Commander,
	}

	response.Success(w, http.StatusOK, resp)
}
