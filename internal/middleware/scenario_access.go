package middleware

import (
	"log/slog"
	"net/http"

	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

// ScenarioAccess lets a player through only to the scenario their token was
// issued for. Admins reach every scenario.
func ScenarioAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "scenario_access",
			"method", r.Method,
			"path", r.URL.Path,
		)

		claims := GetUserFromContext(r)
		if claims == nil {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}

		if claims.IsAdmin() {
			next.ServeHTTP(w, r)
			return
		}

		scenarioID := r.PathValue("scenario")
		if scenarioID == "" {
			response.Error(w, r, logger, errors.Validation("scenario is required"))
			return
		}

		if claims.Scenario != scenarioID {
			logger.Warn("Player attempted to act in another scenario",
				"player_id", claims.PlayerID,
				"token_scenario", claims.Scenario,
				"scenario", scenarioID)
			response.Error(w, r, logger, errors.Forbidden("scenario access required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
