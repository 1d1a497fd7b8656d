package response

import (
	"net/http"

	"hegemony-server/internal/engine"
)

// ActionStatus maps a structured action failure onto an HTTP status.
func ActionStatus(res *engine.ActionResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case engine.CodeUnknownAction:
		return http.StatusNotFound
	case engine.CodeUnsupportedScenario, engine.CodeValidationFailed:
		return http.StatusBadRequest
	case engine.CodeDeclined:
		return http.StatusUnprocessableEntity
	case engine.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
