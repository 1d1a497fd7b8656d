package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"hegemony-server/internal/shared/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var statusByType = map[errors.ErrorType]int{
	errors.ErrorTypeNotFound:      http.StatusNotFound,
	errors.ErrorTypeValidation:    http.StatusBadRequest,
	errors.ErrorTypeConflict:      http.StatusConflict,
	errors.ErrorTypeUnauthorized:  http.StatusUnauthorized,
	errors.ErrorTypeForbidden:     http.StatusForbidden,
	errors.ErrorTypeExternal:      http.StatusServiceUnavailable,
	errors.ErrorTypeConfiguration: http.StatusInternalServerError,
	errors.ErrorTypeInternal:      http.StatusInternalServerError,
}

// StatusFor returns the HTTP status of an error type. Unknown types are 500.
func StatusFor(errorType errors.ErrorType) int {
	if status, ok := statusByType[errorType]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error logs err and writes it to the client. This is the one place request
// errors get logged. Client errors carry the full message; server errors only
// carry their top-level message, never the wrapped cause.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	errorType := errors.GetType(err)
	status := StatusFor(errorType)
	logError(logger, r, err, errorType, status)
	writeError(w, errorType, clientMessage(err, status), status)
}

// ErrorWithMessage is Error with a fixed client message; err is only logged.
func ErrorWithMessage(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, message string) {
	errorType := errors.GetType(err)
	status := StatusFor(errorType)
	logError(logger, r, err, errorType, status)
	writeError(w, errorType, message, status)
}

func clientMessage(err error, status int) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return http.StatusText(status)
}

type logLevel struct {
	level slog.Level
	msg   string
}

var levelByType = map[errors.ErrorType]logLevel{
	errors.ErrorTypeNotFound:      {slog.LevelDebug, "Resource not found"},
	errors.ErrorTypeValidation:    {slog.LevelDebug, "Validation error"},
	errors.ErrorTypeConflict:      {slog.LevelInfo, "Conflict error"},
	errors.ErrorTypeUnauthorized:  {slog.LevelWarn, "Authorization error"},
	errors.ErrorTypeForbidden:     {slog.LevelWarn, "Authorization error"},
	errors.ErrorTypeExternal:      {slog.LevelError, "External service error"},
	errors.ErrorTypeConfiguration: {slog.LevelError, "Configuration error"},
}

func logError(logger *slog.Logger, r *http.Request, err error, errorType errors.ErrorType, status int) {
	entry, ok := levelByType[errorType]
	if !ok {
		entry = logLevel{slog.LevelError, "Internal server error"}
	}

	logger.Log(r.Context(), entry.level, entry.msg,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"error_type", errorType,
		"status_code", status,
		"error", err,
	)
}

func writeError(w http.ResponseWriter, errorType errors.ErrorType, message string, status int) {
	Success(w, status, ErrorResponse{
		Error:   string(errorType),
		Message: message,
		Code:    status,
	})
}

// Success writes data as JSON with the given status. A nil data writes no
// body.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data == nil {
		return
	}
	// The status is already sent; an encoding failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}
