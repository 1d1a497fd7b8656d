package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/response"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Cache     string `json:"cache"`
}

// Pinger is satisfied by the shared cache tier.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    *database.DB
	cache Pinger
}

func NewHealthHandler(db *database.DB, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "health")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"

	dbStatus := "disconnected"
	if err := h.db.PingContext(ctx); err == nil {
		dbStatus = "connected"
	} else {
		status = "degraded"
		logger.Warn("Database ping failed", "error", err)
	}

	cacheStatus := "disconnected"
	if err := h.cache.Ping(ctx); err == nil {
		cacheStatus = "connected"
	} else {
		status = "degraded"
		logger.Warn("Cache ping failed", "error", err)
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
		Database:  dbStatus,
		Cache:     cacheStatus,
	}

	response.Success(w, http.StatusOK, resp)
}
