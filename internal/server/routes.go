package server

import (
	"io/fs"
	"log/slog"
	"net/http"

	"hegemony-server/internal/edge"
	"hegemony-server/internal/engine"
	"hegemony-server/internal/entity"
	"hegemony-server/internal/middleware"
	"hegemony-server/internal/relation"
	"hegemony-server/internal/scenario"
	"hegemony-server/internal/seed"
	serverHandlers "hegemony-server/internal/server/handlers"
	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/metrics"
)

type Deps struct {
	DB        *database.DB
	Cache     serverHandlers.Pinger
	Engine    *engine.Engine
	Flusher   *engine.Flusher
	Entities  *entity.Service
	Scenarios *scenario.Registry
	Resources *scenario.ResourceRegistry
	Loader    *scenario.Loader
	Edges     *edge.Repository
	Relations *relation.Helper
	Seeder    *seed.Service
	Auth      *middleware.Auth

	// Source is the scenario document tree reloads read from.
	Source fs.FS

	// ExposeMetrics mounts the Prometheus scrape endpoint at /metrics.
	ExposeMetrics bool
}

type Routes struct {
	deps Deps
}

func NewRoutes(d Deps) *Routes {
	return &Routes{deps: d}
}

func (r *Routes) Setup() *http.ServeMux {
	logger := slog.With("component", "routes", "operation", "setup")
	logger.Debug("Setting up application routes")

	d := r.deps
	mux := http.NewServeMux()

	healthHandler := serverHandlers.NewHealthHandler(d.DB, d.Cache)
	scenariosHandler := serverHandlers.NewScenariosHandler(d.Scenarios, d.Resources)
	entitiesHandler := serverHandlers.NewEntitiesHandler(d.Engine, d.Edges, d.Relations)
	actionsHandler := serverHandlers.NewActionsHandler(d.Engine)
	systemsHandler := serverHandlers.NewSystemsHandler(d.Engine)
	adminHandler := serverHandlers.NewAdminHandler(d.Engine, d.Flusher, d.Seeder, d.Entities, d.Loader, d.Source)
	meHandler := serverHandlers.NewMeHandler()

	scoped := func(h http.HandlerFunc) http.Handler { return d.Auth.RequireScenario(h) }
	admin := func(h http.HandlerFunc) http.Handler { return d.Auth.RequireAdmin(h) }

	// Public endpoints
	mux.Handle("GET /api/server/health", healthHandler)
	mux.HandleFunc("GET /api/scenarios", scenariosHandler.List)
	mux.HandleFunc("GET /api/scenarios/{scenario}", scenariosHandler.Get)
	mux.HandleFunc("GET /api/scenarios/{scenario}/resources", scenariosHandler.Resources)
	mux.HandleFunc("GET /api/scenarios/{scenario}/actions", actionsHandler.Types)
	mux.HandleFunc("GET /api/scenarios/{scenario}/entities/{role}/{id}", entitiesHandler.Get)
	mux.HandleFunc("GET /api/scenarios/{scenario}/entities/{role}/{id}/edges", entitiesHandler.Edges)
	mux.HandleFunc("GET /api/scenarios/{scenario}/entities/{role}/{id}/related/{key}", entitiesHandler.Related)

	// Protected endpoints (authenticated players, own scenario only)
	mux.Handle("GET /api/players/me", d.Auth.JWT(meHandler))
	mux.Handle("POST /api/scenarios/{scenario}/actions/{type}", scoped(actionsHandler.Execute))
	mux.Handle("POST /api/scenarios/{scenario}/systems/{system}/{command}", scoped(systemsHandler.Dispatch))
	mux.Handle("GET /api/scenarios/{scenario}/systems/{system}/select/{selector}", scoped(systemsHandler.Select))

	// Admin-only endpoints (authenticated + admin role)
	mux.Handle("POST /api/admin/scenarios/reload", admin(adminHandler.ReloadScenarios))
	mux.Handle("POST /api/admin/flush", admin(adminHandler.Flush))
	mux.Handle("POST /api/admin/scenarios/{scenario}/warm", admin(adminHandler.Warm))
	mux.Handle("POST /api/admin/scenarios/{scenario}/seed", admin(adminHandler.Seed))
	mux.Handle("POST /api/admin/scenarios/{scenario}/tick", admin(adminHandler.Tick))
	mux.Handle("POST /api/admin/scenarios/{scenario}/entities/{role}/{id}/reload", admin(adminHandler.ReloadEntity))
	mux.Handle("DELETE /api/admin/scenarios/{scenario}/entities/{role}/{id}", admin(adminHandler.DeleteEntity))

	if d.ExposeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	logger.Info("Routes configured successfully",
		"public_endpoints", []string{"/api/server/health", "/api/scenarios", "/api/scenarios/{scenario}/entities"},
		"protected_endpoints", []string{"/api/players/me", "/api/scenarios/{scenario}/actions", "/api/scenarios/{scenario}/systems"},
		"admin_endpoints", []string{"/api/admin/scenarios/reload", "/api/admin/flush", "/api/admin/scenarios/{scenario}/warm", "/api/admin/scenarios/{scenario}/seed", "/api/admin/scenarios/{scenario}/tick", "/api/admin/scenarios/{scenario}/entities"},
		"metrics", d.ExposeMetrics,
	)

	return mux
}
