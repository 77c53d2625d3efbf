package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/palisade-authz/palisade/internal/assignment"
	"github.com/palisade-authz/palisade/internal/endpoints"
	"github.com/palisade-authz/palisade/internal/observability"
	"github.com/palisade-authz/palisade/internal/reconcile"
	"github.com/palisade-authz/palisade/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	RolesHandler      *roles.Handler
	AssignmentHandler *assignment.Handler
	EndpointsHandler  *endpoints.Handler
	ReconcileHandler  *reconcile.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RequireIdentity(params.Config.DefaultDomain))

		api.Route("/roles", func(rr chi.Router) {
			params.RolesHandler.MountRoutes(rr)
			params.AssignmentHandler.MountRoleRoutes(rr)
		})
		api.Route("/users", func(ur chi.Router) {
			params.AssignmentHandler.MountUserRoutes(ur)
		})
		api.Route("/endpoints", func(er chi.Router) {
			params.EndpointsHandler.MountRoutes(er)
		})
		api.Route("/sync", func(sr chi.Router) {
			params.ReconcileHandler.MountRoutes(sr)
		})
	})

	return r
}
