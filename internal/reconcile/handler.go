package reconcile

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/palisade-authz/palisade/internal/authz"
	"github.com/palisade-authz/palisade/internal/platform/httpx"
	"github.com/palisade-authz/palisade/internal/registry"
)

const (
	Resource = "sys-sync"

	ActionTrigger = "trigger"
)

// Descriptor declares this controller's protected route surface for the
// endpoint registry.
func Descriptor() registry.AppDescriptor {
	return registry.AppDescriptor{
		Controller: "reconcile",
		Routes: []registry.Route{
			{Method: http.MethodPost, Pattern: "/api/v1/sync", Resource: Resource, Action: ActionTrigger, Summary: "Run reconciliation"},
		},
	}
}

// Handler exposes manual reconciliation.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// MountRoutes registers the sync route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.authz.Require(Resource, ActionTrigger)).Post("/", h.sync)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context())
	if err != nil {
		h.logger.Error("reconciliation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
