package endpoints

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/palisade-authz/palisade/internal/authz"
	"github.com/palisade-authz/palisade/internal/platform/httpx"
	"github.com/palisade-authz/palisade/internal/registry"
	"github.com/palisade-authz/palisade/internal/shared"
)

const (
	Resource = "sys-endpoints"

	ActionRead = "read"
)

// Descriptor declares this controller's protected route surface for the
// endpoint registry.
func Descriptor() registry.AppDescriptor {
	return registry.AppDescriptor{
		Controller: "endpoints",
		Routes: []registry.Route{
			{Method: http.MethodGet, Pattern: "/api/v1/endpoints", Resource: Resource, Action: ActionRead, Summary: "List endpoints"},
			{Method: http.MethodGet, Pattern: "/api/v1/endpoints/tree", Resource: Resource, Action: ActionRead, Summary: "Endpoint tree by resource"},
		},
	}
}

// Handler serves the endpoint catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// MountRoutes registers endpoint catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.authz.Require(Resource, ActionRead)).Get("/", h.list)
	r.With(h.authz.Require(Resource, ActionRead)).Get("/tree", h.tree)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r)
	filter := Filter{
		Method:   r.URL.Query().Get("method"),
		Resource: r.URL.Query().Get("resource"),
		Action:   r.URL.Query().Get("action"),
	}
	items, pagination, err := h.service.List(r.Context(), filter, page, perPage)
	if err != nil {
		h.logger.Error("endpoint listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"endpoints":  items,
		"pagination": pagination,
	})
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.Tree(r.Context())
	if err != nil {
		h.logger.Error("endpoint tree failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": groups})
}
