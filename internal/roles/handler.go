package roles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/palisade-authz/palisade/internal/authz"
	"github.com/palisade-authz/palisade/internal/platform/httpx"
	"github.com/palisade-authz/palisade/internal/registry"
	"github.com/palisade-authz/palisade/internal/shared"
)

// Resource and actions declared by this controller.
const (
	Resource = "sys-roles"

	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Descriptor declares this controller's protected route surface for the
// endpoint registry.
func Descriptor() registry.AppDescriptor {
	return registry.AppDescriptor{
		Controller: "roles",
		Routes: []registry.Route{
			{Method: http.MethodGet, Pattern: "/api/v1/roles", Resource: Resource, Action: ActionRead, Summary: "List roles"},
			{Method: http.MethodPost, Pattern: "/api/v1/roles", Resource: Resource, Action: ActionCreate, Summary: "Create role"},
			{Method: http.MethodGet, Pattern: "/api/v1/roles/{roleID}", Resource: Resource, Action: ActionRead, Summary: "Get role"},
			{Method: http.MethodPut, Pattern: "/api/v1/roles/{roleID}", Resource: Resource, Action: ActionUpdate, Summary: "Update role"},
			{Method: http.MethodDelete, Pattern: "/api/v1/roles/{roleID}", Resource: Resource, Action: ActionDelete, Summary: "Delete role"},
		},
	}
}

var validate = validator.New()

// Handler manages role endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.authz.Require(Resource, ActionRead)).Get("/", h.list)
	r.With(h.authz.Require(Resource, ActionCreate)).Post("/", h.create)
	r.With(h.authz.Require(Resource, ActionRead)).Get("/{roleID}", h.get)
	r.With(h.authz.Require(Resource, ActionUpdate)).Put("/{roleID}", h.update)
	r.With(h.authz.Require(Resource, ActionDelete)).Delete("/{roleID}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ident, _ := shared.IdentityFromContext(r.Context())
	list, err := h.service.List(r.Context(), ident.Domain)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.Get(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type createRoleRequest struct {
	Code     string  `json:"code" validate:"required,max=64"`
	Name     string  `json:"name" validate:"required,max=128"`
	ParentID *string `json:"parent_id,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	role, err := h.service.Create(r.Context(), CreateRoleInput{
		Code:     req.Code,
		Name:     req.Name,
		Domain:   ident.Domain,
		ParentID: req.ParentID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRoleRequest struct {
	Name     string  `json:"name" validate:"required,max=128"`
	Status   string  `json:"status" validate:"required,oneof=enabled disabled"`
	ParentID *string `json:"parent_id,omitempty"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.Update(r.Context(), UpdateRoleInput{
		ID:       chi.URLParam(r, "roleID"),
		Name:     req.Name,
		Status:   Status(req.Status),
		ParentID: req.ParentID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role not found")
	case errors.Is(err, ErrParentNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "parent role not found")
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "role code already exists")
	default:
		h.logger.Error("role request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
