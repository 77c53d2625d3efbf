package assignment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/palisade-authz/palisade/internal/authz"
	"github.com/palisade-authz/palisade/internal/platform/httpx"
	"github.com/palisade-authz/palisade/internal/policy"
	"github.com/palisade-authz/palisade/internal/registry"
	"github.com/palisade-authz/palisade/internal/shared"
)

// Resources and actions declared by this controller.
const (
	RoleResource = "sys-roles"
	UserResource = "sys-users"

	ActionAssign = "assign"
	ActionGrant  = "grant"
)

// Descriptor declares this controller's protected route surface for the
// endpoint registry.
func Descriptor() registry.AppDescriptor {
	return registry.AppDescriptor{
		Controller: "assignment",
		Routes: []registry.Route{
			{Method: http.MethodPost, Pattern: "/api/v1/roles/{roleID}/permissions", Resource: RoleResource, Action: ActionGrant, Summary: "Replace role permissions"},
			{Method: http.MethodPost, Pattern: "/api/v1/roles/{roleID}/users", Resource: RoleResource, Action: ActionAssign, Summary: "Replace role members"},
			{Method: http.MethodPost, Pattern: "/api/v1/roles/{roleID}/menus", Resource: RoleResource, Action: ActionAssign, Summary: "Replace role menus"},
			{Method: http.MethodPost, Pattern: "/api/v1/users/{userID}/roles", Resource: UserResource, Action: ActionAssign, Summary: "Replace user roles"},
		},
	}
}

var validate = validator.New()

// Handler manages assignment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   authz.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authz authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// MountRoleRoutes registers the role-scoped assignment routes; they mount
// under /roles alongside the role CRUD routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.With(h.authz.Require(RoleResource, ActionGrant)).Post("/{roleID}/permissions", h.assignPermissions)
	r.With(h.authz.Require(RoleResource, ActionAssign)).Post("/{roleID}/users", h.assignUsers)
	r.With(h.authz.Require(RoleResource, ActionAssign)).Post("/{roleID}/menus", h.assignMenus)
}

// MountUserRoutes registers the user-scoped assignment route.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.With(h.authz.Require(UserResource, ActionAssign)).Post("/{userID}/roles", h.assignRoles)
}

type idsRequest struct {
	IDs []string `json:"ids" validate:"required"`
}

type permissionsRequest struct {
	Permissions []Permission `json:"permissions" validate:"required,dive"`
}

type assignResponse struct {
	Success bool `json:"success"`
	Added   int  `json:"added"`
	Removed int  `json:"removed"`
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	res, err := h.service.AssignRolesToUser(r.Context(), chi.URLParam(r, "userID"), req.IDs, ident.Domain)
	h.respond(w, r, res, err)
}

func (h *Handler) assignUsers(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	res, err := h.service.AssignUsersToRole(r.Context(), chi.URLParam(r, "roleID"), req.IDs, ident.Domain)
	h.respond(w, r, res, err)
}

func (h *Handler) assignPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	res, err := h.service.AssignPermissionsToRole(r.Context(), chi.URLParam(r, "roleID"), req.Permissions, ident.Domain)
	h.respond(w, r, res, err)
}

func (h *Handler) assignMenus(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	res, err := h.service.AssignMenusToRole(r.Context(), chi.URLParam(r, "roleID"), req.IDs, ident.Domain)
	h.respond(w, r, res, err)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httpx.DecodeJSON(r, req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res Result, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignResponse{Success: true, Added: res.Added, Removed: res.Removed})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role not found")
	case errors.Is(err, shared.ErrLockNotAcquired):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a concurrent assignment is in progress, retry shortly")
	case errors.Is(err, ErrInconsistent):
		h.logger.Error("assignment left stores inconsistent",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "assignment partially applied, reconciliation pending")
	case errors.Is(err, policy.ErrEngine):
		h.logger.Error("policy engine rejected assignment",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.Error("assignment request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
