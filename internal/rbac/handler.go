package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cantoria/cantoria/internal/audit"
	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/shared"
)

// Handler exposes access-control administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     *guard.Guard
	audit     *audit.Recorder
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, g *guard.Guard, recorder *audit.Recorder) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     g,
		audit:     recorder,
		validator: validator.New(),
	}
}

// MountRoutes registers administration routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequirePermission(shared.PermRolesView)).Get("/roles", h.listRoles)
	r.With(h.guard.RequirePermission(shared.PermRolesEdit)).Post("/roles", h.createRole)
	r.With(h.guard.RequirePermission(shared.PermRolesEdit)).Put("/roles/{roleID}", h.updateRole)
	r.With(h.guard.RequirePermission(shared.PermRolesEdit)).Delete("/roles/{roleID}", h.deleteRole)
	r.With(h.guard.RequirePermission(shared.PermRolesView)).Get("/roles/{roleID}/permissions", h.listRolePermissions)
	r.With(h.guard.RequirePermission(shared.PermRolesEdit)).Put("/roles/{roleID}/permissions", h.setRolePermissions)
	r.With(h.guard.RequirePermission(shared.PermPermissionsView)).Get("/permissions", h.listPermissions)
	r.With(h.guard.RequirePermission(shared.PermUsersView)).Get("/users/{userID}/roles", h.listUserRoles)
	r.With(h.guard.RequirePermission(shared.PermUsersView)).Get("/users/{userID}/permissions", h.listUserPermissions)
	r.With(h.guard.RequirePermission(shared.PermUsersEdit)).Post("/users/{userID}/roles", h.assignUserRole)
	r.With(h.guard.RequirePermission(shared.PermUsersEdit)).Delete("/users/{userID}/roles/{roleID}", h.removeUserRole)
}

type roleView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type permissionView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

func toRoleView(role Role) roleView {
	return roleView{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.serverError(w, "list roles", err)
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, toRoleView(role))
	}
	_ = shared.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := shared.ReadJSON(w, r, &req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusUnprocessableEntity, "role name is required")
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			_ = shared.WriteJSONError(w, http.StatusConflict, "role name already exists")
			return
		}
		h.serverError(w, "create role", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionRoleCreate,
		Entity:   "role",
		EntityID: strconv.FormatInt(role.ID, 10),
		New:      toRoleView(role),
	})
	_ = shared.WriteJSON(w, http.StatusCreated, toRoleView(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req roleRequest
	if err := shared.ReadJSON(w, r, &req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusUnprocessableEntity, "role name is required")
		return
	}
	before, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.notFoundOrServerError(w, "get role", err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), roleID, req.Name, req.Description)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			_ = shared.WriteJSONError(w, http.StatusConflict, "role name already exists")
			return
		}
		h.notFoundOrServerError(w, "update role", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionRoleUpdate,
		Entity:   "role",
		EntityID: strconv.FormatInt(role.ID, 10),
		Old:      toRoleView(before),
		New:      toRoleView(role),
	})
	_ = shared.WriteJSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	before, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.notFoundOrServerError(w, "get role", err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.notFoundOrServerError(w, "delete role", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionRoleDelete,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Old:      toRoleView(before),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.serverError(w, "list permissions", err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, permissionView{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	_ = shared.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.serverError(w, "list role permissions", err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, permissionView{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	_ = shared.WriteJSON(w, http.StatusOK, views)
}

type rolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req rolePermissionsRequest
	if err := shared.ReadJSON(w, r, &req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	before, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.serverError(w, "list role permissions", err)
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		h.serverError(w, "set role permissions", err)
		return
	}
	after, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.serverError(w, "list role permissions", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionRolePermissionsUpdate,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Old:      permissionNames(before),
		New:      permissionNames(after),
	})
	_ = shared.WriteJSON(w, http.StatusOK, map[string]any{"permissions": permissionNames(after)})
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.serverError(w, "list user roles", err)
		return
	}
	_ = shared.WriteJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.serverError(w, "resolve user permissions", err)
		return
	}
	_ = shared.WriteJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) assignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := shared.ReadJSON(w, r, &req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusUnprocessableEntity, "role_id is required")
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		h.serverError(w, "assign role", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionUserRoleAssign,
		Entity:   "user_role",
		EntityID: strconv.FormatInt(userID, 10),
		New:      map[string]int64{"user_id": userID, "role_id": req.RoleID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, roleID); err != nil {
		h.serverError(w, "remove role", err)
		return
	}
	h.audit.Record(r.Context(), audit.Change{
		Action:   audit.ActionUserRoleRemove,
		Entity:   "user_role",
		EntityID: strconv.FormatInt(userID, 10),
		Old:      map[string]int64{"user_id": userID, "role_id": roleID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error("rbac "+op, slog.Any("error", err))
	}
	_ = shared.WriteJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func (h *Handler) notFoundOrServerError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		_ = shared.WriteJSONError(w, http.StatusNotFound, "role not found")
		return
	}
	h.serverError(w, op, err)
}

func permissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}
