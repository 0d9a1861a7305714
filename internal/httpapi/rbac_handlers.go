package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"hrms.org/internal/audit"
	"hrms.org/internal/auth"
)

type createRoleRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r createRoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Length(1, 64), is.PrintableASCII),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 64)),
	)
}

type addPermissionRequest struct {
	Permission string `json:"permission"`
}

func (r addPermissionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Permission, validation.Required, validation.Length(1, 64)),
	)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	role, err := a.svc.Gate.CreateRole(r.Context(), id, auth.RoleInput{ID: req.ID, Name: req.Name})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/api/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleAddPermission(w http.ResponseWriter, r *http.Request) {
	var req addPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	roleID := chi.URLParam(r, "role_id")
	role, err := a.svc.Gate.AddPermission(r.Context(), id, roleID, req.Permission)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permission.add", map[string]any{
		"role_id":    role.ID,
		"permission": auth.NormalizeTag(req.Permission),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.svc.Gate.Role(r.Context(), chi.URLParam(r, "role_id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}
