package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"sgadmin.org/internal/auth"
)

// adminRole guards the RBAC management endpoints.
const adminRole = "admin"

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createFormRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createModuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type attachFormRequest struct {
	FormID string `json:"form_id"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type setGrantsRequest struct {
	Grants []auth.GrantInput `json:"grants"`
}

type authzCheckRequest struct {
	FormID    string `json:"form_id"`
	Operation string `json:"operation"`
}

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if auth.HasRole(r.Context(), adminRole) {
		return true
	}
	writeError(w, http.StatusForbidden, "admin role required")
	return false
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

// handleRoleScoped routes /v1/roles/{id} and /v1/roles/{id}/grants.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/roles/")
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	roleID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !a.requireAdmin(w, r) {
			return
		}
		if err := a.rbac.DeactivateRole(r.Context(), roleID); err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case len(parts) == 2 && parts[1] == "grants" && r.Method == http.MethodPut:
		if !a.requireAdmin(w, r) {
			return
		}
		var req setGrantsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.SetGrants(r.Context(), roleID, req.Grants); err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

// handleUserScoped routes /v1/users/{id}/roles[/{roleID}] and
// /v1/users/{id}/modules.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/users/")
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "roles":
		a.handleUserRoles(w, r, userID, parts[2:])
	case "modules":
		if len(parts) != 2 || r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "resource not found")
			return
		}
		modules, err := a.resolver.ResolveAccessibleModules(r.Context(), userID)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		roles, err := a.resolver.ResolveRoles(r.Context(), userID)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case len(rest) == 0 && r.Method == http.MethodPost:
		if !a.requireAdmin(w, r) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if !a.requireAdmin(w, r) {
			return
		}
		if err := a.rbac.RevokeRole(r.Context(), userID, rest[0]); err != nil {
			handleAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleForms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	var req createFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form, err := a.rbac.CreateForm(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, form)
}

func (a *API) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	var req createModuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	module, err := a.rbac.CreateModule(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, module)
}

// handleModuleScoped routes /v1/modules/{id}/forms.
func (a *API) handleModuleScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/modules/")
	if len(parts) != 2 || parts[1] != "forms" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	var req attachFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.AttachForm(r.Context(), parts[0], req.FormID); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

// handleAuthzCheck answers whether the authenticated user may perform an
// operation on a form.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	op := auth.Operation(strings.ToLower(strings.TrimSpace(req.Operation)))
	if !op.Valid() {
		writeError(w, http.StatusBadRequest, "operation must be one of create, read, update, delete")
		return
	}
	allowed, err := a.resolver.CanPerform(r.Context(), principal.UserID, req.FormID, op)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   allowed,
		"form_id":   req.FormID,
		"operation": string(op),
	})
}

func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
