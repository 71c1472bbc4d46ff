package api

import (
	"net/http"
	"strconv"

	"github.com/opsdesk/guichet/pkg/httputil"
	"github.com/opsdesk/guichet/pkg/rbac"
)

func parseRoleID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw, ok := httputil.ParsePathStringOrError(w, r, key)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid role id "+raw)
		return 0, false
	}
	return id, true
}

type createUserInput struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// createUser handles POST /api/v1/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleUsers, Action: rbac.ActionCreate}) {
		return
	}

	var input createUserInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if !httputil.RequireNonEmpty(w, input.ID, "id") {
		return
	}
	if !httputil.RequireNonEmpty(w, input.Username, "username") {
		return
	}

	user := &rbac.User{
		ID:          input.ID,
		Username:    input.Username,
		DisplayName: input.DisplayName,
		Email:       input.Email,
	}
	if err := s.directory.CreateUser(r.Context(), user); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// getUser handles GET /api/v1/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleUsers, Action: rbac.ActionRead}) {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := s.directory.GetUser(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// assignRole handles PUT /api/v1/users/{id}/roles/{roleId}
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleUsers, Action: rbac.ActionUpdate}) {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := parseRoleID(w, r, "roleId")
	if !ok {
		return
	}

	if err := s.directory.AssignRole(r.Context(), userID, roleID, actor.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// unassignRole handles DELETE /api/v1/users/{id}/roles/{roleId}
func (s *Server) unassignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleUsers, Action: rbac.ActionUpdate}) {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := parseRoleID(w, r, "roleId")
	if !ok {
		return
	}

	if err := s.directory.UnassignRole(r.Context(), userID, roleID); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type roleInput struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []rbac.Permission `json:"permissions"`
}

// createRole handles POST /api/v1/roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleRoles, Action: rbac.ActionCreate}) {
		return
	}

	var input roleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if !httputil.RequireNonEmpty(w, input.Name, "name") {
		return
	}

	role := &rbac.Role{
		Name:        input.Name,
		Description: input.Description,
		Permissions: input.Permissions,
	}
	if err := s.directory.CreateRole(r.Context(), role); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// listRoles handles GET /api/v1/roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleRoles, Action: rbac.ActionRead}) {
		return
	}

	roles, err := s.directory.ListRoles(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// getRole handles GET /api/v1/roles/{id}
func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleRoles, Action: rbac.ActionRead}) {
		return
	}
	roleID, ok := parseRoleID(w, r, "id")
	if !ok {
		return
	}

	role, err := s.directory.GetRole(r.Context(), roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// updateRole handles PUT /api/v1/roles/{id}
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleRoles, Action: rbac.ActionUpdate}) {
		return
	}
	roleID, ok := parseRoleID(w, r, "id")
	if !ok {
		return
	}

	var input roleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := s.directory.GetRole(r.Context(), roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if role.IsBuiltIn {
		httputil.WriteConflict(w, "built-in roles cannot be modified")
		return
	}

	role.Description = input.Description
	role.Permissions = input.Permissions
	if err := s.directory.UpdateRole(r.Context(), role); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /api/v1/roles/{id}
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !s.requirePermission(w, actor, rbac.Permission{Module: rbac.ModuleRoles, Action: rbac.ActionDelete}) {
		return
	}
	roleID, ok := parseRoleID(w, r, "id")
	if !ok {
		return
	}

	role, err := s.directory.GetRole(r.Context(), roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if role.IsBuiltIn {
		httputil.WriteConflict(w, "built-in roles cannot be deleted")
		return
	}

	if err := s.directory.DeleteRole(r.Context(), roleID); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
