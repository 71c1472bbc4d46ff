package rbac

import (
	"time"
)

// Module represents a functional area of the system that permissions are
// scoped to.
type Module string

const (
	ModuleAssistance Module = "assistance"
	ModuleUsers      Module = "users"
	ModuleRoles      Module = "roles"
	ModuleAudit      Module = "audit"
)

// Action represents an action that can be performed within a module.
type Action string

const (
	ActionCreate      Action = "create"
	ActionRead        Action = "read"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionVerify      Action = "verify"
	ActionValidateDEC Action = "validate_dec"
	ActionValidateBAO Action = "validate_bao"
	ActionAssign      Action = "assign"
	ActionManage      Action = "manage"
	ActionExport      Action = "export"
)

// Permission is the atomic unit of authorization: a (module, action) pair,
// globally unique by the pair. Matching is exact; there are no wildcards.
type Permission struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}

// String returns the canonical "module.action" form of the permission.
func (p Permission) String() string {
	return string(p.Module) + "." + string(p.Action)
}

// Capabilities required by the workflow transition table.
var (
	PermVerify      = Permission{Module: ModuleAssistance, Action: ActionVerify}
	PermValidateDEC = Permission{Module: ModuleAssistance, Action: ActionValidateDEC}
	PermValidateBAO = Permission{Module: ModuleAssistance, Action: ActionValidateBAO}
	PermAssign      = Permission{Module: ModuleAssistance, Action: ActionAssign}
	PermManage      = Permission{Module: ModuleAssistance, Action: ActionManage}
)

// Role groups permissions under a name. Roles are reference data: the
// workflow engine reads them but never mutates them.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
	IsBuiltIn   bool         `json:"is_built_in"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasPermission reports whether the role grants the given permission.
func (r Role) HasPermission(p Permission) bool {
	for _, held := range r.Permissions {
		if held.Module == p.Module && held.Action == p.Action {
			return true
		}
	}
	return false
}

// User is the acting identity supplied by the identity provider for each
// call. It is immutable for the duration of one workflow operation.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Roles       []Role    `json:"roles"`
	CreatedAt   time.Time `json:"created_at"`
}

// Built-in role names.
const (
	RoleDemandeur  = "demandeur"
	RoleVerifieur  = "verifieur"
	RoleDelegueDEC = "delegue_dec"
	RoleBAO        = "bao"
	RoleTechnicien = "technicien"
	RoleAdmin      = "admin"
)

// BuiltInRoles returns the role definitions seeded at first startup.
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        RoleDemandeur,
			Description: "Submits assistance requests and closes their own resolved requests",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionCreate},
				{Module: ModuleAssistance, Action: ActionRead},
			},
		},
		{
			Name:        RoleVerifieur,
			Description: "Performs the initial verification stage",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionRead},
				{Module: ModuleAssistance, Action: ActionVerify},
			},
		},
		{
			Name:        RoleDelegueDEC,
			Description: "Hierarchical validator owning the DEC approval stage",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionRead},
				{Module: ModuleAssistance, Action: ActionValidateDEC},
			},
		},
		{
			Name:        RoleBAO,
			Description: "Operations validator owning the BAO approval stage",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionRead},
				{Module: ModuleAssistance, Action: ActionValidateBAO},
			},
		},
		{
			Name:        RoleTechnicien,
			Description: "Processes and resolves assigned requests",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionRead},
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Full access to assistance, user and role management",
			IsBuiltIn:   true,
			Permissions: []Permission{
				{Module: ModuleAssistance, Action: ActionCreate},
				{Module: ModuleAssistance, Action: ActionRead},
				{Module: ModuleAssistance, Action: ActionUpdate},
				{Module: ModuleAssistance, Action: ActionDelete},
				{Module: ModuleAssistance, Action: ActionVerify},
				{Module: ModuleAssistance, Action: ActionValidateDEC},
				{Module: ModuleAssistance, Action: ActionValidateBAO},
				{Module: ModuleAssistance, Action: ActionAssign},
				{Module: ModuleAssistance, Action: ActionManage},
				{Module: ModuleUsers, Action: ActionCreate},
				{Module: ModuleUsers, Action: ActionRead},
				{Module: ModuleUsers, Action: ActionUpdate},
				{Module: ModuleUsers, Action: ActionDelete},
				{Module: ModuleRoles, Action: ActionCreate},
				{Module: ModuleRoles, Action: ActionRead},
				{Module: ModuleRoles, Action: ActionUpdate},
				{Module: ModuleRoles, Action: ActionDelete},
				{Module: ModuleAudit, Action: ActionRead},
				{Module: ModuleAudit, Action: ActionExport},
			},
		},
	}
}
