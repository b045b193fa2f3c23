package shared

// Canonical role names assignable to members.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleDirector   = "DIRECTOR"
	RoleStaff      = "STAFF"
	RoleLibrarian  = "LIBRARIAN"
	RoleMember     = "MEMBER"
)

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermAuditView = "audit.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermAuditView,
	}
}

// AdminRoles lists the roles allowed into the administration area.
func AdminRoles() []string {
	return []string{RoleSuperAdmin, RoleAdmin, RoleDirector}
}
