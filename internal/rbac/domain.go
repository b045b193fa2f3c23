package rbac

import "time"

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability identified by an opaque token.
// Tokens use both "resource.action" and "resource:action" spellings; the
// token is never parsed, only compared byte for byte.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}
