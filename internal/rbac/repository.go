package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for roles and permissions.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) (int64, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error

	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	UserRoleNames(ctx context.Context, userID int64) ([]string, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING id, name, description, created_at, updated_at`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return role, nil
}

// UpdateRole updates an existing role.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1 RETURNING id, name, description, created_at, updated_at`, id, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, mapPGError(err)
	}
	return role, nil
}

// DeleteRole removes a role by ID and returns the affected row count.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission by its token.
func (r *PGRepository) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description RETURNING id, name, description`, name, description).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListRolePermissions returns the permissions attached to a role.
func (r *PGRepository) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.name, p.description FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AttachPermission links a permission to a role.
func (r *PGRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission unlinks a permission from a role.
func (r *PGRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// AssignRole grants a role to a user.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// RemoveRole revokes a role from a user.
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// UserRoleNames returns the names of all roles held by a user.
func (r *PGRepository) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserPermissionNames returns the deduplicated permission tokens granted to a
// user through any of their roles.
func (r *PGRepository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT p.name FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id JOIN user_roles ur ON ur.role_id = rp.role_id WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
