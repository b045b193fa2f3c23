package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrDuplicate indicates a uniqueness conflict, e.g. a role name reuse.
var ErrDuplicate = errors.New("rbac: duplicate")

// Service resolves identities to permission sets and manages role
// assignments. Lookup failures always propagate: authorization data being
// unavailable must deny, never silently allow.
type Service struct {
	repo   Repository
	cache  *PermissionCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs a Service. The cache may be nil.
func NewService(repo Repository, cache *PermissionCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// EffectivePermissions returns the deduplicated union of permission tokens
// granted to the user through all of their roles. Concurrent lookups for the
// same user collapse into a single database round trip.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if perms, ok := s.cache.Get(ctx, userID); ok {
		return perms, nil
	}
	v, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		names, err := s.repo.UserPermissionNames(ctx, userID)
		if err != nil {
			return nil, err
		}
		unique := make(map[string]struct{}, len(names))
		perms := make([]string, 0, len(names))
		for _, name := range names {
			if _, ok := unique[name]; ok {
				continue
			}
			unique[name] = struct{}{}
			perms = append(perms, name)
		}
		sort.Strings(perms)
		s.cache.Set(ctx, userID, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// UserRoles returns the role names held by the user.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.UserRoleNames(ctx, userID)
}

// HasPermission reports whether the user holds the exact permission token.
// Matching is byte-exact: no wildcard, prefix, or separator equivalence.
func (s *Service) HasPermission(ctx context.Context, userID int64, token string) (bool, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == token {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user holds at least one of the given roles.
func (s *Service) HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error) {
	held, err := s.repo.UserRoleNames(ctx, userID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(held))
	for _, r := range held {
		set[r] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := set[r]; ok {
			return true, nil
		}
	}
	return false, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role by ID. Returns ErrNotFound if nothing was deleted.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	rows, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns all registered permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// EnsurePermission upserts a permission token with its description.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	return s.repo.EnsurePermission(ctx, name, strings.TrimSpace(description))
}

// RolePermissions returns the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.ListRolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the permission set of a role. Cached effective
// sets for affected users go stale until their TTL expires; the cache TTL is
// kept short for exactly this reason.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	current, err := s.repo.ListRolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, p := range current {
		existing[p.ID] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			if err := s.repo.AttachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	for id := range existing {
		if _, ok := keep[id]; !ok {
			if err := s.repo.DetachPermission(ctx, roleID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignRole grants a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// RemoveRole revokes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}
