package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	_ "github.com/cantoria/cantoria/testing"
)

type stubRepo struct {
	Repository

	permissionNames []string
	permissionErr   error
	roleNames       []string
	roleErr         error

	permissionCalls int
	assigned        [][2]int64
	removed         [][2]int64
}

func (s *stubRepo) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	s.permissionCalls++
	return s.permissionNames, s.permissionErr
}

func (s *stubRepo) UserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return s.roleNames, s.roleErr
}

func (s *stubRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	s.assigned = append(s.assigned, [2]int64{userID, roleID})
	return nil
}

func (s *stubRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	s.removed = append(s.removed, [2]int64{userID, roleID})
	return nil
}

func newTestCache(t *testing.T) *PermissionCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(client, time.Minute)
}

func TestEffectivePermissionsDeduplicates(t *testing.T) {
	repo := &stubRepo{permissionNames: []string{"users.view", "roles.edit", "users.view", "music:upload"}}
	svc := NewService(repo, nil, nil)

	perms, err := svc.EffectivePermissions(context.Background(), 42)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	want := []string{"music:upload", "roles.edit", "users.view"}
	if len(perms) != len(want) {
		t.Fatalf("expected %d permissions, got %v", len(want), perms)
	}
	for i := range want {
		if perms[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, perms)
		}
	}
}

func TestEffectivePermissionsPropagatesError(t *testing.T) {
	repo := &stubRepo{permissionErr: errors.New("connection refused")}
	svc := NewService(repo, nil, nil)

	if _, err := svc.EffectivePermissions(context.Background(), 42); err == nil {
		t.Fatalf("expected lookup error to propagate")
	}
}

func TestHasPermissionExactMatchOnly(t *testing.T) {
	repo := &stubRepo{permissionNames: []string{"attendance:mark:all", "users.view"}}
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	ok, err := svc.HasPermission(ctx, 1, "attendance:mark:all")
	if err != nil || !ok {
		t.Fatalf("expected exact token to match, got ok=%v err=%v", ok, err)
	}

	// No prefix or separator equivalence.
	for _, token := range []string{"attendance:mark", "attendance.mark.all", "users"} {
		ok, err := svc.HasPermission(ctx, 1, token)
		if err != nil {
			t.Fatalf("has permission %q: %v", token, err)
		}
		if ok {
			t.Fatalf("token %q should not match", token)
		}
	}
}

func TestEffectivePermissionsUsesCache(t *testing.T) {
	repo := &stubRepo{permissionNames: []string{"users.view"}}
	cache := newTestCache(t)
	svc := NewService(repo, cache, nil)
	ctx := context.Background()

	if _, err := svc.EffectivePermissions(ctx, 7); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if _, err := svc.EffectivePermissions(ctx, 7); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if repo.permissionCalls != 1 {
		t.Fatalf("expected 1 repository call, got %d", repo.permissionCalls)
	}
}

func TestAssignRoleInvalidatesCache(t *testing.T) {
	repo := &stubRepo{permissionNames: []string{"users.view"}}
	cache := newTestCache(t)
	svc := NewService(repo, cache, nil)
	ctx := context.Background()

	if _, err := svc.EffectivePermissions(ctx, 7); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := svc.AssignRole(ctx, 7, 3); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	repo.permissionNames = []string{"users.view", "users.edit"}

	perms, err := svc.EffectivePermissions(ctx, 7)
	if err != nil {
		t.Fatalf("lookup after assign: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected refreshed permission set, got %v", perms)
	}
	if repo.permissionCalls != 2 {
		t.Fatalf("expected cache invalidation to force a second repository call, got %d", repo.permissionCalls)
	}
}

func TestHasAnyRole(t *testing.T) {
	repo := &stubRepo{roleNames: []string{"MEMBER", "LIBRARIAN"}}
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	ok, err := svc.HasAnyRole(ctx, 1, "ADMIN", "LIBRARIAN")
	if err != nil || !ok {
		t.Fatalf("expected role match, got ok=%v err=%v", ok, err)
	}
	ok, err = svc.HasAnyRole(ctx, 1, "ADMIN", "DIRECTOR")
	if err != nil {
		t.Fatalf("has any role: %v", err)
	}
	if ok {
		t.Fatalf("expected no role match")
	}
}
