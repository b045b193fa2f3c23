package guard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/ratelimit"
	"github.com/cantoria/cantoria/internal/shared"
	_ "github.com/cantoria/cantoria/testing"
)

type stubIdentities struct {
	identity guard.Identity
	err      error
}

func (s stubIdentities) Identity(ctx context.Context, userID int64) (guard.Identity, error) {
	if s.err != nil {
		return guard.Identity{}, s.err
	}
	return s.identity, nil
}

type stubResolver struct {
	permissions map[string]bool
	roles       map[string]bool
	err         error
}

func (s stubResolver) HasPermission(ctx context.Context, userID int64, token string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.permissions[token], nil
}

func (s stubResolver) HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, r := range roles {
		if s.roles[r] {
			return true, nil
		}
	}
	return false, nil
}

func newTestGuard(t *testing.T, identities guard.IdentitySource, resolver guard.Resolver, defaults guard.RateLimitOptions) *guard.Guard {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisCounterStore(client), nil, nil)
	return guard.New(guard.Config{
		Identities:     identities,
		Resolver:       resolver,
		Limiter:        limiter,
		ActionDefaults: defaults,
	})
}

func requestWithSession(t *testing.T, method, target, userID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	sm := shared.NewSessionManager(nil, "test_session", "secret", time.Hour, false)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestProtectPageRedirectsAnonymousWithNext(t *testing.T) {
	g := newTestGuard(t, stubIdentities{}, stubResolver{}, guard.RateLimitOptions{})

	req := requestWithSession(t, http.MethodGet, "/admin/roles?page=2", "")
	res := httptest.NewRecorder()

	_, ok := g.ProtectPage(res, req, "", "", "")
	if ok {
		t.Fatalf("expected anonymous caller to be denied")
	}
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	loc := res.Header().Get("Location")
	if !strings.HasPrefix(loc, "/auth/login?next=") {
		t.Fatalf("expected login redirect with next, got %q", loc)
	}
	if !strings.Contains(loc, "%2Fadmin%2Froles") {
		t.Fatalf("expected original path in next parameter, got %q", loc)
	}
}

func TestProtectPageForbiddenRedirect(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 5, Name: "Pat"}},
		stubResolver{permissions: map[string]bool{}},
		guard.RateLimitOptions{})

	req := requestWithSession(t, http.MethodGet, "/admin/roles", "5")
	res := httptest.NewRecorder()

	_, ok := g.ProtectPage(res, req, "roles.view", "", "")
	if ok {
		t.Fatalf("expected permission denial")
	}
	if res.Code != http.StatusSeeOther || res.Header().Get("Location") != "/forbidden" {
		t.Fatalf("expected redirect to /forbidden, got %d %q", res.Code, res.Header().Get("Location"))
	}
}

func TestProtectPageAllowed(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 5, Name: "Pat", Email: "pat@cantoria.local"}},
		stubResolver{permissions: map[string]bool{"roles.view": true}},
		guard.RateLimitOptions{})

	req := requestWithSession(t, http.MethodGet, "/admin/roles", "5")
	res := httptest.NewRecorder()

	auth, ok := g.ProtectPage(res, req, "roles.view", "", "")
	if !ok {
		t.Fatalf("expected caller to pass, got %d", res.Code)
	}
	if auth.User.ID != 5 || auth.User.Name != "Pat" {
		t.Fatalf("unexpected identity: %+v", auth.User)
	}
}

func TestProtectActionCountsAnonymousBurst(t *testing.T) {
	g := newTestGuard(t, stubIdentities{}, stubResolver{}, guard.RateLimitOptions{Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		req := requestWithSession(t, http.MethodPost, "/admin/roles", "")
		req.RemoteAddr = "203.0.113.9:51234"
		_, err := g.ProtectAction(req, "roles.edit", nil)
		if !errors.Is(err, shared.ErrUnauthorized) {
			t.Fatalf("request %d: expected ErrUnauthorized, got %v", i+1, err)
		}
	}

	// The burst consumed the window even though every request was anonymous.
	req := requestWithSession(t, http.MethodPost, "/admin/roles", "")
	req.RemoteAddr = "203.0.113.9:51234"
	_, err := g.ProtectAction(req, "roles.edit", nil)
	var rle *guard.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestProtectActionRateLimitSequence(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8}},
		stubResolver{permissions: map[string]bool{"roles.edit": true}},
		guard.RateLimitOptions{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		req := requestWithSession(t, http.MethodPost, "/admin/roles", "8")
		auth, err := g.ProtectAction(req, "roles.edit", nil)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if auth.RateLimit.Remaining != 4-i {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 4-i, auth.RateLimit.Remaining)
		}
	}

	req := requestWithSession(t, http.MethodPost, "/admin/roles", "8")
	_, err := g.ProtectAction(req, "roles.edit", nil)
	var rle *guard.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rle.Limit != 5 || rle.Remaining != 0 {
		t.Fatalf("unexpected limit state: %+v", rle)
	}
	if rle.RetryAfter < 0 || rle.RetryAfter > 61 {
		t.Fatalf("retry-after must be whole seconds within the window, got %d", rle.RetryAfter)
	}
}

func TestProtectActionForbidden(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8}},
		stubResolver{permissions: map[string]bool{}},
		guard.RateLimitOptions{})

	req := requestWithSession(t, http.MethodPost, "/admin/roles", "8")
	_, err := g.ProtectAction(req, "roles.edit", nil)
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestProtectActionPropagatesResolverError(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8}},
		stubResolver{err: errors.New("database down")},
		guard.RateLimitOptions{})

	req := requestWithSession(t, http.MethodPost, "/admin/roles", "8")
	_, err := g.ProtectAction(req, "roles.edit", nil)
	if err == nil || errors.Is(err, shared.ErrForbidden) || errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("expected resolver error to propagate as-is, got %v", err)
	}
}

func TestRequirePermissionMiddleware(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8, Name: "Kim"}},
		stubResolver{permissions: map[string]bool{"roles.edit": true}},
		guard.RateLimitOptions{Limit: 2, Window: time.Minute})

	var captured *guard.AuthContext
	handler := g.RequirePermission("roles.edit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = guard.AuthFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// Anonymous call answers 401.
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodPost, "/admin/roles", ""))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous caller, got %d", res.Code)
	}

	// Authenticated call passes and sees its auth context.
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodPost, "/admin/roles", "8"))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if captured == nil || captured.User.ID != 8 {
		t.Fatalf("expected auth context in request, got %+v", captured)
	}

	// Exhaust the window, then expect 429 with back-off headers.
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodPost, "/admin/roles", "8"))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodPost, "/admin/roles", "8"))
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if res.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected X-RateLimit-Limit 2, got %q", res.Header().Get("X-RateLimit-Limit"))
	}
	if res.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected X-RateLimit-Remaining 0, got %q", res.Header().Get("X-RateLimit-Remaining"))
	}
	if res.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("expected X-RateLimit-Reset header")
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	g := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8}},
		stubResolver{roles: map[string]bool{"DIRECTOR": true}},
		guard.RateLimitOptions{})

	handler := g.RequireRole("ADMIN", "DIRECTOR")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodGet, "/admin/roles", ""))
	if res.Code != http.StatusSeeOther || !strings.HasPrefix(res.Header().Get("Location"), "/auth/login") {
		t.Fatalf("expected login redirect, got %d %q", res.Code, res.Header().Get("Location"))
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodGet, "/admin/roles", "8"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for DIRECTOR, got %d", res.Code)
	}

	denied := newTestGuard(t,
		stubIdentities{identity: guard.Identity{ID: 8}},
		stubResolver{roles: map[string]bool{}},
		guard.RateLimitOptions{})
	handler = denied.RequireRole("ADMIN")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, requestWithSession(t, http.MethodGet, "/admin/roles", "8"))
	if res.Code != http.StatusSeeOther || res.Header().Get("Location") != "/forbidden" {
		t.Fatalf("expected forbidden redirect, got %d %q", res.Code, res.Header().Get("Location"))
	}
}
