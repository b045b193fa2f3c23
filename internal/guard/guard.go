package guard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cantoria/cantoria/internal/observability"
	"github.com/cantoria/cantoria/internal/ratelimit"
	"github.com/cantoria/cantoria/internal/shared"
)

// Identity describes the authenticated caller.
type Identity struct {
	ID    int64
	Name  string
	Email string
}

// IdentitySource resolves a session's user ID into an identity.
type IdentitySource interface {
	Identity(ctx context.Context, userID int64) (Identity, error)
}

// Resolver exposes the permission and role checks the guard composes.
type Resolver interface {
	HasPermission(ctx context.Context, userID int64, token string) (bool, error)
	HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error)
}

// AuthContext is handed to callers once a guard allows the request.
type AuthContext struct {
	User      Identity
	Session   *shared.Session
	RateLimit ratelimit.Result
}

// RateLimitOptions tunes per-action rate limiting.
type RateLimitOptions struct {
	Limit  int
	Window time.Duration
}

// RateLimitError reports an exhausted window with a client back-off hint.
type RateLimitError struct {
	Limit      int
	Remaining  int
	ResetAt    int64
	RetryAfter int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfter)
}

// Config groups guard dependencies.
type Config struct {
	Identities    IdentitySource
	Resolver      Resolver
	Limiter       *ratelimit.Limiter
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	LoginPath     string
	ForbiddenPath string
	// ActionDefaults applies when ProtectAction is called without options.
	ActionDefaults RateLimitOptions
}

// Guard composes the session accessor, permission resolver, and rate limiter
// into the entry points that gate pages, actions, and routes.
type Guard struct {
	identities    IdentitySource
	resolver      Resolver
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
	metrics       *observability.Metrics
	loginPath     string
	forbiddenPath string
	defaults      RateLimitOptions
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	g := &Guard{
		identities:    cfg.Identities,
		resolver:      cfg.Resolver,
		limiter:       cfg.Limiter,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		loginPath:     cfg.LoginPath,
		forbiddenPath: cfg.ForbiddenPath,
		defaults:      cfg.ActionDefaults,
	}
	if g.loginPath == "" {
		g.loginPath = "/auth/login"
	}
	if g.forbiddenPath == "" {
		g.forbiddenPath = "/forbidden"
	}
	if g.defaults.Limit <= 0 {
		g.defaults.Limit = 20
	}
	if g.defaults.Window <= 0 {
		g.defaults.Window = time.Minute
	}
	return g
}

// ProtectPage gates a server-rendered page. Anonymous callers are redirected
// to redirectPath carrying the originally requested path in the next
// parameter; callers missing requiredPermission are redirected to
// forbiddenPath. The boolean result reports whether the caller may proceed;
// when false the response has already been written.
func (g *Guard) ProtectPage(w http.ResponseWriter, r *http.Request, requiredPermission, redirectPath, forbiddenPath string) (*AuthContext, bool) {
	if redirectPath == "" {
		redirectPath = g.loginPath
	}
	if forbiddenPath == "" {
		forbiddenPath = g.forbiddenPath
	}

	sess := shared.SessionFromContext(r.Context())
	userID, authenticated := sessionUserID(sess)
	if !authenticated {
		g.metrics.GuardDenied("unauthorized")
		redirectWithNext(w, r, redirectPath)
		return nil, false
	}

	identity, err := g.identities.Identity(r.Context(), userID)
	if err != nil {
		g.fail(w, r, "resolve identity", err)
		return nil, false
	}

	if requiredPermission != "" {
		allowed, err := g.resolver.HasPermission(r.Context(), userID, requiredPermission)
		if err != nil {
			g.fail(w, r, "check permission", err)
			return nil, false
		}
		if !allowed {
			g.metrics.GuardDenied("forbidden")
			http.Redirect(w, r, forbiddenPath, http.StatusSeeOther)
			return nil, false
		}
	}

	return &AuthContext{User: identity, Session: sess}, true
}

// ProtectAction gates a mutating action. Rate limiting runs before the
// authentication check, so an anonymous burst still consumes its window.
// Returns shared.ErrUnauthorized, shared.ErrForbidden, or *RateLimitError;
// any other error is a resolver or identity lookup failure and must be
// treated as a denial by the caller.
func (g *Guard) ProtectAction(r *http.Request, requiredPermission string, opts *RateLimitOptions) (*AuthContext, error) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	userID, authenticated := sessionUserID(sess)

	limit := g.defaults
	if opts != nil {
		if opts.Limit > 0 {
			limit.Limit = opts.Limit
		}
		if opts.Window > 0 {
			limit.Window = opts.Window
		}
	}

	key := "ip:" + clientIP(r)
	if authenticated {
		key = "user:" + strconv.FormatInt(userID, 10)
	}

	res, err := g.limiter.Check(ctx, key, limit.Limit, limit.Window)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		retry := res.ResetAt - time.Now().Unix()
		if retry < 0 {
			retry = 0
		}
		g.metrics.GuardDenied("rate_limited")
		return nil, &RateLimitError{Limit: res.Limit, Remaining: res.Remaining, ResetAt: res.ResetAt, RetryAfter: retry}
	}

	if !authenticated {
		g.metrics.GuardDenied("unauthorized")
		return nil, shared.ErrUnauthorized
	}

	identity, err := g.identities.Identity(ctx, userID)
	if err != nil {
		return nil, err
	}

	if requiredPermission != "" {
		allowed, err := g.resolver.HasPermission(ctx, userID, requiredPermission)
		if err != nil {
			return nil, err
		}
		if !allowed {
			g.metrics.GuardDenied("forbidden")
			return nil, shared.ErrForbidden
		}
	}

	return &AuthContext{User: identity, Session: sess, RateLimit: res}, nil
}

func (g *Guard) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if g.logger != nil {
		g.logger.Error("guard "+op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func sessionUserID(sess *shared.Session) (int64, bool) {
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr; strip the port when present.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func redirectWithNext(w http.ResponseWriter, r *http.Request, target string) {
	if next := r.URL.RequestURI(); next != "" && next != "/" {
		target += "?next=" + url.QueryEscape(next)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
