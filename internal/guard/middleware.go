package guard

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cantoria/cantoria/internal/shared"
)

// RequireRole gates a route subtree on coarse role membership. Anonymous
// callers are redirected to the login path, callers outside allowedRoles to
// the forbidden page.
func (g *Guard) RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			userID, authenticated := sessionUserID(sess)
			if !authenticated {
				g.metrics.GuardDenied("unauthorized")
				redirectWithNext(w, r, g.loginPath)
				return
			}
			ok, err := g.resolver.HasAnyRole(r.Context(), userID, allowedRoles...)
			if err != nil {
				g.fail(w, r, "check roles", err)
				return
			}
			if !ok {
				g.metrics.GuardDenied("forbidden")
				http.Redirect(w, r, g.forbiddenPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates a JSON route on a permission token, applying the
// guard's default per-action rate limit. Denials answer 401, 403, or 429;
// the allowed AuthContext is placed in the request context for the handler.
func (g *Guard) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, err := g.ProtectAction(r, permission, nil)
			if err != nil {
				g.writeDenial(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), auth)))
		})
	}
}

func (g *Guard) writeDenial(w http.ResponseWriter, r *http.Request, err error) {
	var rle *RateLimitError
	switch {
	case errors.As(err, &rle):
		WriteRateLimitHeaders(w, rle)
		_ = shared.WriteJSONError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, shared.ErrUnauthorized):
		_ = shared.WriteJSONError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, shared.ErrForbidden):
		_ = shared.WriteJSONError(w, http.StatusForbidden, "permission denied")
	default:
		if g.logger != nil {
			g.logger.Error("guard denial", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		_ = shared.WriteJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// WriteRateLimitHeaders sets the standard 429 response headers.
func WriteRateLimitHeaders(w http.ResponseWriter, e *RateLimitError) {
	w.Header().Set("Retry-After", strconv.FormatInt(e.RetryAfter, 10))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(e.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(e.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(e.ResetAt, 10))
}
