package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cantoria/cantoria/internal/audit"
	"github.com/cantoria/cantoria/internal/auth"
	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/observability"
	"github.com/cantoria/cantoria/internal/rbac"
	"github.com/cantoria/cantoria/internal/shared"
	"github.com/cantoria/cantoria/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Guard          *guard.Guard
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Cantoria defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		shared.WriteJSONError(w, http.StatusForbidden, "you do not have access to this resource")
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/admin", func(r chi.Router) {
		r.Use(params.Guard.RequireRole(shared.AdminRoles()...))
		params.RBACHandler.MountRoutes(r)
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
