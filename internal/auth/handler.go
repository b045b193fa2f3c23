package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	guard          *guard.Guard
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, g *guard.Guard) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		guard:          g,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/account", h.handleAccount)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := shared.ReadJSON(w, r, &req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		_ = shared.WriteJSONError(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("authenticate", slog.Any("error", err))
		}
		_ = shared.WriteJSONError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		_ = shared.WriteJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.Set(shared.SessionUserNameKey, user.Name)

	if sess.ID != "" {
		expiresAt := time.Now().Add(h.sessionManager.TTL())
		meta := shared.RequestMetaFromContext(r.Context())
		if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, meta.IP, meta.UserAgent); err != nil {
			h.logger.Warn("register session", slog.Any("error", err))
		}
	}

	_ = shared.WriteJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Email: user.Email})
}

// handleCSRF hands a token to JSON clients so subsequent mutating requests
// can carry it in the X-CSRF-Token header.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		_ = shared.WriteJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		_ = shared.WriteJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	_ = shared.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if sess.ID != "" {
			if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
				h.logger.Warn("remove session", slog.Any("error", err))
			}
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	auth, ok := h.guard.ProtectPage(w, r, "", "", "")
	if !ok {
		return
	}
	_ = shared.WriteJSON(w, http.StatusOK, userResponse{ID: auth.User.ID, Name: auth.User.Name, Email: auth.User.Email})
}
