package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cantoria/cantoria/internal/guard"
	"github.com/cantoria/cantoria/internal/shared"
)

// Handler exposes the audit timeline to administrators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   *guard.Guard
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, g *guard.Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: g}
}

// MountRoutes attaches audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequirePermission(shared.PermAuditView)).Get("/", h.timeline)
}

type timelineRow struct {
	At        time.Time       `json:"at"`
	ActorID   int64           `json:"actor_id"`
	ActorName string          `json:"actor_name"`
	IP        string          `json:"ip"`
	UserAgent string          `json:"user_agent"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
}

type timelineResponse struct {
	Rows   []timelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters := TimelineFilters{
		Actor:  r.URL.Query().Get("actor"),
		Entity: r.URL.Query().Get("entity"),
		Action: r.URL.Query().Get("action"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = t
		}
	}
	if v := r.URL.Query().Get("page"); v != "" {
		filters.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		filters.PageSize, _ = strconv.Atoi(v)
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		_ = shared.WriteJSONError(w, http.StatusInternalServerError, "failed to load audit timeline")
		return
	}

	rows := make([]timelineRow, 0, len(result.Rows))
	for _, e := range result.Rows {
		rows = append(rows, timelineRow{
			At:        e.At,
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Action:    e.Action,
			Entity:    e.Entity,
			EntityID:  e.EntityID,
			OldValues: e.OldValues,
			NewValues: e.NewValues,
		})
	}
	_ = shared.WriteJSON(w, http.StatusOK, timelineResponse{Rows: rows, Paging: result.Paging})
}
