package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
)

// EventSource Описываем, что нам нужно от журнала событий
type EventSource interface {
	Events(ctx context.Context, f events.Filter) ([]events.Event, error)
}

type EventHandler struct {
	source EventSource
}

func NewEventHandler(source EventSource) *EventHandler {
	return &EventHandler{source: source}
}

// GetEvents отдаёт журнал, суженный query-параметрами:
// GET /events?kind=task_completed&agent_id=...&limit=50
func (h *EventHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := events.Filter{
		Kind:    q.Get("kind"),
		Service: q.Get("service"),
		AgentID: q.Get("agent_id"),
		TaskID:  q.Get("task_id"),
		PlanID:  q.Get("plan_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}
	list, err := h.source.Events(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
