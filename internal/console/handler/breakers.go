package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// BreakerService Описываем, что нам нужно от управляющего сервиса
type BreakerService interface {
	Snapshots() []domain.BreakerSnapshot
	ResetBreaker(ctx context.Context, service string) error
}

type BreakerHandler struct {
	service BreakerService
}

func NewBreakerHandler(service BreakerService) *BreakerHandler {
	return &BreakerHandler{service: service}
}

func (h *BreakerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshots())
}

// Reset принудительно закрывает предохранитель сервиса после ручной починки.
func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetBreaker(r.Context(), chi.URLParam(r, "service")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
