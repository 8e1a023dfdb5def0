package handler

import (
	"net/http"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// StatsService Описываем, что нам нужно от управляющего сервиса
type StatsService interface {
	Stats() domain.OrchestratorStats
}

type DashboardHandler struct {
	service StatsService
}

func NewDashboardHandler(service StatsService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// GetStats — сводка по всему оркестратору для главного экрана консоли.
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}
