package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/planner"
)

// PlanService Описываем, что нам нужно от исполнителя планов
type PlanService interface {
	CreatePlan(ctx context.Context, goal string, planContext, constraints map[string]interface{}, opts planner.CreateOptions) (*domain.Plan, error)
	ExecutePlan(planID string) error
	Plan(id string) (*domain.Plan, error)
	Plans() []*domain.Plan
}

type PlanHandler struct {
	service PlanService
}

func NewPlanHandler(service PlanService) *PlanHandler {
	return &PlanHandler{service: service}
}

type CreatePlanRequest struct {
	Goal                string                 `json:"goal"`
	Context             map[string]interface{} `json:"context,omitempty"`
	Constraints         map[string]interface{} `json:"constraints,omitempty"`
	FallbackGoal        string                 `json:"fallback_goal,omitempty"`
	FallbackConstraints map[string]interface{} `json:"fallback_constraints,omitempty"`
}

func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	plan, err := h.service.CreatePlan(r.Context(), req.Goal, req.Context, req.Constraints, planner.CreateOptions{
		FallbackGoal:        req.FallbackGoal,
		FallbackConstraints: req.FallbackConstraints,
	})
	if err != nil {
		writeInvalid(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Plans())
}

func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Plan(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Execute запускает план в фоне, поэтому отвечаем 202: за ходом выполнения
// клиент следит через GET /plans/{id}.
func (h *PlanHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ExecutePlan(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
