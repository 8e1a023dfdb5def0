package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// AgentService Описываем, что нам нужно от управляющего сервиса
type AgentService interface {
	RegisterAgent(name, agentType string, capabilities []string) (*domain.Agent, error)
	DeregisterAgent(id string) error
	PauseAgent(ctx context.Context, id string) error
	ResumeAgent(ctx context.Context, id string) error
	RestartAgent(ctx context.Context, id string) error
	Agent(id string) (*domain.Agent, error)
	Agents() []*domain.Agent
}

type AgentHandler struct {
	service AgentService
}

func NewAgentHandler(service AgentService) *AgentHandler {
	return &AgentHandler{service: service}
}

type RegisterAgentRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	agent, err := h.service.RegisterAgent(req.Name, req.Type, req.Capabilities)
	if err != nil {
		writeInvalid(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Agents())
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.service.Agent(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeregisterAgent(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause переводит агента на обслуживание. Сервис сам применяет переход
// локально и рассылает сигнал остальным экземплярам.
func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PauseAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResumeAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RestartAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
