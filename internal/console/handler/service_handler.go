package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// ServiceDirectory Описываем, что нам нужно от реестра сервисов
type ServiceDirectory interface {
	Register(ctx context.Context, desc domain.ServiceDescriptor) error
	Deregister(ctx context.Context, name string) error
	Status(name string) (domain.ServiceStatus, error)
	Statuses() []domain.ServiceStatus
	Topology() map[string][]string
	WaitForService(ctx context.Context, name string, timeout time.Duration) bool
	WaitForDependencies(ctx context.Context, name string, timeout time.Duration) bool
}

type ServiceHandler struct {
	directory ServiceDirectory
}

func NewServiceHandler(directory ServiceDirectory) *ServiceHandler {
	return &ServiceHandler{directory: directory}
}

// List возвращает статусы всех зарегистрированных сервисов.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.Statuses())
}

func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.directory.Status(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *ServiceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var desc domain.ServiceDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.directory.Register(r.Context(), desc); err != nil {
		writeInvalid(w, err)
		return
	}
	status, err := h.directory.Status(desc.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (h *ServiceHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Deregister(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ServiceHandler) Topology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.Topology())
}

// Wait держит запрос до готовности сервиса либо до истечения бюджета
// ожидания: GET /services/{name}/wait?timeout=5s
func (h *ServiceHandler) Wait(w http.ResponseWriter, r *http.Request) {
	ready := h.directory.WaitForService(r.Context(), chi.URLParam(r, "name"), parseTimeout(r))
	writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

func (h *ServiceHandler) WaitDependencies(w http.ResponseWriter, r *http.Request) {
	ready := h.directory.WaitForDependencies(r.Context(), chi.URLParam(r, "name"), parseTimeout(r))
	writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

// parseTimeout ограничивает бюджет ожидания минутой, чтобы клиент не мог
// занять соединение на часы.
func parseTimeout(r *http.Request) time.Duration {
	const (
		defTimeout = 10 * time.Second
		maxTimeout = time.Minute
	)
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return defTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}
