package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/agents"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/handler"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/console/service"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/planner"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/registry"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/requester"
)

// newTestServer собирает консоль поверх настоящих реестров, без Redis,
// базы и аутентификации.
func newTestServer(t *testing.T) *ConsoleServer {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics(nil)

	reg := registry.NewRegistry(nil, infra.RegistryConfig{
		ProbeInterval:      time.Minute,
		ProbeTimeout:       time.Second,
		HealthPath:         "/health",
		UnhealthyThreshold: 3,
		WaitPollInterval:   5 * time.Millisecond,
	}, m, nil, logger)

	areg := agents.NewRegistry(infra.AgentsConfig{
		SweepInterval:      time.Minute,
		EMAAlpha:           0.3,
		DefaultTaskTimeout: time.Minute,
	}, m, nil, logger)

	client := requester.NewClient(reg, infra.RequesterConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		BaseBackoff:      time.Second,
		MaxBackoff:       time.Minute,
		DefaultTimeout:   time.Second,
	}, m, nil, logger)

	ex := planner.NewExecutor(areg, nil, infra.PlannerConfig{
		StepRetries:        1,
		RetryDelay:         time.Millisecond,
		PollInterval:       2 * time.Millisecond,
		DefaultStepTimeout: time.Minute,
	}, m, nil, logger)
	t.Cleanup(ex.Stop)

	control := service.NewControl(reg, areg, ex, client, nil, nil, logger)

	return NewConsoleServer(logger, nil,
		handler.NewServiceHandler(reg),
		handler.NewAgentHandler(control),
		handler.NewTaskHandler(areg),
		handler.NewPlanHandler(ex),
		handler.NewBreakerHandler(control),
		handler.NewEventHandler(control),
		handler.NewDashboardHandler(control),
	)
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/services", map[string]interface{}{
		"name":         "auth",
		"base_url":     "http://127.0.0.1:9",
		"dependencies": []string{"billing"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var status domain.ServiceStatus
	decode(t, w, &status)
	assert.Equal(t, "auth", status.Name)
	assert.Equal(t, domain.ServiceUnknown, status.State)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.ServiceStatus
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services/auth", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services/topology", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var topo map[string][]string
	decode(t, w, &topo)
	assert.Equal(t, []string{"billing"}, topo["auth"])

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/services/auth", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services/auth", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServiceRegistrationRejectsBadURL(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/services", map[string]interface{}{
		"name":     "auth",
		"base_url": "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// Без пробera сервис остаётся unknown, поэтому короткое ожидание честно
// отвечает ready=false, а не ошибкой.
func TestServiceWaitReportsNotReady(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/services", map[string]interface{}{
		"name":     "auth",
		"base_url": "http://127.0.0.1:9",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/services/auth/wait?timeout=20ms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]bool
	decode(t, w, &resp)
	assert.False(t, resp["ready"])
}

func TestAgentEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"name":         "builder-1",
		"type":         "builder",
		"capabilities": []string{"build", "design"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var agent domain.Agent
	decode(t, w, &agent)
	require.NotEmpty(t, agent.ID)
	assert.Equal(t, domain.AgentIdle, agent.Status)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents/"+agent.ID+"/pause", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Повторная пауза из maintenance невалидна
	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents/"+agent.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents/"+agent.ID+"/resume", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents/"+agent.ID+"/restart", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &agent)
	assert.Equal(t, domain.AgentIdle, agent.Status)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents/ghost/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var agentList []domain.Agent
	decode(t, w, &agentList)
	assert.Empty(t, agentList)
}

func TestAgentRegistrationValidation(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"type": "builder",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/agents", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"name":         "builder-1",
		"type":         "builder",
		"capabilities": []string{"build"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"type":     "build",
		"priority": "high",
		"payload":  map[string]interface{}{"repo": "orchcore"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var task domain.Task
	decode(t, w, &task)
	require.NotEmpty(t, task.ID)
	assert.Equal(t, domain.TaskAssigned, task.Status)
	require.NotEmpty(t, task.AgentID)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID+"/progress", map[string]interface{}{
		"progress": 40,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var applied map[string]bool
	decode(t, w, &applied)
	assert.True(t, applied["applied"])

	// Откат прогресса это конфликт
	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID+"/progress", map[string]interface{}{
		"progress": 10,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID+"/progress", map[string]interface{}{
		"progress": 100,
		"result":   map[string]interface{}{"artifact": "build.tar"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &task)
	assert.Equal(t, domain.TaskCompleted, task.Status)

	// Отчёт по закрытой задаче тихо отбрасывается
	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID+"/progress", map[string]interface{}{"progress": 100})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &applied)
	assert.False(t, applied["applied"])

	w = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID+"/fail", map[string]interface{}{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/tasks?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []domain.Task
	decode(t, w, &tasks)
	assert.Len(t, tasks, 1)
}

func TestTaskSubmitToUnknownAgent(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"type":     "build",
		"agent_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlanEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/plans", map[string]interface{}{
		"goal":    "Build a todo app",
		"context": map[string]interface{}{"repo": "orchcore"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var plan domain.Plan
	decode(t, w, &plan)
	require.NotEmpty(t, plan.ID)
	assert.Equal(t, domain.PlanDraft, plan.Status)
	require.NotEmpty(t, plan.Steps)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/plans/"+plan.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/plans/"+plan.ID+"/execute", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// План уже запущен, повторный запуск конфликтует
	w = doJSON(t, srv, http.MethodPost, "/api/v1/plans/"+plan.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/plans/ghost/execute", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/plans", map[string]interface{}{"goal": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snaps []domain.BreakerSnapshot
	decode(t, w, &snaps)
	assert.Empty(t, snaps)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/breakers/ghost/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"name": "builder-1",
		"type": "builder",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.OrchestratorStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Agents[domain.AgentIdle])
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestEventsEndpointWithoutStore(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/events?kind=task_completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = doJSON(t, srv, http.MethodGet, "/api/v1/events?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
