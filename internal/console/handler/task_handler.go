package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/agents"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// TaskBoard Описываем, что нам нужно от реестра задач
type TaskBoard interface {
	SubmitTask(req agents.SubmitRequest) (*domain.Task, error)
	Task(id string) (*domain.Task, error)
	Tasks(f agents.TaskFilter) []*domain.Task
	UpdateTaskProgress(taskID string, progress int, result map[string]interface{}) (bool, error)
	FailTask(taskID, reason string) error
}

type TaskHandler struct {
	board TaskBoard
}

func NewTaskHandler(board TaskBoard) *TaskHandler {
	return &TaskHandler{board: board}
}

type SubmitTaskRequest struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	TimeoutMs int64                  `json:"timeout_ms,omitempty"`
}

func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	task, err := h.board.SubmitTask(agents.SubmitRequest{
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: domain.TaskPriority(req.Priority),
		AgentID:  req.AgentID,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		writeInvalid(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// List отдаёт задачи, опционально суженные query-параметрами:
// GET /tasks?status=queued&agent_id=...&type=build
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := agents.TaskFilter{
		Status:  domain.TaskStatus(q.Get("status")),
		AgentID: q.Get("agent_id"),
		Type:    q.Get("type"),
	}
	writeJSON(w, http.StatusOK, h.board.Tasks(f))
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.board.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type ProgressRequest struct {
	Progress int                    `json:"progress"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

// Progress принимает отчёт исполнителя. В ответе applied=false означает,
// что задача сейчас не принимает прогресс (в очереди либо уже закрыта)
// и отчёт отброшен.
func (h *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	applied, err := h.board.UpdateTaskProgress(chi.URLParam(r, "id"), req.Progress, req.Result)
	if err != nil {
		writeInvalid(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

type FailRequest struct {
	Reason string `json:"reason"`
}

func (h *TaskHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.board.FailTask(chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
