package agents

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
)

// SubmitRequest — параметры постановки задачи.
type SubmitRequest struct {
	AgentID  string // Необязательный: закрепить задачу за конкретным агентом
	Type     string // Тег требуемой возможности
	Payload  map[string]interface{}
	Priority domain.TaskPriority
	Timeout  time.Duration // 0 — дефолт из конфигурации
}

// TaskFilter — параметры выборки задач для консоли.
type TaskFilter struct {
	Status  domain.TaskStatus
	AgentID string
	Type    string
}

// SubmitTask ставит задачу. Именованному агенту — назначение либо личная
// очередь; без имени — выбор исполнителя по тегу возможности. Отсутствие
// свободного агента ошибкой не является: задача ждёт в очереди.
func (r *Registry) SubmitTask(req SubmitRequest) (*domain.Task, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("agents: task type is required")
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(req.Priority) {
		return nil, fmt.Errorf("agents: unknown priority %q", req.Priority)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTaskTimeout
	}

	r.mu.Lock()
	now := r.now()
	t := &domain.Task{
		ID:               uuid.NewString(),
		Type:             req.Type,
		Payload:          cloneDetail(req.Payload),
		Priority:         req.Priority,
		Status:           domain.TaskQueued,
		RequestedAgentID: req.AgentID,
		SubmittedAt:      now,
		// Часы таймаута идут с момента постановки: ожидание в очереди
		// тоже расходует бюджет задачи
		TimeoutAt: now.Add(timeout),
	}

	if req.AgentID != "" {
		a, ok := r.agents[req.AgentID]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("agents: submit to %q: %w", req.AgentID, domain.ErrAgentNotFound)
		}
		if a.Status == domain.AgentMaintenance || a.Status == domain.AgentFailed {
			r.mu.Unlock()
			return nil, fmt.Errorf("agents: submit to %q in %s: %w", req.AgentID, a.Status, domain.ErrAgentUnavailable)
		}
		r.tasks[t.ID] = t
		if a.Status == domain.AgentIdle {
			r.assign(t, a)
		} else {
			// Агент занят: задача ждёт именно его
			r.queue.push(t)
			r.metrics.TaskQueueDepth.Set(float64(r.queue.len()))
		}
	} else {
		r.tasks[t.ID] = t
		if a := r.pickAgent(req.Type); a != nil {
			r.assign(t, a)
		} else {
			r.queue.push(t)
			r.metrics.TaskQueueDepth.Set(float64(r.queue.len()))
		}
	}
	out := copyTask(t)
	r.mu.Unlock()

	r.logger.Info("task submitted",
		zap.String("task_id", out.ID),
		zap.String("type", out.Type),
		zap.String("priority", string(out.Priority)),
		zap.String("status", string(out.Status)),
		zap.String("agent_id", out.AgentID),
	)
	r.trail.Record(events.Event{
		Kind:   events.KindTaskSubmitted,
		TaskID: out.ID,
		Detail: map[string]interface{}{"type": out.Type, "priority": string(out.Priority)},
	})
	if out.Status == domain.TaskAssigned {
		r.recordAssigned(out)
	}
	return out, nil
}

// UpdateTaskProgress принимает отчёт агента о ходе задачи. Возвращает
// false без ошибки, если отчёт пришёл к терминальной или ещё не назначенной
// задаче: поздние и повторные отчёты отбрасываются молча, это и есть
// защита от результата, прилетевшего после таймаута.
func (r *Registry) UpdateTaskProgress(taskID string, progress int, result map[string]interface{}) (bool, error) {
	if progress < 0 || progress > 100 {
		return false, fmt.Errorf("agents: progress %d is out of range 0..100", progress)
	}

	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("agents: progress for %q: %w", taskID, domain.ErrTaskNotFound)
	}
	if t.Status != domain.TaskAssigned && t.Status != domain.TaskInProgress {
		r.mu.Unlock()
		return false, nil
	}
	if progress < t.Progress {
		cur := t.Progress
		r.mu.Unlock()
		return false, fmt.Errorf("agents: progress rollback %d -> %d for %q: %w", cur, progress, taskID, domain.ErrInvalidTransition)
	}

	if t.Status == domain.TaskAssigned && progress > 0 {
		if err := r.applyTaskTransition(t, domain.TaskInProgress); err != nil {
			r.mu.Unlock()
			return false, fmt.Errorf("agents: progress for %q: %w", taskID, err)
		}
	}
	t.Progress = progress

	// Завершает задачу только пара «прогресс 100 + результат»:
	// сотка без результата оставляет задачу in_progress
	completed := progress == 100 && result != nil
	var done, assigned *domain.Task
	if completed {
		t.Result = cloneDetail(result)
		if a := r.finishTask(t, domain.TaskCompleted, ""); a != nil {
			_ = r.applyAgentTransition(a, domain.AgentIdle)
			assigned = r.assignNext(a)
		}
		done = copyTask(t)
	}
	r.mu.Unlock()

	if completed {
		r.logger.Info("task completed",
			zap.String("task_id", done.ID),
			zap.String("agent_id", done.AgentID),
			zap.String("type", done.Type),
		)
		r.trail.Record(events.Event{
			Kind:    events.KindTaskCompleted,
			AgentID: done.AgentID,
			TaskID:  done.ID,
		})
		r.recordAssigned(assigned)
	}
	return true, nil
}

// FailTask — отчёт агента о провале. Задача закрывается, агент уходит в
// failed до рестарта оператором; реестр сам ничего не перезапускает,
// повтор — забота вызывающего с новым ID задачи.
func (r *Registry) FailTask(taskID, reason string) error {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: fail %q: %w", taskID, domain.ErrTaskNotFound)
	}
	if t.Status != domain.TaskAssigned && t.Status != domain.TaskInProgress {
		status := t.Status
		r.mu.Unlock()
		return fmt.Errorf("agents: fail %q in %s: %w", taskID, status, domain.ErrInvalidTransition)
	}
	a := r.finishTask(t, domain.TaskFailed, reason)
	if a != nil {
		// working -> failed; очередь не разбираем, агент мощность не вернул
		_ = r.applyAgentTransition(a, domain.AgentFailed)
	}
	out := copyTask(t)
	r.mu.Unlock()

	r.logger.Warn("task failed",
		zap.String("task_id", out.ID),
		zap.String("agent_id", out.AgentID),
		zap.String("reason", reason),
	)
	r.trail.Record(events.Event{
		Kind:    events.KindTaskFailed,
		AgentID: out.AgentID,
		TaskID:  out.ID,
		Detail:  map[string]interface{}{"reason": reason},
	})
	return nil
}

// Task возвращает копию записи задачи.
func (r *Registry) Task(id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("agents: task %q: %w", id, domain.ErrTaskNotFound)
	}
	return copyTask(t), nil
}

// Tasks — копии задач под фильтром, свежие первыми.
func (r *Registry) Tasks(f TaskFilter) []*domain.Task {
	r.mu.RLock()
	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, copyTask(t))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats — срезы по статусам для дашборда.
func (r *Registry) Stats() (agents map[domain.AgentStatus]int, tasks map[domain.TaskStatus]int, queueDepth int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents = make(map[domain.AgentStatus]int)
	for _, a := range r.agents {
		agents[a.Status]++
	}
	tasks = make(map[domain.TaskStatus]int)
	for _, t := range r.tasks {
		tasks[t.Status]++
	}
	return agents, tasks, r.queue.len()
}

// applyTaskTransition — единственная точка смены статуса задачи.
// Проставляет временные метки перехода. Вызывается под мьютексом.
func (r *Registry) applyTaskTransition(t *domain.Task, to domain.TaskStatus) error {
	if !domain.CanTaskTransition(t.Status, to) {
		return fmt.Errorf("%s -> %s: %w", t.Status, to, domain.ErrInvalidTransition)
	}
	now := r.now()
	switch to {
	case domain.TaskAssigned:
		t.AssignedAt = now
	case domain.TaskInProgress:
		t.StartedAt = now
	case domain.TaskCompleted, domain.TaskFailed, domain.TaskTimedOut:
		t.FinishedAt = now
	}
	t.Status = to
	return nil
}

// assign связывает свежую задачу со свободным агентом. Оба перехода
// валидны по построению: задача приходит из queued, агент — из idle.
// Вызывается под мьютексом.
func (r *Registry) assign(t *domain.Task, a *domain.Agent) {
	_ = r.applyTaskTransition(t, domain.TaskAssigned)
	t.AgentID = a.ID
	a.Status = domain.AgentWorking
	a.CurrentTaskID = t.ID
	a.LastActiveAt = r.now()
	r.updateAgentGauges()
	r.metrics.TaskQueueDepth.Set(float64(r.queue.len()))
}

// assignNext отдаёт свободному агенту лучшую задачу из его части очереди.
// Вызывается под мьютексом; возвращает копию назначенной задачи для
// журнала или nil, если подходящей работы нет.
func (r *Registry) assignNext(a *domain.Agent) *domain.Task {
	if a.Status != domain.AgentIdle {
		return nil
	}
	t := r.queue.popBestFor(a)
	if t == nil {
		return nil
	}
	r.assign(t, a)
	return copyTask(t)
}

// finishTask — единственная точка перевода задачи в терминальный статус.
// Вызывается под мьютексом только для нетерминальных задач. Возвращает
// агента, чья задача закрылась: его дальнейший статус и разбор очереди —
// забота вызвавшей операции.
func (r *Registry) finishTask(t *domain.Task, to domain.TaskStatus, reason string) *domain.Agent {
	wasQueued := t.Status == domain.TaskQueued
	if err := r.applyTaskTransition(t, to); err != nil {
		return nil
	}
	if reason != "" {
		t.FailureReason = reason
	}
	if wasQueued {
		r.queue.remove(t.ID)
		r.metrics.TaskQueueDepth.Set(float64(r.queue.len()))
	}
	r.metrics.TasksTotal.WithLabelValues(t.Type, string(to)).Inc()

	a, ok := r.agents[t.AgentID]
	if !ok || a.CurrentTaskID != t.ID {
		return nil
	}
	r.updatePerformance(a, t, to == domain.TaskCompleted)
	a.CurrentTaskID = ""
	return a
}

// updatePerformance двигает скользящие метрики агента по терминальному
// исходу назначенной задачи. Первая выборка сажает среднее напрямую, иначе
// стартовый ноль размывал бы реальные значения. Среднюю длительность
// обновляют только успехи: длительность провала ничего не говорит о
// скорости агента. Вызывается под мьютексом.
func (r *Registry) updatePerformance(a *domain.Agent, t *domain.Task, success bool) {
	alpha := r.cfg.EMAAlpha
	perf := &a.Performance

	sample := 0.0
	if success {
		sample = 1.0
	}
	if perf.TotalTasks == 0 {
		perf.SuccessRate = sample
	} else {
		perf.SuccessRate = (1-alpha)*perf.SuccessRate + alpha*sample
	}

	if success {
		perf.CompletedTasks++
		durMs := float64(t.FinishedAt.Sub(t.AssignedAt).Milliseconds())
		if perf.CompletedTasks == 1 {
			perf.AvgDurationMs = durMs
		} else {
			perf.AvgDurationMs = (1-alpha)*perf.AvgDurationMs + alpha*durMs
		}
	} else {
		perf.FailedTasks++
	}
	perf.TotalTasks++
}

// pickAgent выбирает исполнителя незакреплённой задачи: среди idle агентов
// с нужным тегом — наименее загруженный за время жизни, при равенстве —
// с меньшей личной очередью, затем с большим success rate.
func (r *Registry) pickAgent(taskType string) *domain.Agent {
	var best *domain.Agent
	var bestPinned int
	for _, a := range r.agents {
		if a.Status != domain.AgentIdle || !a.HasCapability(taskType) {
			continue
		}
		pinned := r.queue.pinnedCount(a.ID)
		if best == nil || betterCandidate(a, pinned, best, bestPinned) {
			best, bestPinned = a, pinned
		}
	}
	return best
}

// betterCandidate сообщает, что a строго предпочтительнее b.
// Последняя ступень сравнения — ID: порядок обхода map случаен,
// а выбор должен быть детерминированным.
func betterCandidate(a *domain.Agent, aPinned int, b *domain.Agent, bPinned int) bool {
	if a.Performance.TotalTasks != b.Performance.TotalTasks {
		return a.Performance.TotalTasks < b.Performance.TotalTasks
	}
	if aPinned != bPinned {
		return aPinned < bPinned
	}
	if a.Performance.SuccessRate != b.Performance.SuccessRate {
		return a.Performance.SuccessRate > b.Performance.SuccessRate
	}
	return a.ID < b.ID
}

// recordAssigned фиксирует состоявшееся назначение в логе и журнале.
func (r *Registry) recordAssigned(t *domain.Task) {
	if t == nil {
		return
	}
	r.logger.Info("task assigned",
		zap.String("task_id", t.ID),
		zap.String("agent_id", t.AgentID),
		zap.String("type", t.Type),
	)
	r.trail.Record(events.Event{
		Kind:    events.KindTaskAssigned,
		AgentID: t.AgentID,
		TaskID:  t.ID,
		Detail:  map[string]interface{}{"type": t.Type, "priority": string(t.Priority)},
	})
}
