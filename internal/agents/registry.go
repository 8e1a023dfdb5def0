package agents

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

// Registry — реестр агентов и задач. Единственный писатель записей Agent
// и Task; наружу уходят только копии. Смена статусов идёт через переходные
// функции applyAgentTransition/applyTaskTransition, побочные эффекты
// (освобождение агента, разбор очереди) исполняет вызвавшая операция.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.Agent
	tasks  map[string]*domain.Task
	queue  taskQueue

	cfg     infra.AgentsConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	trail   events.Recorder
	now     func() time.Time
}

func NewRegistry(cfg infra.AgentsConfig, m *metrics.Metrics, trail events.Recorder, logger *zap.Logger) *Registry {
	if trail == nil {
		trail = events.NopRecorder{}
	}
	// Нулевые значения конфигурации заменяем рабочими дефолтами
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = 0.2
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = 5 * time.Minute
	}
	return &Registry{
		agents:  make(map[string]*domain.Agent),
		tasks:   make(map[string]*domain.Task),
		cfg:     cfg,
		logger:  logger.Named("agents"),
		metrics: m,
		trail:   trail,
		now:     time.Now,
	}
}

// RegisterAgent заводит нового агента в статусе idle. Новый агент — это
// свободная мощность, поэтому сразу пробуем отдать ему задачу из очереди.
func (r *Registry) RegisterAgent(name, agentType string, capabilities []string) (*domain.Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agents: agent name is required")
	}
	if agentType == "" {
		return nil, fmt.Errorf("agents: agent type is required")
	}

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	r.mu.Lock()
	now := r.now()
	a := &domain.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         agentType,
		Capabilities: caps,
		Status:       domain.AgentIdle,
		RegisteredAt: now,
		LastActiveAt: now,
	}
	r.agents[a.ID] = a
	assigned := r.assignNext(a)
	r.updateAgentGauges()
	out := copyAgent(a)
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.String("name", name),
		zap.String("type", agentType),
		zap.Strings("capabilities", caps),
	)
	r.trail.Record(events.Event{
		Kind:    events.KindAgentRegistered,
		AgentID: a.ID,
		Detail:  map[string]interface{}{"name": name, "type": agentType},
	})
	r.recordAssigned(assigned)
	return out, nil
}

// DeregisterAgent снимает агента с учёта в любом статусе. Незавершённая
// задача и закреплённые за агентом задачи из очереди проваливаются:
// исполнять их больше некому.
func (r *Registry) DeregisterAgent(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: deregister %q: %w", id, domain.ErrAgentNotFound)
	}

	var failed []*domain.Task
	if t, ok := r.tasks[a.CurrentTaskID]; ok && !t.Status.Terminal() {
		failed = append(failed, t)
	}
	failed = append(failed, r.queue.extractPinned(id)...)
	for _, t := range failed {
		r.finishTask(t, domain.TaskFailed, "agent deregistered")
	}
	delete(r.agents, id)
	r.updateAgentGauges()
	r.metrics.TaskQueueDepth.Set(float64(r.queue.len()))
	r.mu.Unlock()

	r.logger.Info("agent deregistered", zap.String("agent_id", id), zap.Int("failed_tasks", len(failed)))
	r.trail.Record(events.Event{Kind: events.KindAgentDeregistered, AgentID: id})
	for _, t := range failed {
		r.trail.Record(events.Event{
			Kind:    events.KindTaskFailed,
			AgentID: id,
			TaskID:  t.ID,
			Detail:  map[string]interface{}{"reason": t.FailureReason},
		})
	}
	return nil
}

// PauseAgent переводит агента на обслуживание. Из working пауза запрещена:
// сначала задача должна завершиться или быть провалена.
func (r *Registry) PauseAgent(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: pause %q: %w", id, domain.ErrAgentNotFound)
	}
	if err := r.applyAgentTransition(a, domain.AgentMaintenance); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("agents: pause %q: %w", id, err)
	}
	r.mu.Unlock()

	r.logger.Info("agent paused", zap.String("agent_id", id))
	r.trail.Record(events.Event{Kind: events.KindAgentPaused, AgentID: id})
	return nil
}

// ResumeAgent возвращает агента с обслуживания и сразу пробует занять его
// задачей из очереди.
func (r *Registry) ResumeAgent(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: resume %q: %w", id, domain.ErrAgentNotFound)
	}
	if a.Status != domain.AgentMaintenance {
		r.mu.Unlock()
		return fmt.Errorf("agents: resume %q from %s: %w", id, a.Status, domain.ErrInvalidTransition)
	}
	if err := r.applyAgentTransition(a, domain.AgentIdle); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("agents: resume %q: %w", id, err)
	}
	assigned := r.assignNext(a)
	r.mu.Unlock()

	r.logger.Info("agent resumed", zap.String("agent_id", id))
	r.trail.Record(events.Event{Kind: events.KindAgentResumed, AgentID: id})
	r.recordAssigned(assigned)
	return nil
}

// RestartAgent принудительно возвращает агента в idle из failed или
// maintenance. Зависшая задача, на которую агент ещё ссылается,
// проваливается с причиной "agent restarted".
func (r *Registry) RestartAgent(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agents: restart %q: %w", id, domain.ErrAgentNotFound)
	}

	var stuck *domain.Task
	if t, ok := r.tasks[a.CurrentTaskID]; ok && !t.Status.Terminal() {
		stuck = t
		r.finishTask(t, domain.TaskFailed, "agent restarted")
	}
	a.CurrentTaskID = ""
	a.Status = domain.AgentIdle // Рестарт обходит таблицу переходов намеренно
	a.LastActiveAt = r.now()
	assigned := r.assignNext(a)
	r.updateAgentGauges()
	r.mu.Unlock()

	r.logger.Info("agent restarted", zap.String("agent_id", id), zap.Bool("had_stuck_task", stuck != nil))
	r.trail.Record(events.Event{Kind: events.KindAgentRestarted, AgentID: id})
	if stuck != nil {
		r.trail.Record(events.Event{
			Kind:    events.KindTaskFailed,
			AgentID: id,
			TaskID:  stuck.ID,
			Detail:  map[string]interface{}{"reason": stuck.FailureReason},
		})
	}
	r.recordAssigned(assigned)
	return nil
}

// Agent возвращает копию записи агента.
func (r *Registry) Agent(id string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agents: agent %q: %w", id, domain.ErrAgentNotFound)
	}
	return copyAgent(a), nil
}

// Agents — копии всех агентов, отсортированные по имени.
func (r *Registry) Agents() []*domain.Agent {
	r.mu.RLock()
	out := make([]*domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, copyAgent(a))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// applyAgentTransition — единственная точка смены статуса агента.
// Вызывается под мьютексом.
func (r *Registry) applyAgentTransition(a *domain.Agent, to domain.AgentStatus) error {
	if !domain.CanAgentTransition(a.Status, to) {
		return fmt.Errorf("%s -> %s: %w", a.Status, to, domain.ErrInvalidTransition)
	}
	a.Status = to
	a.LastActiveAt = r.now()
	r.updateAgentGauges()
	return nil
}

// updateAgentGauges пересчитывает распределение агентов по статусам.
// Вызывается под мьютексом.
func (r *Registry) updateAgentGauges() {
	counts := make(map[domain.AgentStatus]int, 4)
	for _, a := range r.agents {
		counts[a.Status]++
	}
	for _, s := range []domain.AgentStatus{domain.AgentIdle, domain.AgentWorking, domain.AgentFailed, domain.AgentMaintenance} {
		r.metrics.AgentsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func copyAgent(a *domain.Agent) *domain.Agent {
	out := *a
	out.Capabilities = make([]string, len(a.Capabilities))
	copy(out.Capabilities, a.Capabilities)
	return &out
}

func copyTask(t *domain.Task) *domain.Task {
	out := *t
	out.Payload = cloneDetail(t.Payload)
	out.Result = cloneDetail(t.Result)
	return &out
}

func cloneDetail(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
