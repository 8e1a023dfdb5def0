package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/agents"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

// TaskService — интерфейс реестра задач, который потребляет исполнитель.
// Каждая попытка шага превращается в отдельную задачу; исполнитель только
// ставит задачи и опрашивает их статус, повторные постановки — его забота.
type TaskService interface {
	SubmitTask(req agents.SubmitRequest) (*domain.Task, error)
	Task(id string) (*domain.Task, error)
}

// Strategy — подключаемая декомпозиция цели в шаги. Реализация заполняет
// Type, Description, Estimate и Payload шагов; идентификаторы, индексы и
// статусы проставляет исполнитель. Второе возвращаемое значение — оценка
// уверенности декомпозиции в диапазоне 0..1, на исполнение она не влияет.
type Strategy interface {
	Decompose(ctx context.Context, goal string, planContext, constraints map[string]interface{}) ([]domain.PlanStep, float64, error)
}

// CreateOptions — необязательные параметры создания плана.
type CreateOptions struct {
	// FallbackGoal задаёт запасной план: он декомпозируется сразу и
	// запускается, если основной план провалил какой-либо шаг
	FallbackGoal        string
	FallbackConstraints map[string]interface{}

	// Strategy переопределяет декомпозицию для одного плана
	Strategy Strategy
}

var errStopped = errors.New("planner: executor stopped")

// Executor хранит планы и исполняет их шаги строго последовательно.
// Единственный писатель записей Plan, наружу уходят только копии.
type Executor struct {
	mu      sync.RWMutex
	plans   map[string]*domain.Plan
	stopped bool

	tasks    TaskService
	strategy Strategy
	cfg      infra.PlannerConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	trail    events.Recorder
	now      func() time.Time

	// Жизненный цикл фоновых прогонов: Stop гасит runCtx и ждёт wg
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(tasks TaskService, strategy Strategy, cfg infra.PlannerConfig, m *metrics.Metrics, trail events.Recorder, logger *zap.Logger) *Executor {
	if trail == nil {
		trail = events.NopRecorder{}
	}
	if strategy == nil {
		strategy = NewHeuristicStrategy()
	}
	// Нулевые значения конфигурации заменяем рабочими дефолтами
	if cfg.StepRetries <= 0 {
		cfg.StepRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = 5 * time.Minute
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Executor{
		plans:    make(map[string]*domain.Plan),
		tasks:    tasks,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger.Named("planner"),
		metrics:  m,
		trail:    trail,
		now:      time.Now,
		runCtx:   runCtx,
		cancel:   cancel,
	}
}

// CreatePlan декомпозирует цель в план со статусом draft. Исполнение не
// запускается, для этого есть ExecutePlan. Если задан FallbackGoal, запасной
// план декомпозируется той же стратегией и сохраняется тоже как draft.
func (e *Executor) CreatePlan(ctx context.Context, goal string, planContext, constraints map[string]interface{}, opts CreateOptions) (*domain.Plan, error) {
	if goal == "" {
		return nil, fmt.Errorf("planner: goal is required")
	}
	strategy := e.strategy
	if opts.Strategy != nil {
		strategy = opts.Strategy
	}

	plan, err := e.decomposePlan(ctx, strategy, goal, planContext, constraints)
	if err != nil {
		return nil, err
	}

	var fallback *domain.Plan
	if opts.FallbackGoal != "" {
		fallback, err = e.decomposePlan(ctx, strategy, opts.FallbackGoal, planContext, opts.FallbackConstraints)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		plan.FallbackPlanID = fallback.ID
	}

	e.mu.Lock()
	e.plans[plan.ID] = plan
	if fallback != nil {
		e.plans[fallback.ID] = fallback
	}
	snapshot := copyPlan(plan)
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("plan_id", plan.ID),
		zap.String("goal", plan.Goal),
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("confidence", plan.Confidence),
	}
	if fallback != nil {
		fields = append(fields, zap.String("fallback_plan_id", fallback.ID))
	}
	e.logger.Info("plan created", fields...)

	e.trail.Record(events.Event{Kind: events.KindPlanCreated, PlanID: plan.ID, Detail: map[string]interface{}{
		"goal":       plan.Goal,
		"steps":      len(plan.Steps),
		"confidence": plan.Confidence,
	}})
	if fallback != nil {
		e.trail.Record(events.Event{Kind: events.KindPlanCreated, PlanID: fallback.ID, Detail: map[string]interface{}{
			"goal":         fallback.Goal,
			"steps":        len(fallback.Steps),
			"confidence":   fallback.Confidence,
			"fallback_for": plan.ID,
		}})
	}
	return snapshot, nil
}

func (e *Executor) decomposePlan(ctx context.Context, strategy Strategy, goal string, planContext, constraints map[string]interface{}) (*domain.Plan, error) {
	steps, confidence, err := strategy.Decompose(ctx, goal, planContext, constraints)
	if err != nil {
		return nil, fmt.Errorf("planner: decompose %q: %w", goal, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner: decomposition produced no steps for %q", goal)
	}
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].Index = i
		steps[i].Status = domain.StepPending
		steps[i].TaskIDs = nil
		steps[i].Attempts = 0
		steps[i].Error = ""
	}
	return &domain.Plan{
		ID:         uuid.NewString(),
		Goal:       goal,
		Context:    cloneDetail(planContext),
		Status:     domain.PlanDraft,
		Steps:      steps,
		Confidence: confidence,
		CreatedAt:  e.now(),
	}, nil
}

// ExecutePlan запускает исполнение плана в фоне и сразу возвращает
// управление. Повторный запуск того же плана отклоняется конечным автоматом.
func (e *Executor) ExecutePlan(planID string) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errStopped
	}
	p, ok := e.plans[planID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("planner: execute %q: %w", planID, domain.ErrPlanNotFound)
	}
	if !domain.CanPlanTransition(p.Status, domain.PlanRunning) {
		e.mu.Unlock()
		return fmt.Errorf("planner: execute %q in %s: %w", planID, p.Status, domain.ErrInvalidTransition)
	}
	p.Status = domain.PlanRunning
	p.StartedAt = e.now()
	goal := p.Goal
	// Add под тем же замком, что и флаг stopped, иначе гонка со Stop
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("plan started", zap.String("plan_id", planID), zap.String("goal", goal))
	e.trail.Record(events.Event{Kind: events.KindPlanStarted, PlanID: planID})

	go e.runPlan(planID)
	return nil
}

// Stop останавливает исполнитель и дожидается фоновых прогонов. Планы,
// не успевшие завершиться, помечаются failed с причиной "shutdown".
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.logger.Info("plan executor stopped")
}

// runPlan прогоняет шаги плана и при провале переключается на запасной
// план, если тот задан. Глубина переключения ровно один: запасной план
// запасного не запускается.
func (e *Executor) runPlan(planID string) {
	defer e.wg.Done()

	id := planID
	for hop := 0; ; hop++ {
		err := e.runSteps(id)
		if err == nil {
			e.finishPlan(id, domain.PlanCompleted, "", false)
			return
		}
		if errors.Is(err, errStopped) {
			e.finishPlan(id, domain.PlanFailed, "shutdown", false)
			return
		}
		var next string
		if hop == 0 {
			next = e.claimFallback(id)
		}
		if next == "" {
			// Без запасного плана оставшиеся шаги остаются pending
			e.finishPlan(id, domain.PlanFailed, err.Error(), false)
			return
		}
		e.finishPlan(id, domain.PlanFailed, err.Error()+"; switched to fallback", true)
		e.logger.Info("fallback plan started", zap.String("plan_id", next), zap.String("switched_from", id))
		e.trail.Record(events.Event{Kind: events.KindPlanStarted, PlanID: next, Detail: map[string]interface{}{
			"switched_from": id,
		}})
		id = next
	}
}

func (e *Executor) runSteps(planID string) error {
	e.mu.RLock()
	total := len(e.plans[planID].Steps)
	e.mu.RUnlock()

	for i := 0; i < total; i++ {
		if err := e.runStep(planID, i); err != nil {
			return err
		}
	}
	return nil
}

// runStep исполняет один шаг: ставит задачу, дожидается её терминального
// статуса и при неудаче повторяет с новой задачей, пока не исчерпает
// попытки. Статус шага после исчерпания повторяет исход последней попытки.
func (e *Executor) runStep(planID string, idx int) error {
	e.mu.Lock()
	p := e.plans[planID]
	step := &p.Steps[idx]
	step.Status = domain.StepRunning
	p.CurrentStep = idx
	stepType, desc := step.Type, step.Description
	timeout := step.Estimate
	if timeout < e.cfg.DefaultStepTimeout {
		timeout = e.cfg.DefaultStepTimeout
	}
	total := len(p.Steps)
	e.mu.Unlock()

	e.logger.Info("plan step started",
		zap.String("plan_id", planID),
		zap.Int("step", idx+1),
		zap.Int("of", total),
		zap.String("type", stepType),
	)

	var lastStatus domain.TaskStatus
	var lastReason string

	r := retry.New(
		retry.Context(e.runCtx),
		retry.Attempts(uint(e.cfg.StepRetries)),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return e.cfg.RetryDelay
		}),
	)
	attemptErr := r.Do(func() error {
		task, err := e.tasks.SubmitTask(agents.SubmitRequest{
			Type:    stepType,
			Payload: e.stepPayload(planID, idx),
			Timeout: timeout,
		})
		if err != nil {
			lastStatus, lastReason = domain.TaskFailed, err.Error()
			return fmt.Errorf("planner: submit step task: %w", err)
		}
		attempt := e.noteAttempt(planID, idx, task.ID)
		e.logger.Info("plan step attempt",
			zap.String("plan_id", planID),
			zap.Int("step", idx+1),
			zap.Int("attempt", attempt),
			zap.String("task_id", task.ID),
		)

		final, err := e.waitTask(task.ID)
		if err != nil {
			return err
		}
		switch final.Status {
		case domain.TaskCompleted:
			e.foldResult(planID, idx, final.Result)
			lastStatus, lastReason = final.Status, ""
			return nil
		case domain.TaskTimedOut:
			lastStatus, lastReason = final.Status, final.FailureReason
			return fmt.Errorf("planner: step task %s: %w", task.ID, domain.ErrTimeout)
		default:
			lastStatus, lastReason = final.Status, final.FailureReason
			return fmt.Errorf("planner: step task %s failed: %s", task.ID, final.FailureReason)
		}
	})
	if attemptErr != nil {
		if e.runCtx.Err() != nil {
			e.setStepOutcome(planID, idx, domain.StepFailed, "shutdown")
			return errStopped
		}
		st := domain.StepFailed
		if lastStatus == domain.TaskTimedOut {
			st = domain.StepTimedOut
		}
		e.setStepOutcome(planID, idx, st, lastReason)
		e.logger.Warn("plan step gave up",
			zap.String("plan_id", planID),
			zap.Int("step", idx+1),
			zap.String("status", string(st)),
			zap.String("reason", lastReason),
		)
		if st == domain.StepTimedOut {
			return fmt.Errorf("step %d (%s) timed out", idx+1, desc)
		}
		return fmt.Errorf("step %d (%s) failed: %s", idx+1, desc, lastReason)
	}

	e.setStepOutcome(planID, idx, domain.StepCompleted, "")
	return nil
}

// waitTask опрашивает задачу до терминального статуса. Прерывается только
// остановкой исполнителя, бюджет времени ограничивает сам реестр задач.
func (e *Executor) waitTask(taskID string) (*domain.Task, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		t, err := e.tasks.Task(taskID)
		if err != nil {
			return nil, fmt.Errorf("planner: poll task %s: %w", taskID, err)
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-e.runCtx.Done():
			return nil, errStopped
		case <-ticker.C:
		}
	}
}

// stepPayload собирает полезную нагрузку задачи шага: накопленный контекст
// плана, поля самого шага поверх него и идентификаторы для трассировки.
func (e *Executor) stepPayload(planID string, idx int) map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.plans[planID]
	step := p.Steps[idx]

	payload := make(map[string]interface{}, len(p.Context)+len(step.Payload)+4)
	for k, v := range p.Context {
		payload[k] = v
	}
	for k, v := range step.Payload {
		payload[k] = v
	}
	payload["goal"] = p.Goal
	payload["plan_id"] = p.ID
	payload["step_id"] = step.ID
	payload["step_index"] = idx
	return payload
}

func (e *Executor) noteAttempt(planID string, idx int, taskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := &e.plans[planID].Steps[idx]
	step.Attempts++
	step.TaskIDs = append(step.TaskIDs, taskID)
	return step.Attempts
}

// foldResult кладёт результат завершённого шага в контекст плана, чтобы
// последующие шаги получили его в полезной нагрузке своих задач.
func (e *Executor) foldResult(planID string, idx int, result map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.plans[planID]
	if p.Context == nil {
		p.Context = make(map[string]interface{})
	}
	p.Context[fmt.Sprintf("step_%d_result", idx)] = result
}

func (e *Executor) setStepOutcome(planID string, idx int, status domain.StepStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := &e.plans[planID].Steps[idx]
	step.Status = status
	step.Error = errMsg
}

// claimFallback переводит запасной план в running и возвращает его
// идентификатор. Пустая строка означает, что переключаться некуда: план
// без запасного либо запасной уже запускали отдельно.
func (e *Executor) claimFallback(planID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.plans[planID]
	if p.FallbackPlanID == "" {
		return ""
	}
	fb, ok := e.plans[p.FallbackPlanID]
	if !ok || !domain.CanPlanTransition(fb.Status, domain.PlanRunning) {
		return ""
	}
	fb.Status = domain.PlanRunning
	fb.StartedAt = e.now()
	return fb.ID
}

func (e *Executor) finishPlan(planID string, status domain.PlanStatus, reason string, skipRemaining bool) {
	e.mu.Lock()
	p, ok := e.plans[planID]
	if !ok || !domain.CanPlanTransition(p.Status, status) {
		e.mu.Unlock()
		return
	}
	p.Status = status
	p.FailureReason = reason
	p.FinishedAt = e.now()
	if skipRemaining {
		// Уход на запасной план: неначатые шаги основного помечаем skipped
		for i := range p.Steps {
			if p.Steps[i].Status == domain.StepPending {
				p.Steps[i].Status = domain.StepSkipped
			}
		}
	}
	goal := p.Goal
	e.mu.Unlock()

	e.metrics.PlanOutcomes.WithLabelValues(string(status)).Inc()
	if status == domain.PlanCompleted {
		e.logger.Info("plan completed", zap.String("plan_id", planID), zap.String("goal", goal))
		e.trail.Record(events.Event{Kind: events.KindPlanCompleted, PlanID: planID})
		return
	}
	e.logger.Warn("plan failed",
		zap.String("plan_id", planID),
		zap.String("goal", goal),
		zap.String("reason", reason),
	)
	e.trail.Record(events.Event{Kind: events.KindPlanFailed, PlanID: planID, Detail: map[string]interface{}{
		"reason": reason,
	}})
}

// Plan возвращает копию плана по идентификатору.
func (e *Executor) Plan(id string) (*domain.Plan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plans[id]
	if !ok {
		return nil, fmt.Errorf("planner: plan %q: %w", id, domain.ErrPlanNotFound)
	}
	return copyPlan(p), nil
}

// Plans возвращает копии всех планов, новые впереди.
func (e *Executor) Plans() []*domain.Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Plan, 0, len(e.plans))
	for _, p := range e.plans {
		out = append(out, copyPlan(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats считает планы по статусам для сводки консоли.
func (e *Executor) Stats() map[domain.PlanStatus]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.PlanStatus]int, 4)
	for _, p := range e.plans {
		out[p.Status]++
	}
	return out
}

func copyPlan(p *domain.Plan) *domain.Plan {
	c := *p
	c.Context = cloneDetail(p.Context)
	c.Steps = make([]domain.PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		s.Payload = cloneDetail(s.Payload)
		s.TaskIDs = append([]string(nil), s.TaskIDs...)
		c.Steps[i] = s
	}
	return &c
}

func cloneDetail(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
