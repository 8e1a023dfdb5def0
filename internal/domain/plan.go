package domain

import "time"

type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft" // Создан, исполнение не запускалось
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out" // Последняя попытка шага истекла по таймауту
	StepSkipped   StepStatus = "skipped"   // Остаток шагов при уходе на fallback
)

// Plan — упорядоченная декомпозиция цели. Шаги исполняются строго
// последовательно, каждый шаг делегируется реестру задач.
type Plan struct {
	ID      string                 `json:"id"` // UUID
	Goal    string                 `json:"goal"`
	Context map[string]interface{} `json:"context,omitempty"` // Пополняется результатами шагов

	Status      PlanStatus `json:"status"`
	Steps       []PlanStep `json:"steps"`
	CurrentStep int        `json:"current_step"` // Индекс исполняемого шага

	FallbackPlanID string  `json:"fallback_plan_id,omitempty"`
	Confidence     float64 `json:"confidence"` // Оценка декомпозиции, 0..1, только для наблюдения

	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// PlanStep — один шаг плана. Каждая попытка исполнения — отдельная задача,
// все идентификаторы попыток сохраняются в TaskIDs.
type PlanStep struct {
	ID          string                 `json:"id"` // UUID
	Index       int                    `json:"index"`
	Type        string                 `json:"type"` // Тег возможности для подбора агента
	Description string                 `json:"description"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Estimate    time.Duration          `json:"estimate"` // Оценка длительности, основа таймаута задачи

	Status   StepStatus `json:"status"`
	TaskIDs  []string   `json:"task_ids,omitempty"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// Допустимые переходы конечного автомата плана.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanDraft:     {PlanRunning},
	PlanRunning:   {PlanCompleted, PlanFailed},
	PlanCompleted: {},
	PlanFailed:    {},
}

// CanPlanTransition проверяет правила конечного автомата плана.
func CanPlanTransition(from, to PlanStatus) bool {
	for _, allowed := range planTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
