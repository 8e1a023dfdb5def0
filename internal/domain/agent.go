package domain

import "time"

type AgentStatus string

const (
	AgentIdle        AgentStatus = "idle"        // Готов принимать задачи
	AgentWorking     AgentStatus = "working"     // Выполняет ровно одну задачу
	AgentFailed      AgentStatus = "failed"      // Задача провалена, нужен рестарт оператором
	AgentMaintenance AgentStatus = "maintenance" // Пауза оператором, назначения отклоняются
)

// Agent — воркер с набором возможностей. Единственный писатель — реестр агентов.
type Agent struct {
	ID            string      `json:"id"` // UUID
	Name          string      `json:"name"`
	Type          string      `json:"type"`         // Например "builder", "analyst"
	Capabilities  []string    `json:"capabilities"` // Теги задач, которые агент умеет исполнять
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"` // Последняя смена статуса или задачи

	Performance AgentPerformance `json:"performance"`
}

// AgentPerformance — накопленные метрики исполнения.
// SuccessRate и AvgDurationMs — экспоненциальные скользящие средние.
type AgentPerformance struct {
	TotalTasks     int64   `json:"total_tasks"` // Терминальных исходов за время жизни
	CompletedTasks int64   `json:"completed_tasks"`
	FailedTasks    int64   `json:"failed_tasks"` // Провалы и таймауты
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
}

// Допустимые переходы конечного автомата агента.
var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentIdle:        {AgentWorking, AgentMaintenance},
	AgentWorking:     {AgentIdle, AgentFailed},
	AgentFailed:      {AgentIdle, AgentMaintenance},
	AgentMaintenance: {AgentIdle},
}

// CanAgentTransition проверяет правила конечного автомата агента.
func CanAgentTransition(from, to AgentStatus) bool {
	for _, allowed := range agentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// HasCapability — точная проверка принадлежности тега, без эвристик.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
