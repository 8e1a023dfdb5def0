package domain

import "time"

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"      // Ждёт подходящего агента
	TaskAssigned   TaskStatus = "assigned"    // Назначена, прогресса ещё нет
	TaskInProgress TaskStatus = "in_progress" // Агент отчитался прогрессом > 0
	TaskCompleted  TaskStatus = "completed"   // Прогресс 100 + итоговый результат
	TaskFailed     TaskStatus = "failed"
	TaskTimedOut   TaskStatus = "timed_out"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task — единица работы. TimeoutAt отсчитывается от момента постановки
// и действует и в очереди, и на исполнении.
type Task struct {
	ID       string                 `json:"id"` // UUID
	Type     string                 `json:"type"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Priority TaskPriority           `json:"priority"`
	Status   TaskStatus             `json:"status"`

	AgentID          string `json:"agent_id,omitempty"`           // Кому назначена
	RequestedAgentID string `json:"requested_agent_id,omitempty"` // Явно запрошенный агент

	Progress      int                    `json:"progress"` // 0..100, монотонно
	Result        map[string]interface{} `json:"result,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	AssignedAt  time.Time `json:"assigned_at,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	TimeoutAt   time.Time `json:"timeout_at"`
}

// Допустимые переходы конечного автомата задачи.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskQueued:     {TaskAssigned, TaskTimedOut, TaskFailed},
	TaskAssigned:   {TaskInProgress, TaskCompleted, TaskFailed, TaskTimedOut},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskTimedOut},
	// Терминальные статусы неизменяемы.
	TaskCompleted: {},
	TaskFailed:    {},
	TaskTimedOut:  {},
}

// CanTaskTransition проверяет правила конечного автомата задачи.
func CanTaskTransition(from, to TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, достигла ли задача неизменяемого статуса.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskTimedOut
}

// Rank — вес для упорядочивания очереди: urgent раньше всех.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ValidPriority отбрасывает неизвестные значения на границе API.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
