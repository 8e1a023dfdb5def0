package events

import "time"

// Виды событий журнала оркестрации.
const (
	KindServiceRegistered   = "service_registered"
	KindServiceDeregistered = "service_deregistered"
	KindServiceHealthy      = "service_healthy"
	KindServiceUnhealthy    = "service_unhealthy"
	KindBreakerTransition   = "breaker_transition"
	KindAgentRegistered     = "agent_registered"
	KindAgentDeregistered   = "agent_deregistered"
	KindAgentPaused         = "agent_paused"
	KindAgentResumed        = "agent_resumed"
	KindAgentRestarted      = "agent_restarted"
	KindTaskSubmitted       = "task_submitted"
	KindTaskAssigned        = "task_assigned"
	KindTaskCompleted       = "task_completed"
	KindTaskFailed          = "task_failed"
	KindTaskTimedOut        = "task_timed_out"
	KindPlanCreated         = "plan_created"
	KindPlanStarted         = "plan_started"
	KindPlanCompleted       = "plan_completed"
	KindPlanFailed          = "plan_failed"
)

type Event struct {
	ID      string `json:"id"`   // UUID события
	Kind    string `json:"kind"` // Что произошло
	Service string `json:"service,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	PlanID  string `json:"plan_id,omitempty"`

	Detail map[string]interface{} `json:"detail,omitempty"` // Контекст перехода

	CreatedAt time.Time `json:"created_at"`
}

// Filter — параметры выборки журнала для консоли.
type Filter struct {
	Kind    string
	Service string
	AgentID string
	TaskID  string
	PlanID  string
	Limit   int
}
