package domain

import "errors"

// Типизированные ошибки ядра. Слои оборачивают их через %w,
// граница HTTP разворачивает errors.Is в коды ответов.
var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrAgentUnavailable  = errors.New("agent unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTimeout           = errors.New("deadline exceeded")
)
