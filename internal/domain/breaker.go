package domain

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // Запросы проходят, неудачи считаются
	CircuitOpen     CircuitState = "open"      // Запросы отклоняются без сети
	CircuitHalfOpen CircuitState = "half_open" // Допущена ровно одна проба
)

// BreakerSnapshot — срез состояния предохранителя для консоли.
type BreakerSnapshot struct {
	Service       string       `json:"service"`
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	LastFailureAt time.Time    `json:"last_failure_at,omitempty"`
	OpenedAt      time.Time    `json:"opened_at,omitempty"`
	NextRetryAt   time.Time    `json:"next_retry_at,omitempty"`
	BackoffMs     int64        `json:"backoff_ms"` // Текущая задержка до следующей пробы
}
