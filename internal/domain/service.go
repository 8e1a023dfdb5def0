package domain

import "time"

type ServiceState string

const (
	ServiceUnknown   ServiceState = "unknown"   // Зарегистрирован, но ещё не опрошен
	ServiceHealthy   ServiceState = "healthy"   // Последняя проба успешна
	ServiceUnhealthy ServiceState = "unhealthy" // Порог последовательных неудач превышен
)

// ServiceDescriptor — регистрационная запись внешнего сервиса.
// Зависимости могут ссылаться на ещё не зарегистрированные имена.
type ServiceDescriptor struct {
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	HealthPath   string            `json:"health_path"`  // По умолчанию "/health"
	Dependencies []string          `json:"dependencies"` // Имена сервисов, от которых зависит
	Meta         map[string]string `json:"meta,omitempty"`
}

// ServiceStatus — наблюдаемое состояние сервиса. Меняет его только пробер.
type ServiceStatus struct {
	Name             string       `json:"name"`
	State            ServiceState `json:"state"`
	ConsecutiveFails int          `json:"consecutive_fails"`
	LastProbeAt      time.Time    `json:"last_probe_at"`
	LastHealthyAt    time.Time    `json:"last_healthy_at"`
	LatencyMs        int64        `json:"latency_ms"` // Длительность последней успешной пробы
	Dependencies     []string     `json:"dependencies"`
}
