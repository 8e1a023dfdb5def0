package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
)

// ServiceBoard — что сервису консоли нужно от реестра сервисов.
type ServiceBoard interface {
	Statuses() []domain.ServiceStatus
}

// AgentBoard — что сервису консоли нужно от реестра агентов.
type AgentBoard interface {
	RegisterAgent(name, agentType string, capabilities []string) (*domain.Agent, error)
	DeregisterAgent(id string) error
	PauseAgent(id string) error
	ResumeAgent(id string) error
	RestartAgent(id string) error
	Agent(id string) (*domain.Agent, error)
	Agents() []*domain.Agent
	Stats() (map[domain.AgentStatus]int, map[domain.TaskStatus]int, int)
}

// PlanBoard — что сервису консоли нужно от исполнителя планов.
type PlanBoard interface {
	Stats() map[domain.PlanStatus]int
}

// BreakerBoard — что сервису консоли нужно от клиента запросов.
type BreakerBoard interface {
	Reset(service string) error
	Snapshots() []domain.BreakerSnapshot
}

// EventSource — выборки журнала оркестрации. nil, если база не настроена.
type EventSource interface {
	Fetch(ctx context.Context, f events.Filter) ([]events.Event, error)
}

// Control — управляющий сервис консоли: применяет команды оператора к
// локальным реестрам и транслирует их в Redis для остальных экземпляров.
type Control struct {
	services ServiceBoard
	agents   AgentBoard
	plans    PlanBoard
	breakers BreakerBoard
	events   EventSource
	rdb      *redis.Client // nil в одноэкземплярной раскладке
	logger   *zap.Logger
}

func NewControl(services ServiceBoard, agents AgentBoard, plans PlanBoard, breakers BreakerBoard, eventSource EventSource, rdb *redis.Client, logger *zap.Logger) *Control {
	return &Control{
		services: services,
		agents:   agents,
		plans:    plans,
		breakers: breakers,
		events:   eventSource,
		rdb:      rdb,
		logger:   logger.Named("console-control"),
	}
}

// publish — сигнал остальным экземплярам. Локальное состояние уже изменено,
// поэтому недоставка сигнала не делает операцию неуспешной.
func (c *Control) publish(ctx context.Context, channel, target, signal, action string) {
	if c.rdb == nil {
		return
	}
	payload := fmt.Sprintf("%s:%s", target, signal)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Warn("runtime signal delivery failed",
			zap.String("action", action),
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	c.logger.Info("control signal published",
		zap.String("action", action),
		zap.String("target", target))
}

func (c *Control) RegisterAgent(name, agentType string, capabilities []string) (*domain.Agent, error) {
	return c.agents.RegisterAgent(name, agentType, capabilities)
}

func (c *Control) DeregisterAgent(id string) error {
	return c.agents.DeregisterAgent(id)
}

func (c *Control) Agent(id string) (*domain.Agent, error) {
	return c.agents.Agent(id)
}

func (c *Control) Agents() []*domain.Agent {
	return c.agents.Agents()
}

// PauseAgent переводит агента в maintenance локально и сигналит остальным.
func (c *Control) PauseAgent(ctx context.Context, id string) error {
	if err := c.agents.PauseAgent(id); err != nil {
		return err
	}
	c.publish(ctx, infra.RedisChanAgentControl, id, "pause", "agent-pause")
	return nil
}

func (c *Control) ResumeAgent(ctx context.Context, id string) error {
	if err := c.agents.ResumeAgent(id); err != nil {
		return err
	}
	c.publish(ctx, infra.RedisChanAgentControl, id, "resume", "agent-resume")
	return nil
}

func (c *Control) RestartAgent(ctx context.Context, id string) error {
	if err := c.agents.RestartAgent(id); err != nil {
		return err
	}
	c.publish(ctx, infra.RedisChanAgentControl, id, "restart", "agent-restart")
	return nil
}

func (c *Control) Snapshots() []domain.BreakerSnapshot {
	return c.breakers.Snapshots()
}

// ResetBreaker — ручное закрытие предохранителя оператором.
func (c *Control) ResetBreaker(ctx context.Context, service string) error {
	if err := c.breakers.Reset(service); err != nil {
		return err
	}
	c.publish(ctx, infra.RedisChanBreakerControl, service, "reset", "breaker-reset")
	return nil
}

// Stats собирает сводку по всем реестрам для дашборда.
func (c *Control) Stats() domain.OrchestratorStats {
	var s domain.OrchestratorStats
	for _, st := range c.services.Statuses() {
		s.Services.Total++
		switch st.State {
		case domain.ServiceHealthy:
			s.Services.Healthy++
		case domain.ServiceUnhealthy:
			s.Services.Unhealthy++
		default:
			s.Services.Unknown++
		}
	}
	s.Agents, s.Tasks, s.QueueDepth = c.agents.Stats()
	s.Plans = c.plans.Stats()
	for _, b := range c.breakers.Snapshots() {
		switch b.State {
		case domain.CircuitOpen:
			s.Breakers.Open++
		case domain.CircuitHalfOpen:
			s.Breakers.HalfOpen++
		}
	}
	return s
}

// Events возвращает выборку журнала. Без базы журнал пуст, а не ошибка:
// ядро полноценно работает и в бесхранилищной раскладке.
func (c *Control) Events(ctx context.Context, f events.Filter) ([]events.Event, error) {
	if c.events == nil {
		return []events.Event{}, nil
	}
	list, err := c.events.Fetch(ctx, f)
	if err != nil {
		c.logger.Error("failed to fetch events", zap.Error(err))
		return nil, fmt.Errorf("console: fetch events: %w", err)
	}
	// Фронтенд получает пустой массив [], а не null
	if list == nil {
		list = []events.Event{}
	}
	return list, nil
}
