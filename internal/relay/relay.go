package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
)

// AgentControl — операции реестра агентов, которые исполняет ретранслятор.
type AgentControl interface {
	PauseAgent(id string) error
	ResumeAgent(id string) error
	RestartAgent(id string) error
}

// BreakerControl — операции клиента запросов.
type BreakerControl interface {
	Reset(service string) error
}

// Relay слушает управляющие сигналы оператора в Redis Pub/Sub и применяет
// их к локальным реестрам. Консоль публикует сигнал один раз, применяет его
// каждый экземпляр ядра; сигнал про чужого агента — штатная ситуация.
type Relay struct {
	rdb      *redis.Client
	agents   AgentControl
	breakers BreakerControl
	logger   *zap.Logger
}

func NewRelay(rdb *redis.Client, agents AgentControl, breakers BreakerControl, logger *zap.Logger) *Relay {
	return &Relay{
		rdb:      rdb,
		agents:   agents,
		breakers: breakers,
		logger:   logger.Named("relay"),
	}
}

// Run блокируется до отмены контекста, держа подписки на оба канала.
func (r *Relay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.listen(ctx, infra.RedisChanAgentControl, r.applyAgentSignal)
	}()
	go func() {
		defer wg.Done()
		r.listen(ctx, infra.RedisChanBreakerControl, r.applyBreakerSignal)
	}()
	wg.Wait()
	r.logger.Info("control relay stopped")
}

// listen — живучая подписка: переподключается при обрыве, разбирает формат
// "<target>:<command>" и отдаёт сигнал обработчику.
func (r *Relay) listen(ctx context.Context, channel string, apply func(target, command string)) {
	for {
		pubsub := r.rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		r.logger.Info("control relay subscribed", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идём на переподключение
				}

				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					r.logger.Error("invalid signal format", zap.String("chan", channel), zap.String("payload", msg.Payload))
					continue
				}
				apply(parts[0], parts[1])
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Relay) applyAgentSignal(agentID, command string) {
	var err error
	switch command {
	case "pause":
		err = r.agents.PauseAgent(agentID)
	case "resume":
		err = r.agents.ResumeAgent(agentID)
	case "restart":
		err = r.agents.RestartAgent(agentID)
	default:
		r.logger.Warn("unknown agent command", zap.String("command", command), zap.String("agent_id", agentID))
		return
	}
	if err != nil {
		// Чужой агент либо собственный сигнал, уже применённый локально
		// перед публикацией. В обоих случаях шуметь не о чем.
		if errors.Is(err, domain.ErrAgentNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			r.logger.Debug("agent signal skipped", zap.String("agent_id", agentID), zap.String("command", command))
			return
		}
		r.logger.Warn("agent signal rejected", zap.String("agent_id", agentID), zap.String("command", command), zap.Error(err))
		return
	}
	r.logger.Info("agent signal applied", zap.String("agent_id", agentID), zap.String("command", command))
}

func (r *Relay) applyBreakerSignal(service, command string) {
	if command != "reset" {
		r.logger.Warn("unknown breaker command", zap.String("command", command), zap.String("service", service))
		return
	}
	if err := r.breakers.Reset(service); err != nil {
		if errors.Is(err, domain.ErrServiceNotFound) {
			r.logger.Debug("breaker signal skipped", zap.String("service", service))
			return
		}
		r.logger.Warn("breaker signal rejected", zap.String("service", service), zap.Error(err))
		return
	}
	r.logger.Info("breaker signal applied", zap.String("service", service))
}
