package requester

import (
	"sync"
	"time"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
)

// breaker — конечный автомат предохранителя одного сервиса.
// Переходы: closed -> open (порог неудач), open -> half_open (истёк nextRetryAt),
// half_open -> closed (проба успешна), half_open -> open (проба провалена,
// задержка удваивается до потолка), любой -> closed (сброс оператором).
type breaker struct {
	mu  sync.Mutex
	cfg infra.RequesterConfig

	service string
	state   domain.CircuitState

	failureCount   int
	firstFailureAt time.Time // Начало окна счёта
	lastFailureAt  time.Time

	openedAt      time.Time
	backoff       time.Duration // Текущая задержка открытого состояния
	nextRetryAt   time.Time
	probeInFlight bool // В half_open допущена ровно одна проба

	now           func() time.Time
	onStateChange func(from, to domain.CircuitState)
}

func newBreaker(service string, cfg infra.RequesterConfig, now func() time.Time, onStateChange func(from, to domain.CircuitState)) *breaker {
	if now == nil {
		now = time.Now
	}
	return &breaker{
		cfg:           cfg,
		service:       service,
		state:         domain.CircuitClosed,
		backoff:       cfg.BaseBackoff,
		now:           now,
		onStateChange: onStateChange,
	}
}

func (b *breaker) transition(to domain.CircuitState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// admit решает судьбу вызова до какого-либо сетевого ввода-вывода.
func (b *breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitClosed:
		return nil

	case domain.CircuitOpen:
		if b.now().Before(b.nextRetryAt) {
			return domain.ErrCircuitOpen
		}
		// Задержка истекла: допускаем ровно одну пробу
		b.transition(domain.CircuitHalfOpen)
		b.probeInFlight = true
		return nil

	case domain.CircuitHalfOpen:
		if b.probeInFlight {
			return domain.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// success фиксирует удачный исход допущенного вызова.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitHalfOpen:
		// Проба прошла: закрываемся, счётчики и задержка к базе
		b.probeInFlight = false
		b.failureCount = 0
		b.backoff = b.cfg.BaseBackoff
		b.transition(domain.CircuitClosed)
	case domain.CircuitClosed:
		b.failureCount = 0
	}
}

// failure фиксирует неудачный исход допущенного вызова.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case domain.CircuitHalfOpen:
		// Проба провалена: снова открываемся, задержка удваивается до потолка
		b.probeInFlight = false
		b.backoff = minDuration(b.backoff*2, b.cfg.MaxBackoff)
		b.openedAt = now
		b.nextRetryAt = now.Add(b.backoff)
		b.lastFailureAt = now
		b.transition(domain.CircuitOpen)

	case domain.CircuitClosed:
		// Неудача старше окна начинает счёт заново
		if b.failureCount == 0 || now.Sub(b.firstFailureAt) > b.cfg.FailureWindow {
			b.failureCount = 0
			b.firstFailureAt = now
		}
		b.failureCount++
		b.lastFailureAt = now

		if b.failureCount >= b.cfg.FailureThreshold {
			b.backoff = b.cfg.BaseBackoff
			b.openedAt = now
			b.nextRetryAt = now.Add(b.backoff)
			b.transition(domain.CircuitOpen)
		}

	case domain.CircuitOpen:
		// Поздний результат вызова, допущенного до открытия: состояние не меняем
		b.lastFailureAt = now
	}
}

// reset — ручной перевод в closed оператором. Следующему вызову доверяем.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probeInFlight = false
	b.backoff = b.cfg.BaseBackoff
	b.nextRetryAt = time.Time{}
	b.openedAt = time.Time{}
	b.transition(domain.CircuitClosed)
}

func (b *breaker) snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return domain.BreakerSnapshot{
		Service:       b.service,
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		OpenedAt:      b.openedAt,
		NextRetryAt:   b.nextRetryAt,
		BackoffMs:     b.backoff.Milliseconds(),
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
