package events

/*
Файл trail.go реализует журнал событий оркестрации (Event Trail) —
асинхронный сборщик переходов состояний ядра.

Ключевые особенности архитектуры:
- Non-blocking Publish: события уходят из Hot Path через неблокирующий канал,
  задержки записи в БД не влияют на время отклика реестров.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается до конца,
  sync.WaitGroup и закрытие канала гарантируют Final Flush.
- Reliability: путь записи обёрнут в circuit breaker — мёртвая база
  не подвешивает воркер, сбросы быстро отклоняются и журнал деградирует тихо.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

// Storage определяет, куда физически сохраняются события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Recorder — интерфейс публикации, который потребляют реестры.
type Recorder interface {
	Record(event Event)
}

type Trail struct {
	ch      chan Event
	repo    Storage
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
	cfg     infra.EventsConfig
	wg      sync.WaitGroup
	// Защита от Record после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo Storage, cfg infra.EventsConfig, m *metrics.Metrics, logger *zap.Logger) *Trail {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	log := logger.With(zap.String("mod", "trail"))

	// Предохранитель пути записи: после серии отказов БД сбросы
	// отклоняются сразу, пока Timeout не допустит новую пробу.
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trail-storage",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("trail storage breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Trail{
		ch:      make(chan Event, cfg.BufferSize),
		repo:    repo,
		cb:      cb,
		logger:  log,
		metrics: m,
		cfg:     cfg,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&t.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Закрываем (Drain Pattern). Воркер завершается исключительно
	// через закрытие входного канала: сначала вычитает остатки, потом выйдет.
	t.logger.Info("stopping trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("trail stopped gracefully")
}

func (t *Trail) Record(event Event) {
	// Убеждаемся, что идентификатор и таймстемп всегда проставлены
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("event dropped: trail is stopping", zap.String("kind", event.Kind))
		return
	}

	// Стратегия Load Shedding: переполненный буфер не блокирует реестры
	select {
	case t.ch <- event:
		t.metrics.EventBufferFill.Set(float64(len(t.ch)))
	default:
		t.metrics.EventsDropped.Inc()
		t.logger.Error("event_buffer_overflow",
			zap.String("kind", event.Kind),
			zap.String("service", event.Service),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.cfg.BatchSize)
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на финальном сбросе может быть уже закрыт
		_, err := t.cb.Execute(func() (interface{}, error) {
			return nil, t.repo.WriteBatch(context.Background(), batch)
		})
		if err != nil {
			t.logger.Error("trail flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный сброс и выход
				flush()
				t.logger.Info("trail worker finished")
				return
			}
			batch = append(batch, event)
			t.metrics.EventBufferFill.Set(float64(len(t.ch)))
			if len(batch) >= t.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopRecorder — заглушка журнала для конфигураций без базы данных.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
