package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

type captureStorage struct {
	mu       sync.Mutex
	batches  [][]Event
	attempts int
	err      error
}

func (c *captureStorage) WriteBatch(_ context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.err != nil {
		return c.err
	}
	batch := make([]Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStorage) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *captureStorage) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func newTestTrail(repo Storage, cfg infra.EventsConfig) *Trail {
	return NewTrail(repo, cfg, metrics.NewMetrics(nil), zap.NewNop())
}

func TestTrailFlushesOnBatchSize(t *testing.T) {
	storage := &captureStorage{}
	trail := newTestTrail(storage, infra.EventsConfig{
		BufferSize:    100,
		BatchSize:     3,
		FlushInterval: time.Hour, // тикер не должен вмешиваться
	})
	trail.Start()
	defer trail.Stop()

	for i := 0; i < 3; i++ {
		trail.Record(Event{Kind: KindTaskSubmitted})
	}

	require.Eventually(t, func() bool { return storage.total() == 3 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, storage.calls())
}

func TestTrailFlushesOnTicker(t *testing.T) {
	storage := &captureStorage{}
	trail := newTestTrail(storage, infra.EventsConfig{
		BufferSize:    100,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})
	trail.Start()
	defer trail.Stop()

	trail.Record(Event{Kind: KindServiceHealthy, Service: "billing"})
	trail.Record(Event{Kind: KindServiceUnhealthy, Service: "billing"})

	require.Eventually(t, func() bool { return storage.total() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestTrailStopDrainsBuffer(t *testing.T) {
	storage := &captureStorage{}
	trail := newTestTrail(storage, infra.EventsConfig{
		BufferSize:    100,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	trail.Start()

	for i := 0; i < 5; i++ {
		trail.Record(Event{Kind: KindTaskCompleted})
	}
	trail.Stop()

	assert.Equal(t, 5, storage.total())

	// После остановки события отбрасываются, а не паникуют на закрытом канале
	trail.Record(Event{Kind: KindTaskFailed})
	assert.Equal(t, 5, storage.total())
}

func TestTrailRecordFillsIdentity(t *testing.T) {
	storage := &captureStorage{}
	trail := newTestTrail(storage, infra.EventsConfig{
		BufferSize:    10,
		BatchSize:     1,
		FlushInterval: time.Hour,
	})
	trail.Start()

	trail.Record(Event{Kind: KindPlanCreated})
	trail.Stop()

	require.Equal(t, 1, storage.total())
	got := storage.batches[0][0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestTrailBreakerShedsDeadStorage(t *testing.T) {
	storage := &captureStorage{err: errors.New("connection refused")}
	trail := newTestTrail(storage, infra.EventsConfig{
		BufferSize:    100,
		BatchSize:     1,
		FlushInterval: time.Hour,
	})
	trail.Start()

	// BatchSize=1: каждое событие — отдельная попытка записи.
	// После шестой подряд неудачи предохранитель открывается,
	// и оставшиеся сбросы не трогают хранилище вовсе.
	for i := 0; i < 8; i++ {
		trail.Record(Event{Kind: KindTaskFailed})
	}
	trail.Stop()

	storage.mu.Lock()
	attempts := storage.attempts
	storage.mu.Unlock()
	assert.Equal(t, 6, attempts)
	assert.Equal(t, 0, storage.total())
}

func TestNopRecorder(t *testing.T) {
	assert.NotPanics(t, func() {
		NopRecorder{}.Record(Event{Kind: KindAgentRegistered})
	})
}
