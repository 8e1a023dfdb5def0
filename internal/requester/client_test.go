package requester

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

type mapResolver map[string]string

func (m mapResolver) ResolveBaseURL(name string) (string, error) {
	url, ok := m[name]
	if !ok {
		return "", fmt.Errorf("resolver: %q: %w", name, domain.ErrServiceNotFound)
	}
	return url, nil
}

func testClientConfig() infra.RequesterConfig {
	return infra.RequesterConfig{
		FailureThreshold: 2,
		FailureWindow:    60 * time.Second,
		BaseBackoff:      30 * time.Millisecond,
		MaxBackoff:       time.Second,
		DefaultTimeout:   2 * time.Second,
	}
}

func newTestClient(resolver EndpointResolver, cfg infra.RequesterConfig) *Client {
	return NewClient(resolver, cfg, metrics.NewMetrics(nil), nil, zap.NewNop())
}

func TestClientDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := newTestClient(mapResolver{"billing": srv.URL}, testClientConfig())

	res, err := client.Do(context.Background(), ServiceRequest{
		Service: "billing",
		Method:  http.MethodPost,
		Path:    "/v1/echo",
		Body:    []byte(`{"ping":1}`),
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestClientUnknownService(t *testing.T) {
	client := newTestClient(mapResolver{}, testClientConfig())

	_, err := client.Do(context.Background(), ServiceRequest{Service: "ghost"})
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)
}

func TestClientOpensBreakerAndStopsTraffic(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig()
	cfg.BaseBackoff = time.Minute // в этом тесте восстановление не нужно
	client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

	// Порог 2: обе пятисотки возвращаются как Result, предохранитель считает
	for i := 0; i < 2; i++ {
		res, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	}

	// Открыт: отказ локальный, сервер больше не трогаем
	_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	_, err = client.Do(context.Background(), ServiceRequest{Service: "billing"})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))

	snaps := client.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.CircuitOpen, snaps[0].State)
}

func TestClientRecoversThroughHalfOpenProbe(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig()
	client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

	for i := 0; i < 2; i++ {
		_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
		require.NoError(t, err)
	}
	_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	// Сервис ожил, задержка истекла: проба возвращает предохранитель в closed
	healthy.Store(true)
	time.Sleep(cfg.BaseBackoff + 20*time.Millisecond)

	res, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	snaps := client.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.CircuitClosed, snaps[0].State)
	assert.Equal(t, 0, snaps[0].FailureCount)
}

func TestClientClientErrorsCounting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	t.Run("4xx ignored by default", func(t *testing.T) {
		cfg := testClientConfig()
		cfg.FailureThreshold = 1
		client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

		res, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
		assert.Equal(t, domain.CircuitClosed, client.Snapshots()[0].State)
	})

	t.Run("4xx counted when configured", func(t *testing.T) {
		cfg := testClientConfig()
		cfg.FailureThreshold = 1
		cfg.CountClientErrors = true
		client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

		_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
		require.NoError(t, err)
		assert.Equal(t, domain.CircuitOpen, client.Snapshots()[0].State)
	})
}

func TestClientTimeoutCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(mapResolver{"billing": srv.URL}, testClientConfig())

	_, err := client.Do(context.Background(), ServiceRequest{
		Service: "billing",
		Timeout: 30 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 1, client.Snapshots()[0].FailureCount)
}

func TestClientManualReset(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig()
	cfg.BaseBackoff = time.Minute // без сброса пробы пришлось бы ждать минуту
	client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

	for i := 0; i < 2; i++ {
		_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
		require.NoError(t, err)
	}
	_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	healthy.Store(true)
	require.NoError(t, client.Reset("billing"))

	res, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// Сброс несуществующего предохранителя — типизированная ошибка
	assert.ErrorIs(t, client.Reset("ghost"), domain.ErrServiceNotFound)
}

func TestClientRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testClientConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	client := newTestClient(mapResolver{"billing": srv.URL}, cfg)

	_, err := client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.NoError(t, err)

	// Второй мгновенный вызов упирается в лимитер, предохранитель не участвует
	_, err = client.Do(context.Background(), ServiceRequest{Service: "billing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
	assert.Equal(t, domain.CircuitClosed, client.Snapshots()[0].State)
}

func TestClientSnapshotsSorted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(mapResolver{"zeta": srv.URL, "alpha": srv.URL}, testClientConfig())

	for _, svc := range []string{"zeta", "alpha"} {
		_, err := client.Do(context.Background(), ServiceRequest{Service: svc})
		require.NoError(t, err)
	}

	snaps := client.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "alpha", snaps[0].Service)
	assert.Equal(t, "zeta", snaps[1].Service)
}
