package requester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

// EndpointResolver отдаёт базовый URL по имени сервиса.
// Клиент знает только этот интерфейс, реализует его реестр сервисов.
type EndpointResolver interface {
	ResolveBaseURL(name string) (string, error)
}

// ServiceRequest — исходящий вызов именованного сервиса.
type ServiceRequest struct {
	Service string
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
	Timeout time.Duration // 0 — берём дефолт из конфигурации
}

// Result — исход состоявшегося HTTP-обмена. Ошибка возвращается только
// когда обмена не было (отказ предохранителя, сеть, таймаут);
// код 5xx — это Result без ошибки, вызывающий сам смотрит на StatusCode.
type Result struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// Client — исходящий HTTP-клиент с предохранителем на каждый сервис.
type Client struct {
	resolver   EndpointResolver
	httpClient *http.Client
	cfg        infra.RequesterConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics
	trail      events.Recorder
	now        func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
	limiters map[string]*rate.Limiter
}

func NewClient(resolver EndpointResolver, cfg infra.RequesterConfig, m *metrics.Metrics, trail events.Recorder, logger *zap.Logger) *Client {
	if trail == nil {
		trail = events.NopRecorder{}
	}
	return &Client{
		resolver:   resolver,
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     logger.Named("requester"),
		metrics:    m,
		trail:      trail,
		now:        time.Now,
		breakers:   make(map[string]*breaker),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Do выполняет вызов сервиса через его предохранитель.
func (c *Client) Do(ctx context.Context, req ServiceRequest) (*Result, error) {
	if req.Service == "" {
		return nil, fmt.Errorf("requester: service name is required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	baseURL, err := c.resolver.ResolveBaseURL(req.Service)
	if err != nil {
		return nil, fmt.Errorf("requester: resolve %q: %w", req.Service, err)
	}

	// 1. Rate Limiter (если настроен)
	if lim := c.limiterFor(req.Service); lim != nil {
		if !lim.Allow() {
			c.metrics.RequestsRejected.WithLabelValues(req.Service, "rate_limited").Inc()
			return nil, fmt.Errorf("requester: %s: rate limit exceeded", req.Service)
		}
	}

	// 2. Предохранитель: отказ происходит до какого-либо сетевого I/O
	br := c.breakerFor(req.Service)
	if err := br.admit(); err != nil {
		c.metrics.RequestsRejected.WithLabelValues(req.Service, "circuit_open").Inc()
		return nil, fmt.Errorf("requester: call %s %s%s: %w", req.Service, baseURL, req.Path, err)
	}

	// 3. Сам вызов с пер-вызовным таймаутом
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		br.failure()
		return nil, fmt.Errorf("requester: build request for %s: %w", req.Service, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		br.failure()
		c.metrics.RequestDuration.WithLabelValues(req.Service, "error").Observe(latency.Seconds())
		c.logger.Warn("outbound call failed",
			zap.String("service", req.Service),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("requester: call %s timed out after %s: %w", req.Service, timeout, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("requester: call %s: %w", req.Service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		br.failure()
		return nil, fmt.Errorf("requester: read response from %s: %w", req.Service, err)
	}

	// 4. Классификация исхода: 5xx всегда неудача, 4xx — по конфигурации
	if c.isFailureStatus(resp.StatusCode) {
		br.failure()
	} else {
		br.success()
	}
	c.metrics.RequestDuration.WithLabelValues(req.Service, strconv.Itoa(resp.StatusCode)).Observe(latency.Seconds())

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Latency:    latency,
	}, nil
}

func (c *Client) isFailureStatus(code int) bool {
	if code >= 500 {
		return true
	}
	if code >= 400 && c.cfg.CountClientErrors {
		return true
	}
	return false
}

// Reset — ручной сброс предохранителя оператором.
func (c *Client) Reset(service string) error {
	c.mu.Lock()
	br, ok := c.breakers[service]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("requester: reset %q: %w", service, domain.ErrServiceNotFound)
	}
	br.reset()
	c.logger.Info("circuit breaker reset by operator", zap.String("service", service))
	return nil
}

// Snapshots — срезы всех предохранителей, отсортированные по имени сервиса.
func (c *Client) Snapshots() []domain.BreakerSnapshot {
	c.mu.Lock()
	breakers := make([]*breaker, 0, len(c.breakers))
	for _, br := range c.breakers {
		breakers = append(breakers, br)
	}
	c.mu.Unlock()

	out := make([]domain.BreakerSnapshot, 0, len(breakers))
	for _, br := range breakers {
		out = append(out, br.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func (c *Client) breakerFor(service string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	br, ok := c.breakers[service]
	if !ok {
		br = newBreaker(service, c.cfg, c.now, func(from, to domain.CircuitState) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("service", service),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
			c.metrics.BreakerTransitions.WithLabelValues(service, string(to)).Inc()
			c.metrics.BreakerState.WithLabelValues(service).Set(stateGaugeValue(to))
			c.trail.Record(events.Event{
				Kind:    events.KindBreakerTransition,
				Service: service,
				Detail:  map[string]interface{}{"from": string(from), "to": string(to)},
			})
		})
		c.breakers[service] = br
	}
	return br
}

func (c *Client) limiterFor(service string) *rate.Limiter {
	if c.cfg.RateLimitRPS <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lim, ok := c.limiters[service]
	if !ok {
		burst := c.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(c.cfg.RateLimitRPS), burst)
		c.limiters[service] = lim
	}
	return lim
}

func stateGaugeValue(s domain.CircuitState) float64 {
	switch s {
	case domain.CircuitOpen:
		return 1
	case domain.CircuitHalfOpen:
		return 2
	default:
		return 0
	}
}
