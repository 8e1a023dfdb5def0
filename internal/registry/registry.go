package registry

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/metrics"
)

// DescriptorStore — зеркало дескрипторов для тёплого старта.
// Горячий путь его не читает, запись best-effort.
type DescriptorStore interface {
	Upsert(ctx context.Context, desc domain.ServiceDescriptor) error
	List(ctx context.Context) ([]domain.ServiceDescriptor, error)
	Delete(ctx context.Context, name string) error
}

type entry struct {
	desc   domain.ServiceDescriptor
	status domain.ServiceStatus
}

// Registry — реестр сервисов. Единственный писатель статусов — пробер.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry

	store   DescriptorStore // nil, если база не настроена
	cfg     infra.RegistryConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	trail   events.Recorder
}

func NewRegistry(store DescriptorStore, cfg infra.RegistryConfig, m *metrics.Metrics, trail events.Recorder, logger *zap.Logger) *Registry {
	if trail == nil {
		trail = events.NopRecorder{}
	}
	return &Registry{
		services: make(map[string]*entry),
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("registry"),
		metrics:  m,
		trail:    trail,
	}
}

// Init загружает зеркальные дескрипторы при старте сервиса.
// Здоровье из зеркала не восстанавливается: его устанавливают только живые пробы.
func (r *Registry) Init(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	descs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: warm start: %w", err)
	}

	r.mu.Lock()
	for _, desc := range descs {
		r.services[desc.Name] = &entry{
			desc: desc,
			status: domain.ServiceStatus{
				Name:         desc.Name,
				State:        domain.ServiceUnknown,
				Dependencies: desc.Dependencies,
			},
		}
	}
	r.mu.Unlock()

	r.logger.Info("descriptors loaded from mirror", zap.Int("count", len(descs)))
	return nil
}

// Register — идемпотентная регистрация. Повторная заменяет URL и зависимости,
// но сохраняет накопленное состояние здоровья.
func (r *Registry) Register(ctx context.Context, desc domain.ServiceDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("registry: service name is required")
	}
	u, err := url.Parse(desc.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("registry: invalid base url %q for %s", desc.BaseURL, desc.Name)
	}
	if desc.HealthPath == "" {
		desc.HealthPath = r.cfg.HealthPath
	}

	r.mu.Lock()
	existing, ok := r.services[desc.Name]
	if ok {
		existing.desc = desc
		existing.status.Dependencies = desc.Dependencies
	} else {
		r.services[desc.Name] = &entry{
			desc: desc,
			status: domain.ServiceStatus{
				Name:         desc.Name,
				State:        domain.ServiceUnknown,
				Dependencies: desc.Dependencies,
			},
		}
	}
	r.mu.Unlock()

	r.logger.Info("service registered",
		zap.String("service", desc.Name),
		zap.String("base_url", desc.BaseURL),
		zap.Strings("dependencies", desc.Dependencies),
		zap.Bool("updated", ok),
	)
	r.trail.Record(events.Event{
		Kind:    events.KindServiceRegistered,
		Service: desc.Name,
		Detail:  map[string]interface{}{"base_url": desc.BaseURL, "updated": ok},
	})

	// Зеркало — best-effort: память остаётся источником истины
	if r.store != nil {
		if err := r.store.Upsert(ctx, desc); err != nil {
			r.logger.Warn("descriptor mirror upsert failed", zap.String("service", desc.Name), zap.Error(err))
		}
	}
	return nil
}

// Deregister удаляет сервис. Чужие списки зависимостей не трогаем:
// осиротевшая зависимость просто никогда не станет готовой.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	_, ok := r.services[name]
	if ok {
		delete(r.services, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("registry: deregister %q: %w", name, domain.ErrServiceNotFound)
	}

	r.logger.Info("service deregistered", zap.String("service", name))
	r.trail.Record(events.Event{Kind: events.KindServiceDeregistered, Service: name})
	r.metrics.ServiceHealth.DeleteLabelValues(name)

	if r.store != nil {
		if err := r.store.Delete(ctx, name); err != nil {
			r.logger.Warn("descriptor mirror delete failed", zap.String("service", name), zap.Error(err))
		}
	}
	return nil
}

// Status возвращает копию статуса сервиса.
func (r *Registry) Status(name string) (domain.ServiceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[name]
	if !ok {
		return domain.ServiceStatus{}, fmt.Errorf("registry: status %q: %w", name, domain.ErrServiceNotFound)
	}
	return copyStatus(e.status), nil
}

// Statuses — копии статусов всех сервисов, отсортированные по имени.
func (r *Registry) Statuses() []domain.ServiceStatus {
	r.mu.RLock()
	out := make([]domain.ServiceStatus, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, copyStatus(e.status))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy — имена сервисов в состоянии healthy.
func (r *Registry) Healthy() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.services))
	for name, e := range r.services {
		if e.status.State == domain.ServiceHealthy {
			out = append(out, name)
		}
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Topology — карта «сервис -> его зависимости» для визуализации.
func (r *Registry) Topology() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.services))
	for name, e := range r.services {
		deps := make([]string, len(e.desc.Dependencies))
		copy(deps, e.desc.Dependencies)
		sort.Strings(deps)
		out[name] = deps
	}
	return out
}

// ResolveBaseURL реализует requester.EndpointResolver.
func (r *Registry) ResolveBaseURL(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[name]
	if !ok {
		return "", fmt.Errorf("registry: resolve %q: %w", name, domain.ErrServiceNotFound)
	}
	return e.desc.BaseURL, nil
}

func copyStatus(s domain.ServiceStatus) domain.ServiceStatus {
	out := s
	out.Dependencies = make([]string, len(s.Dependencies))
	copy(out.Dependencies, s.Dependencies)
	return out
}

type probeTarget struct {
	name, path string
}

func (r *Registry) probeTargets() []probeTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]probeTarget, 0, len(r.services))
	for name, e := range r.services {
		out = append(out, probeTarget{name: name, path: e.desc.HealthPath})
	}
	return out
}

// applyProbeResult — единственная точка изменения здоровья сервиса.
func (r *Registry) applyProbeResult(name string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[name]
	if !ok {
		// Сервис сняли с учёта, пока шла проба
		return
	}

	now := time.Now()
	e.status.LastProbeAt = now

	if success {
		e.status.ConsecutiveFails = 0
		e.status.LastHealthyAt = now
		e.status.LatencyMs = latency.Milliseconds()
		// Один успех возвращает healthy из любого состояния
		if e.status.State != domain.ServiceHealthy {
			prev := e.status.State
			e.status.State = domain.ServiceHealthy
			r.metrics.ServiceHealth.WithLabelValues(name).Set(1)
			r.logger.Info("service is healthy",
				zap.String("service", name),
				zap.String("previous", string(prev)),
				zap.Int64("latency_ms", e.status.LatencyMs),
			)
			r.trail.Record(events.Event{
				Kind:    events.KindServiceHealthy,
				Service: name,
				Detail:  map[string]interface{}{"previous": string(prev)},
			})
		}
		return
	}

	e.status.ConsecutiveFails++
	r.metrics.ProbeFailures.WithLabelValues(name).Inc()

	// До порога статус не трогаем: одиночный сбой не роняет сервис
	if e.status.ConsecutiveFails >= r.cfg.UnhealthyThreshold && e.status.State != domain.ServiceUnhealthy {
		prev := e.status.State
		e.status.State = domain.ServiceUnhealthy
		r.metrics.ServiceHealth.WithLabelValues(name).Set(0)
		r.logger.Warn("service is unhealthy",
			zap.String("service", name),
			zap.String("previous", string(prev)),
			zap.Int("consecutive_fails", e.status.ConsecutiveFails),
		)
		r.trail.Record(events.Event{
			Kind:    events.KindServiceUnhealthy,
			Service: name,
			Detail:  map[string]interface{}{"previous": string(prev), "consecutive_fails": e.status.ConsecutiveFails},
		})
	}
}
