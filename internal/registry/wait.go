package registry

import (
	"context"
	"sort"
	"time"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// WaitForService блокируется, пока сервис не станет healthy.
// Возвращает false по истечении бюджета или отмене контекста, не ошибкой:
// незарегистрированное имя может появиться во время ожидания.
func (r *Registry) WaitForService(ctx context.Context, name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.isHealthy(name) {
			return true
		}
		if !r.sleepPoll(ctx, deadline) {
			return false
		}
	}
}

// WaitForDependencies блокируется, пока все транзитивные зависимости сервиса
// не станут healthy. Бюджет общий на всю проверку.
func (r *Registry) WaitForDependencies(ctx context.Context, name string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.dependenciesReady(name) {
			return true
		}
		if !r.sleepPoll(ctx, deadline) {
			return false
		}
	}
}

// sleepPoll ждёт до следующей проверки. false — бюджет исчерпан или контекст отменён.
func (r *Registry) sleepPoll(ctx context.Context, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	wait := r.cfg.WaitPollInterval
	if wait <= 0 {
		wait = time.Second
	}
	if wait > remaining {
		wait = remaining
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Registry) isHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[name]
	return ok && e.status.State == domain.ServiceHealthy
}

// dependenciesReady — обход транзитивного замыкания зависимостей.
// Неизвестный корень или незарегистрированная зависимость — не готовы.
func (r *Registry) dependenciesReady(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, ok := r.services[name]
	if !ok {
		return false
	}

	visited := map[string]bool{name: true}
	queue := append([]string(nil), root.desc.Dependencies...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if visited[dep] {
			continue
		}
		visited[dep] = true

		e, ok := r.services[dep]
		if !ok || e.status.State != domain.ServiceHealthy {
			return false
		}
		queue = append(queue, e.desc.Dependencies...)
	}
	return true
}

// DependencyClosure — транзитивные зависимости сервиса (для консоли).
func (r *Registry) DependencyClosure(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, ok := r.services[name]
	if !ok {
		return nil, domain.ErrServiceNotFound
	}

	visited := map[string]bool{name: true}
	out := make([]string, 0, len(root.desc.Dependencies))
	queue := append([]string(nil), root.desc.Dependencies...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if visited[dep] {
			continue
		}
		visited[dep] = true
		out = append(out, dep)

		if e, ok := r.services[dep]; ok {
			queue = append(queue, e.desc.Dependencies...)
		}
	}
	sort.Strings(out)
	return out, nil
}
