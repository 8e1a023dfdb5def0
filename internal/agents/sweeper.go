package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
)

// RunSweeper — фоновый контроль таймаутов задач. Блокируется до отмены
// контекста, поэтому запускается отдельной горутиной.
func (r *Registry) RunSweeper(ctx context.Context) {
	r.logger.Info("task timeout sweeper started", zap.Duration("interval", r.cfg.SweepInterval))
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("task timeout sweeper stopped")
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired переводит просроченные нетерминальные задачи в timed_out,
// включая ещё стоящие в очереди: их бюджет тоже истёк. Кооперативной
// отмены работы агента нет — с точки зрения реестра задача мертва, поздний
// отчёт отбросит идемпотентная проверка статуса.
func (r *Registry) sweepExpired() {
	r.mu.Lock()
	now := r.now()
	var expired, assigned []*domain.Task
	for _, t := range r.tasks {
		if t.Status.Terminal() || t.TimeoutAt.After(now) {
			continue
		}
		if a := r.finishTask(t, domain.TaskTimedOut, ""); a != nil {
			// Таймаут освобождает агента: он не виноват, что задачу
			// не успели, и может брать следующую
			_ = r.applyAgentTransition(a, domain.AgentIdle)
			if next := r.assignNext(a); next != nil {
				assigned = append(assigned, next)
			}
		}
		expired = append(expired, copyTask(t))
	}
	r.mu.Unlock()

	for _, t := range expired {
		r.logger.Warn("task timed out",
			zap.String("task_id", t.ID),
			zap.String("agent_id", t.AgentID),
			zap.String("type", t.Type),
			zap.Time("timeout_at", t.TimeoutAt),
		)
		r.trail.Record(events.Event{
			Kind:    events.KindTaskTimedOut,
			AgentID: t.AgentID,
			TaskID:  t.ID,
			Detail:  map[string]interface{}{"type": t.Type},
		})
	}
	for _, t := range assigned {
		r.recordAssigned(t)
	}
}
