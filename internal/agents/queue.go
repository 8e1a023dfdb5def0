package agents

import "github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"

// taskQueue — очередь неназначенных задач. Защищена мьютексом реестра,
// поэтому сама по себе не потокобезопасна. Глубина очереди у оркестратора
// измеряется десятками, простой срез здесь дешевле кучи.
type taskQueue struct {
	items []*domain.Task
}

func (q *taskQueue) push(t *domain.Task) {
	q.items = append(q.items, t)
}

func (q *taskQueue) len() int {
	return len(q.items)
}

// popBestFor снимает самую приоритетную подходящую агенту задачу:
// urgent > high > medium > low, внутри приоритета — FIFO.
// Закреплённые задачи достаются только своему агенту.
func (q *taskQueue) popBestFor(a *domain.Agent) *domain.Task {
	best := -1
	for i, t := range q.items {
		if !matches(t, a) {
			continue
		}
		if best == -1 || t.Priority.Rank() > q.items[best].Priority.Rank() {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	return t
}

func matches(t *domain.Task, a *domain.Agent) bool {
	if t.RequestedAgentID != "" {
		return t.RequestedAgentID == a.ID
	}
	return a.HasCapability(t.Type)
}

// remove выкидывает задачу из очереди по ID; сообщает, была ли она там.
func (q *taskQueue) remove(id string) bool {
	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// pinnedCount — личная очередь агента: сколько закреплённых за ним задач ждут.
func (q *taskQueue) pinnedCount(agentID string) int {
	n := 0
	for _, t := range q.items {
		if t.RequestedAgentID == agentID {
			n++
		}
	}
	return n
}

// extractPinned изымает задачи, закреплённые за агентом. Используется при
// дерегистрации: такие задачи больше некому исполнять.
func (q *taskQueue) extractPinned(agentID string) []*domain.Task {
	var pinned []*domain.Task
	kept := make([]*domain.Task, 0, len(q.items))
	for _, t := range q.items {
		if t.RequestedAgentID == agentID {
			pinned = append(pinned, t)
			continue
		}
		kept = append(kept, t)
	}
	q.items = kept
	return pinned
}
