package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/events"
)

// EventRepo — журнал оркестрации в таблице orch_events. Запись идёт пачками
// из воркера журнала, чтение — выборки консоли.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// WriteBatch сохраняет пачку событий одним запросом.
func (r *EventRepo) WriteBatch(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	// Количество колонок в таблице orch_events
	numFields := 8
	placeholderStr := ""
	vals := make([]interface{}, 0, len(batch)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range batch {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		detail, _ := json.Marshal(e.Detail)
		vals = append(vals,
			e.ID, e.Kind, e.Service, e.AgentID, e.TaskID, e.PlanID, detail, e.CreatedAt,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO orch_events (id, kind, service, agent_id, task_id, plan_id, detail, created_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write events: %w", err)
	}
	return nil
}

// Fetch возвращает события по фильтру, новые впереди.
func (r *EventRepo) Fetch(ctx context.Context, f events.Filter) ([]events.Event, error) {
	query := `SELECT id, kind, service, agent_id, task_id, plan_id, detail, created_at FROM orch_events`

	var conds []string
	var args []interface{}
	add := func(field, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	add("kind", f.Kind)
	add("service", f.Service)
	add("agent_id", f.AgentID)
	add("task_id", f.TaskID)
	add("plan_id", f.PlanID)

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Service, &e.AgentID, &e.TaskID, &e.PlanID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal detail for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
