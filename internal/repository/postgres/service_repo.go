package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

// ServiceRepo — зеркало дескрипторов сервисов в таблице orch_services.
// Горячий путь реестра сюда не ходит: чтение только на тёплом старте,
// запись best-effort при регистрации и снятии.
type ServiceRepo struct {
	pool *pgxpool.Pool
}

func NewServiceRepo(pool *pgxpool.Pool) *ServiceRepo {
	return &ServiceRepo{pool: pool}
}

func (r *ServiceRepo) Upsert(ctx context.Context, desc domain.ServiceDescriptor) error {
	meta, err := json.Marshal(desc.Meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal meta for %s: %w", desc.Name, err)
	}

	query := `
		INSERT INTO orch_services (name, base_url, health_path, dependencies, meta, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			health_path = EXCLUDED.health_path,
			dependencies = EXCLUDED.dependencies,
			meta = EXCLUDED.meta,
			updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, desc.Name, desc.BaseURL, desc.HealthPath, desc.Dependencies, meta); err != nil {
		return fmt.Errorf("postgres: upsert service %s: %w", desc.Name, err)
	}
	return nil
}

func (r *ServiceRepo) List(ctx context.Context) ([]domain.ServiceDescriptor, error) {
	query := `SELECT name, base_url, health_path, dependencies, meta FROM orch_services ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list services: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceDescriptor
	for rows.Next() {
		var desc domain.ServiceDescriptor
		var meta []byte
		if err := rows.Scan(&desc.Name, &desc.BaseURL, &desc.HealthPath, &desc.Dependencies, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan service: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &desc.Meta); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal meta for %s: %w", desc.Name, err)
			}
		}
		out = append(out, desc)
	}
	return out, rows.Err()
}

func (r *ServiceRepo) Delete(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM orch_services WHERE name = $1`, name); err != nil {
		return fmt.Errorf("postgres: delete service %s: %w", name, err)
	}
	return nil
}
