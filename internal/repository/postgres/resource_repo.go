package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/trustgate/internal/domain"
)

type ResourceRepo struct {
	db DBTX
}

func NewResourceRepo(db DBTX) *ResourceRepo {
	return &ResourceRepo{db: db}
}

const resourceColumns = `host, port, protocol, region, username, password, active, max_sessions, created_at`

func scanResource(row pgx.Row) (domain.PooledResource, error) {
	var r domain.PooledResource
	err := row.Scan(&r.Host, &r.Port, &r.Protocol, &r.Region, &r.Username, &r.Password, &r.Active, &r.MaxSessions, &r.CreatedAt)
	return r, err
}

// ListResources отдает все ресурсы реестра, включая выключенные.
func (r *ResourceRepo) ListResources(ctx context.Context) ([]domain.PooledResource, error) {
	rows, err := r.db.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PooledResource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		// Новый ресурс считается здоровым до первой проверки
		res.Healthy = true
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *ResourceRepo) GetResource(ctx context.Context, id string) (domain.PooledResource, error) {
	res, err := scanResource(r.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PooledResource{}, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
		}
		return domain.PooledResource{}, err
	}
	res.Healthy = true
	return res, nil
}

// UpsertResource создает ресурс или обновляет параметры существующего. created_at не меняется.
func (r *ResourceRepo) UpsertResource(ctx context.Context, res domain.PooledResource) (domain.PooledResource, error) {
	query := `
		INSERT INTO resources (id, host, port, protocol, region, username, password, active, max_sessions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			protocol = EXCLUDED.protocol,
			region = EXCLUDED.region,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			active = EXCLUDED.active,
			max_sessions = EXCLUDED.max_sessions,
			updated_at = NOW()
		RETURNING ` + resourceColumns

	out, err := scanResource(r.db.QueryRow(ctx, query,
		res.ID(), res.Host, res.Port, res.Protocol, res.Region, res.Username, res.Password, res.Active, res.MaxSessions,
	))
	if err != nil {
		return domain.PooledResource{}, fmt.Errorf("upsert resource %s: %w", res.ID(), err)
	}
	out.Healthy = true
	return out, nil
}

func (r *ResourceRepo) DeleteResource(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *ResourceRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE resources SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
