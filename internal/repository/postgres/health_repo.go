package postgres

import (
	"context"
	"time"

	"github.com/xela07ax/trustgate/internal/domain"
)

type HealthRepo struct {
	db DBTX
}

func NewHealthRepo(db DBTX) *HealthRepo {
	return &HealthRepo{db: db}
}

func (r *HealthRepo) InsertProbe(ctx context.Context, p domain.ProbeResult) error {
	checked := p.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO resource_health (resource_id, healthy, latency_ms, error, checked_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ResourceID, p.Healthy, p.Latency.Milliseconds(), p.Error, checked)
	return err
}

// RecentProbes — история проверок ресурса, новые первыми.
func (r *HealthRepo) RecentProbes(ctx context.Context, resourceID string, limit int) ([]domain.ProbeResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT resource_id, healthy, latency_ms, error, checked_at
		FROM resource_health WHERE resource_id = $1
		ORDER BY checked_at DESC LIMIT $2`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProbeResult
	for rows.Next() {
		var (
			p  domain.ProbeResult
			ms int64
		)
		if err := rows.Scan(&p.ResourceID, &p.Healthy, &ms, &p.Error, &p.CheckedAt); err != nil {
			return nil, err
		}
		p.Latency = time.Duration(ms) * time.Millisecond
		out = append(out, p)
	}
	return out, rows.Err()
}

// PurgeBefore чистит историю проверок старше cutoff.
func (r *HealthRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM resource_health WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
