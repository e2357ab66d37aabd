package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/trustgate/internal/domain"
)

// ValidationRepo — долговременное хранилище записей конвейера (validation.RecordStore).
type ValidationRepo struct {
	db DBTX
}

func NewValidationRepo(db DBTX) *ValidationRepo {
	return &ValidationRepo{db: db}
}

const recordColumns = `id, input_id, client_id, status, classification, aggregate_confidence, aggregate_risk,
	error_rate, stages, recommendations, error, created_at, started_at, completed_at, expires_at`

// Save вставляет или обновляет запись. Завершенная запись не перезаписывается:
// WHERE в ON CONFLICT отсекает такую строку, и RETURNING ничего не вернет.
func (r *ValidationRepo) Save(ctx context.Context, rec *domain.ValidationRecord) error {
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return err
	}
	recs, err := json.Marshal(rec.Recommendations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO validation_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			classification = EXCLUDED.classification,
			aggregate_confidence = EXCLUDED.aggregate_confidence,
			aggregate_risk = EXCLUDED.aggregate_risk,
			error_rate = EXCLUDED.error_rate,
			stages = EXCLUDED.stages,
			recommendations = EXCLUDED.recommendations,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at
		WHERE validation_records.status NOT IN ('completed', 'failed')
		RETURNING id`

	var id string
	err = r.db.QueryRow(ctx, query,
		rec.ID, rec.InputID, rec.ClientID, string(rec.Status), string(rec.Classification),
		rec.AggregateConfidence, rec.AggregateRisk, rec.ErrorRate, stages, recs, rec.Error,
		rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.CompletedAt), nullTime(rec.ExpiresAt),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAlreadyFinalized
	}
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*domain.ValidationRecord, error) {
	var (
		rec                             domain.ValidationRecord
		status, class                   string
		stages, recs                    []byte
		startedAt, completedAt, expires *time.Time
	)
	err := row.Scan(&rec.ID, &rec.InputID, &rec.ClientID, &status, &class,
		&rec.AggregateConfidence, &rec.AggregateRisk, &rec.ErrorRate, &stages, &recs, &rec.Error,
		&rec.CreatedAt, &startedAt, &completedAt, &expires)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.ValidationStatus(status)
	rec.Classification = domain.Classification(class)
	rec.StartedAt = fromNullTime(startedAt)
	rec.CompletedAt = fromNullTime(completedAt)
	rec.ExpiresAt = fromNullTime(expires)
	if err := json.Unmarshal(stages, &rec.Stages); err != nil {
		return nil, fmt.Errorf("record %s: bad stages: %w", rec.ID, err)
	}
	if err := json.Unmarshal(recs, &rec.Recommendations); err != nil {
		return nil, fmt.Errorf("record %s: bad recommendations: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *ValidationRepo) Get(ctx context.Context, id string) (*domain.ValidationRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM validation_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// PurgeExpired удаляет только завершенные записи с истекшим сроком.
func (r *ValidationRepo) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM validation_records
		WHERE status IN ('completed', 'failed') AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListRecent — последние записи, опционально по клиенту. Для консоли.
func (r *ValidationRepo) ListRecent(ctx context.Context, clientID string, limit int) ([]*domain.ValidationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+` FROM validation_records
		WHERE ($1 = '' OR client_id = $1)
		ORDER BY created_at DESC LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ValidationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
