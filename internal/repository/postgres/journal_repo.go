package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/trustgate/internal/audit"
)

// JournalRepo — audit.Storage поверх таблицы journal_events.
type JournalRepo struct {
	db DBTX
}

func NewJournalRepo(db DBTX) *JournalRepo {
	return &JournalRepo{db: db}
}

func (r *JournalRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице journal_events
	numFields := 11
	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		var details []byte
		if len(e.Details) > 0 {
			details, _ = json.Marshal(e.Details)
		}
		vals = append(vals,
			e.ID, e.TraceID, e.Kind, e.ClientID, e.ResourceID, e.RecordID,
			e.Status, details, e.DurationMs, e.Error, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO journal_events (id, trace_id, kind, client_id, resource_id, record_id, status, details, duration_ms, error, ts) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	_, err := r.db.Exec(ctx, query, vals...)
	return err
}

// Recent — последние события журнала, опционально одного вида.
func (r *JournalRepo) Recent(ctx context.Context, kind string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, trace_id, kind, client_id, resource_id, record_id, status, details, duration_ms, error, ts
		FROM journal_events
		WHERE ($1 = '' OR kind = $1)
		ORDER BY ts DESC LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Kind, &e.ClientID, &e.ResourceID, &e.RecordID,
			&e.Status, &details, &e.DurationMs, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
