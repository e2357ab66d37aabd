// Package sqlite — локальный журнал событий для однонодового режима без PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xela07ax/trustgate/internal/audit"
)

type JournalStore struct {
	db *sql.DB
}

func NewJournalStore(dsn string) (*JournalStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:trustgate-journal.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &JournalStore{db: db}, nil
}

// DB отдает пул соединений. Для :memory: нужен SetMaxOpenConns(1).
func (s *JournalStore) DB() *sql.DB {
	return s.db
}

func (s *JournalStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal_events (
			id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			client_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			status TEXT NOT NULL,
			details_json TEXT,
			duration_ms INTEGER NOT NULL,
			error TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_events_ts ON journal_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_events_kind ON journal_events(kind, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch пишет пачку одной транзакцией. Повторный id игнорируется.
func (s *JournalStore) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO journal_events (id, trace_id, kind, client_id, resource_id, record_id, status, details_json, duration_ms, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		var details sql.NullString
		if len(e.Details) > 0 {
			raw, _ := json.Marshal(e.Details)
			details = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.TraceID, e.Kind, e.ClientID, e.ResourceID, e.RecordID,
			e.Status, details, e.DurationMs, e.Error, e.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent — последние события, опционально одного вида.
func (s *JournalStore) Recent(ctx context.Context, kind string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, kind, client_id, resource_id, record_id, status, details_json, duration_ms, error, ts
		FROM journal_events WHERE (? = '' OR kind = ?) ORDER BY ts DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			details sql.NullString
			ts      string
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Kind, &e.ClientID, &e.ResourceID, &e.RecordID,
			&e.Status, &details, &e.DurationMs, &e.Error, &ts); err != nil {
			return nil, err
		}
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *JournalStore) Close() error {
	return s.db.Close()
}
