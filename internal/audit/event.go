package audit

import "time"

// Виды событий журнала
const (
	KindLease      = "lease"
	KindRelease    = "release"
	KindSignature  = "signature"
	KindValidation = "validation"
	KindProbe      = "probe"
	KindControl    = "control"
)

// Event — одна запись журнала событий шлюза.
type Event struct {
	ID         string         `json:"id"`          // UUID события
	TraceID    string         `json:"trace_id"`    // Сквозной ID запроса
	Kind       string         `json:"kind"`        // lease, validation, probe...
	ClientID   string         `json:"client_id"`   // Чей запрос
	ResourceID string         `json:"resource_id"` // Какой апстрим участвовал
	RecordID   string         `json:"record_id"`   // Запись валидации, если есть
	Status     string         `json:"status"`      // "OK", "NOT_FOUND", "completed", "suspicious"...
	Details    map[string]any `json:"details"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error"`
}
