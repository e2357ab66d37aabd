package domain

import (
	"encoding/json"
	"time"
)

// Статусы State Machine записи валидации
type ValidationStatus string

const (
	StatusPending   ValidationStatus = "pending"
	StatusRunning   ValidationStatus = "running"
	StatusCompleted ValidationStatus = "completed"
	StatusFailed    ValidationStatus = "failed"
)

// Final: запись больше не меняется.
func (s ValidationStatus) Final() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Classification: итоговый вердикт конвейера.
type Classification string

const (
	ClassValid      Classification = "valid"
	ClassInvalid    Classification = "invalid"
	ClassSuspicious Classification = "suspicious"
	ClassUnknown    Classification = "unknown"
)

// StageRole помечает этапы, на выход которых ссылаются правила классификации.
type StageRole string

const (
	RoleGeneric       StageRole = "generic"
	RoleBotLikelihood StageRole = "bot_likelihood"
	RoleValue         StageRole = "value"
)

// ValidationInput: вход конвейера. Payload хранится как ссылка на исходные данные.
type ValidationInput struct {
	ID         string          `json:"id,omitempty"`
	ClientID   string          `json:"client_id"`
	Subject    string          `json:"subject,omitempty"`
	Attributes *Attributes     `json:"attributes,omitempty"`
	Signature  *Signature      `json:"signature,omitempty"`
	Matches    []Match         `json:"matches,omitempty"`
	Resource   *PooledResource `json:"resource,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// StageOutput: типизированный выход одного этапа.
type StageOutput struct {
	Confidence float64  `json:"confidence"`
	Risk       float64  `json:"risk"`
	Score      float64  `json:"score"`             // для ролей bot_likelihood / value
	Invalid    bool     `json:"invalid,omitempty"` // этап явно утверждает "invalid"
	Signals    []string `json:"signals,omitempty"`
}

// StageResult: выход этапа либо его ошибка.
type StageResult struct {
	Stage      string        `json:"stage"`
	Role       StageRole     `json:"role"`
	Output     StageOutput   `json:"output"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (r StageResult) Failed() bool {
	return r.Error != ""
}

// ValidationRecord: результат прогона конвейера.
type ValidationRecord struct {
	ID                  string           `json:"id"`
	InputID             string           `json:"input_id"`
	ClientID            string           `json:"client_id"`
	Status              ValidationStatus `json:"status"`
	Stages              []StageResult    `json:"stages"`
	AggregateConfidence float64          `json:"aggregate_confidence"`
	AggregateRisk       float64          `json:"aggregate_risk"`
	ErrorRate           float64          `json:"error_rate"`
	Classification      Classification   `json:"classification"`
	Recommendations     []string         `json:"recommendations"`
	Error               string           `json:"error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	StartedAt           time.Time        `json:"started_at,omitempty"`
	CompletedAt         time.Time        `json:"completed_at,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата pending → running → completed|failed.
func (r *ValidationRecord) CanTransitionTo(next ValidationStatus) error {
	if r.Status.Final() {
		return ErrAlreadyFinalized
	}
	switch {
	case r.Status == StatusPending && next == StatusRunning:
		return nil
	case r.Status == StatusPending && next == StatusFailed:
		return nil
	case r.Status == StatusRunning && next.Final():
		return nil
	}
	return ErrInvalidTransition
}

// Clone отдает копию, чтобы читатели не могли изменить сохраненную запись.
func (r *ValidationRecord) Clone() *ValidationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Stages = append([]StageResult(nil), r.Stages...)
	for i := range c.Stages {
		c.Stages[i].Output.Signals = append([]string(nil), r.Stages[i].Output.Signals...)
	}
	c.Recommendations = append([]string(nil), r.Recommendations...)
	return &c
}
