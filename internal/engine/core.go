package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/fingerprint"
	"github.com/xela07ax/trustgate/internal/hub"
	"github.com/xela07ax/trustgate/internal/pool"
	"github.com/xela07ax/trustgate/internal/validation"
)

// Каналы хаба, в которые шлюз публикует события
const (
	ChannelValidations = "validations"
	ChannelHealth      = "health"
)

// Типы сообщений хаба
const (
	MsgValidationCompleted = "validation.completed"
	MsgHealthReport        = "health.report"
)

// RecordSink получает каждую финализированную запись (Kafka и т.п.).
type RecordSink interface {
	Publish(ctx context.Context, rec *domain.ValidationRecord) error
}

// ProcessRequest описывает полный проход: аренда → отпечаток → валидация.
type ProcessRequest struct {
	ClientID   string             `json:"client_id"`
	Filter     domain.LeaseFilter `json:"filter"`
	Subject    string             `json:"subject,omitempty"`
	Attributes *domain.Attributes `json:"attributes,omitempty"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	// Async: не ждать конвейер, вернуть id записи
	Async bool `json:"async,omitempty"`
}

type ProcessResult struct {
	Resource   *domain.PooledResource   `json:"resource,omitempty"`
	LeaseError string                   `json:"lease_error,omitempty"`
	Signature  *domain.Signature        `json:"signature,omitempty"`
	Matches    []domain.Match           `json:"matches,omitempty"`
	RecordID   string                   `json:"record_id"`
	Record     *domain.ValidationRecord `json:"record,omitempty"`
}

// Core — контекст приложения. Собирается один раз в main и раздается транспортам.
type Core struct {
	pool     *pool.Pool
	prints   *fingerprint.Engine
	pipeline *validation.Pipeline
	hub      *hub.Hub
	relay    *Relay
	journal  audit.Logger
	sinks    []RecordSink
	metrics  *Metrics
	logger   *zap.Logger
}

type CoreDeps struct {
	Pool        *pool.Pool
	Fingerprint *fingerprint.Engine
	Pipeline    *validation.Pipeline
	Hub         *hub.Hub
	Relay       *Relay       // nil: одноинстансный режим
	Journal     audit.Logger // nil: без журнала
	Sinks       []RecordSink
	Metrics     *Metrics
}

func NewCore(d CoreDeps, logger *zap.Logger) *Core {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	c := &Core{
		pool:     d.Pool,
		prints:   d.Fingerprint,
		pipeline: d.Pipeline,
		hub:      d.Hub,
		relay:    d.Relay,
		journal:  d.Journal,
		sinks:    d.Sinks,
		metrics:  d.Metrics,
		logger:   logger.Named("core"),
	}
	c.pipeline.OnComplete(c.onValidationComplete)
	return c
}

func (c *Core) Pool() *pool.Pool { return c.pool }

func (c *Core) Hub() *hub.Hub { return c.hub }

func (c *Core) Metrics() *Metrics { return c.metrics }

func (c *Core) logEvent(ctx context.Context, ev audit.Event) {
	if c.journal == nil {
		return
	}
	ev.TraceID = extractTraceID(ctx)
	c.journal.Log(ev)
}

// --- Resource Pool ---

func (c *Core) AssignResource(ctx context.Context, clientID string, filter domain.LeaseFilter) (domain.PooledResource, error) {
	start := time.Now()
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.PooledResource{}, fmt.Errorf("%w: client_id is required", domain.ErrInvalidInput)
	}

	prev, hadLease := c.pool.LeaseOf(clientID)
	res, err := c.pool.LeaseFor(clientID, filter)

	ev := audit.Event{Kind: audit.KindLease, ClientID: clientID, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		c.metrics.LeasesTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
		c.metrics.ObserveError(err)
		ev.Status, ev.Error = "NOT_FOUND", err.Error()
	case hadLease && prev.ResourceID == res.ID():
		c.metrics.LeasesTotal.WithLabelValues("reused").Inc()
		ev.Status, ev.ResourceID = "REUSED", res.ID()
	default:
		c.metrics.LeasesTotal.WithLabelValues("assigned").Inc()
		ev.Status, ev.ResourceID = "OK", res.ID()
	}
	c.logEvent(ctx, ev)
	return res, err
}

func (c *Core) ReleaseResource(ctx context.Context, clientID string) bool {
	lease, _ := c.pool.LeaseOf(clientID)
	ok := c.pool.Release(clientID)
	if ok {
		c.logEvent(ctx, audit.Event{Kind: audit.KindRelease, ClientID: clientID, ResourceID: lease.ResourceID, Status: "OK"})
	}
	return ok
}

// ReportUsage: обратная связь клиента об использовании ресурса.
func (c *Core) ReportUsage(ctx context.Context, resourceID string, success bool, latency time.Duration) error {
	var ok bool
	if success {
		ok = c.pool.MarkSuccess(resourceID, latency)
	} else {
		ok = c.pool.MarkFailure(resourceID)
	}
	if !ok {
		return fmt.Errorf("resource %s: %w", resourceID, domain.ErrNotFound)
	}
	return nil
}

func (c *Core) Resources() []domain.PooledResource {
	return c.pool.Snapshot()
}

// --- Fingerprint ---

// ComputeSignature строит отпечаток, сравнивает его с историей клиента и недавним корпусом и сохраняет.
func (c *Core) ComputeSignature(ctx context.Context, clientKey string, attrs domain.Attributes) fingerprint.Observation {
	obs := c.prints.Observe(ctx, clientKey, attrs)
	c.logEvent(ctx, audit.Event{
		Kind:     audit.KindSignature,
		ClientID: clientKey,
		Status:   "OK",
		Details:  map[string]any{"hash": obs.Signature.Hash, "matches": len(obs.Matches)},
	})
	return obs
}

// CompareSignatures: чистое сравнение двух наборов атрибутов.
func (c *Core) CompareSignatures(a, b domain.Attributes) float64 {
	return fingerprint.Similarity(a, b)
}

// --- Validation ---

func (c *Core) Validate(ctx context.Context, in domain.ValidationInput) (*domain.ValidationRecord, error) {
	rec, err := c.pipeline.Validate(ctx, in)
	if err != nil {
		c.metrics.ObserveError(err)
	}
	return rec, err
}

func (c *Core) SubmitValidation(ctx context.Context, in domain.ValidationInput) (string, error) {
	return c.pipeline.Submit(ctx, in)
}

func (c *Core) GetValidation(ctx context.Context, id string) (*domain.ValidationRecord, error) {
	return c.pipeline.Get(ctx, id)
}

func (c *Core) BatchValidate(ctx context.Context, inputs []domain.ValidationInput) []validation.BatchItem {
	return c.pipeline.BatchValidate(ctx, inputs)
}

// onValidationComplete — хук конвейера (метрики, журнал, рассылка, внешние приемники).
func (c *Core) onValidationComplete(ctx context.Context, rec *domain.ValidationRecord) {
	c.metrics.ObserveValidation(rec)
	c.logEvent(ctx, audit.Event{
		Kind:       audit.KindValidation,
		ClientID:   rec.ClientID,
		RecordID:   rec.ID,
		Status:     string(rec.Classification),
		Timestamp:  rec.CompletedAt,
		DurationMs: rec.CompletedAt.Sub(rec.StartedAt).Milliseconds(),
		Error:      rec.Error,
		Details: map[string]any{
			"status":     rec.Status,
			"confidence": rec.AggregateConfidence,
			"risk":       rec.AggregateRisk,
		},
	})

	msg, err := hub.NewMessage(MsgValidationCompleted, ChannelValidations, rec)
	if err != nil {
		c.logger.Error("failed to encode validation event", zap.String("record_id", rec.ID), zap.Error(err))
	} else {
		c.Broadcast(ctx, ChannelValidations, msg)
		c.SendToClient(ctx, rec.ClientID, msg)
	}

	for _, s := range c.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			c.logger.Warn("record sink failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
}

// --- Hub ---

func (c *Core) Connect(clientID string) (string, error) {
	return c.hub.Connect(clientID)
}

func (c *Core) Subscribe(connID, channel string) bool {
	return c.hub.Subscribe(connID, channel)
}

// Broadcast доставляет сообщение подписчикам этого инстанса и ретранслирует остальным.
// Возвращает число локальных доставок.
func (c *Core) Broadcast(ctx context.Context, channel string, msg hub.Message) int {
	n := c.hub.Broadcast(channel, msg)
	c.relay.publish(ctx, relayEnvelope{Target: relayChannel, Key: channel, Message: msg})
	return n
}

func (c *Core) BroadcastAll(ctx context.Context, msg hub.Message) int {
	n := c.hub.BroadcastAll(msg)
	c.relay.publish(ctx, relayEnvelope{Target: relayAll, Message: msg})
	return n
}

func (c *Core) SendToClient(ctx context.Context, clientID string, msg hub.Message) int {
	if clientID == "" {
		return 0
	}
	n := c.hub.SendToClient(clientID, msg)
	c.relay.publish(ctx, relayEnvelope{Target: relayClient, Key: clientID, Message: msg})
	return n
}

// --- Full flow ---

// Process: аренда ресурса, отпечаток, конвейер валидации. Запись сохраняется и
// рассылается хуком конвейера. Отсутствие свободного ресурса не прерывает проверку.
func (c *Core) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", domain.ErrInvalidInput)
	}
	out := &ProcessResult{}
	in := domain.ValidationInput{
		ClientID:   req.ClientID,
		Subject:    req.Subject,
		Attributes: req.Attributes,
		Payload:    req.Payload,
	}

	// 1. Аренда
	res, err := c.AssignResource(ctx, req.ClientID, req.Filter)
	switch {
	case err == nil:
		out.Resource = &res
		in.Resource = &res
	case errors.Is(err, domain.ErrNotFound):
		out.LeaseError = err.Error()
	default:
		return nil, err
	}

	// 2. Отпечаток
	if req.Attributes != nil {
		obs := c.ComputeSignature(ctx, req.ClientID, *req.Attributes)
		out.Signature = &obs.Signature
		out.Matches = obs.Matches
		in.Signature = &obs.Signature
		in.Matches = obs.Matches
	}

	// 3. Валидация
	if req.Async {
		id, err := c.SubmitValidation(ctx, in)
		if err != nil {
			return nil, err
		}
		out.RecordID = id
		return out, nil
	}
	rec, err := c.Validate(ctx, in)
	if err != nil {
		return nil, err
	}
	out.RecordID = rec.ID
	out.Record = rec
	return out, nil
}

// ObserveProbe публикует каждую проверку здоровья в канал health и журнал.
func (c *Core) ObserveProbe(ctx context.Context, r domain.ProbeResult) {
	status := "healthy"
	if !r.Healthy {
		status = "unhealthy"
	}
	c.logEvent(ctx, audit.Event{
		Kind:       audit.KindProbe,
		ResourceID: r.ResourceID,
		Status:     status,
		DurationMs: r.Latency.Milliseconds(),
		Error:      r.Error,
		Timestamp:  r.CheckedAt,
	})
	if msg, err := hub.NewMessage(MsgHealthReport, ChannelHealth, r); err == nil {
		c.hub.Broadcast(ChannelHealth, msg)
	}
}
