package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/health"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/pool"
)

// ResourceSource: источник истины о ресурсах (таблица resources).
type ResourceSource interface {
	ListResources(ctx context.Context) ([]domain.PooledResource, error)
	GetResource(ctx context.Context, id string) (domain.PooledResource, error)
}

// HealthTrigger: ручной запуск проверки здоровья.
type HealthTrigger interface {
	Trigger(ctx context.Context) health.Report
}

// Операции сигнала синхронизации: "upsert:<id>" | "delete:<id>"
const (
	SyncUpsert = "upsert"
	SyncDelete = "delete"
)

// ResourceControl — Control Plane шлюза, держит пул в согласии с БД и
// применяет сигналы консоли (включение/выключение, изменения, "run now").
type ResourceControl struct {
	pool    *pool.Pool
	repo    ResourceSource
	rdb     *redis.Client
	trigger HealthTrigger
	journal audit.Logger
	logger  *zap.Logger
}

func NewResourceControl(p *pool.Pool, repo ResourceSource, rdb *redis.Client, trigger HealthTrigger, journal audit.Logger, logger *zap.Logger) *ResourceControl {
	return &ResourceControl{
		pool:    p,
		repo:    repo,
		rdb:     rdb,
		trigger: trigger,
		journal: journal,
		logger:  logger.With(zap.String("mod", "control")),
	}
}

// Init загружает ресурсы из БД в пул и прогревает множество выключенных ресурсов в Redis.
// Ресурсы, которых больше нет в БД, убираются из пула.
func (rc *ResourceControl) Init(ctx context.Context) error {
	list, err := rc.repo.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch resources from DB: %w", err)
	}

	known := make(map[string]struct{}, len(list))
	var disabled []string
	for _, res := range list {
		id := res.ID()
		known[id] = struct{}{}
		if _, exists := rc.pool.Get(id); !exists {
			// до первой проверки считаем ресурс живым
			res.Healthy = true
		}
		rc.pool.Add(res)
		if !res.Active {
			disabled = append(disabled, id)
		}
	}
	for _, res := range rc.pool.Snapshot() {
		if _, ok := known[res.ID()]; !ok {
			rc.pool.Remove(res.ID())
		}
	}
	rc.logger.Info("resources loaded", zap.Int("total", len(list)), zap.Int("disabled", len(disabled)))

	apply := func(ids []string) {
		for _, id := range ids {
			rc.pool.SetActive(id, false)
		}
	}
	if rc.rdb == nil {
		apply(disabled)
		return nil
	}
	return WarmupState(ctx, rc.rdb, rc.logger, disabled, infra.RedisKeyDisabledResources, infra.RedisKeyLockWarmupDisable, apply)
}

// SetActive: обработка сигнала "host:port:on|off".
func (rc *ResourceControl) SetActive(id string, active bool) {
	if !rc.pool.SetActive(id, active) {
		rc.logger.Warn("state signal for unknown resource", zap.String("resource_id", id))
		return
	}
	rc.logger.Info("resource state changed", zap.String("resource_id", id), zap.Bool("active", active))
	rc.log(id, "active", map[string]any{"active": active})
}

// ApplySync: обработка сигнала "upsert:<id>" | "delete:<id>".
func (rc *ResourceControl) ApplySync(ctx context.Context, payload string) error {
	op, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return fmt.Errorf("%w: sync signal %q", domain.ErrInvalidInput, payload)
	}

	switch op {
	case SyncUpsert:
		res, err := rc.repo.GetResource(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// успели удалить между сигналом и чтением
			rc.pool.Remove(id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load resource %s: %w", id, err)
		}
		if _, exists := rc.pool.Get(id); !exists {
			res.Healthy = true
		}
		rc.pool.Add(res)
		rc.log(id, SyncUpsert, nil)
	case SyncDelete:
		rc.pool.Remove(id)
		rc.log(id, SyncDelete, nil)
	default:
		return fmt.Errorf("%w: unknown sync op %q", domain.ErrInvalidInput, op)
	}
	return nil
}

// ListenState подписывается на включение/выключение ресурсов.
func (rc *ResourceControl) ListenState(ctx context.Context) {
	ListenStateResilient(ctx, rc.rdb, rc.logger, infra.RedisChanResourceState,
		func() error { return rc.Init(ctx) }, // Переподключение: могли пропустить сигналы
		rc.SetActive,
	)
}

// ListenSync подписывается на изменения списка ресурсов.
func (rc *ResourceControl) ListenSync(ctx context.Context) {
	ListenResilient(ctx, rc.rdb, rc.logger, infra.RedisChanResourceSync, nil, func(payload string) {
		if err := rc.ApplySync(ctx, payload); err != nil {
			rc.logger.Error("sync signal failed", zap.String("payload", payload), zap.Error(err))
		}
	})
}

// ListenHealthRun выполняет ручной запуск проверки ("run now") с консоли.
func (rc *ResourceControl) ListenHealthRun(ctx context.Context) {
	ListenResilient(ctx, rc.rdb, rc.logger, infra.RedisChanHealthRun, nil, func(string) {
		if rc.trigger == nil {
			return
		}
		rep := rc.trigger.Trigger(ctx)
		rc.logger.Info("manual health check finished",
			zap.Int("checked", rep.Checked), zap.Int("unhealthy", rep.Unhealthy), zap.Duration("took", rep.Duration))
	})
}

func (rc *ResourceControl) log(id, status string, details map[string]any) {
	if rc.journal == nil {
		return
	}
	rc.journal.Log(audit.Event{Kind: audit.KindControl, ResourceID: id, Status: status, Details: details})
}
