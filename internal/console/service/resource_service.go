package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra"
)

// Операции канала синхронизации; шлюз разбирает "op:host:port".
const (
	syncUpsert = "upsert"
	syncDelete = "delete"
)

// ResourceRepository описывает реестр ресурсов в Postgres
type ResourceRepository interface {
	ListResources(ctx context.Context) ([]domain.PooledResource, error)
	GetResource(ctx context.Context, id string) (domain.PooledResource, error)
	UpsertResource(ctx context.Context, res domain.PooledResource) (domain.PooledResource, error)
	DeleteResource(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ResourceService — управление пулом из консоли: БД как источник правды и сигналы в Redis
// для всех инстансов шлюза.
type ResourceService struct {
	repo   ResourceRepository
	rdb    redis.Cmdable
	logger *zap.Logger
}

func NewResourceService(rdb redis.Cmdable, repo ResourceRepository, logger *zap.Logger) *ResourceService {
	return &ResourceService{repo: repo, rdb: rdb, logger: logger.Named("resource-service")}
}

func (s *ResourceService) List(ctx context.Context) ([]domain.PooledResource, error) {
	list, err := s.repo.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: could not fetch resources: %w", err)
	}
	// фронтенд получает [], а не null
	if list == nil {
		return []domain.PooledResource{}, nil
	}
	return list, nil
}

func (s *ResourceService) Get(ctx context.Context, id string) (domain.PooledResource, error) {
	return s.repo.GetResource(ctx, id)
}

func validateResource(res domain.PooledResource) error {
	if strings.TrimSpace(res.Host) == "" {
		return fmt.Errorf("%w: host is required", domain.ErrInvalidInput)
	}
	if res.Port <= 0 || res.Port > 65535 {
		return fmt.Errorf("%w: port out of range", domain.ErrInvalidInput)
	}
	switch res.Protocol {
	case domain.ProtocolHTTP, domain.ProtocolSOCKS5, domain.ProtocolTCP:
	default:
		return fmt.Errorf("%w: unknown protocol %q", domain.ErrInvalidInput, res.Protocol)
	}
	if res.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must be >= 0", domain.ErrInvalidInput)
	}
	return nil
}

// Save создает или обновляет ресурс и просит шлюзы перечитать его.
func (s *ResourceService) Save(ctx context.Context, res domain.PooledResource) (domain.PooledResource, error) {
	res.Host = strings.ToLower(strings.TrimSpace(res.Host))
	if res.Protocol == "" {
		res.Protocol = domain.ProtocolHTTP
	}
	if err := validateResource(res); err != nil {
		return domain.PooledResource{}, err
	}
	saved, err := s.repo.UpsertResource(ctx, res)
	if err != nil {
		s.logger.Error("failed to save resource", zap.String("id", res.ID()), zap.Error(err))
		return domain.PooledResource{}, err
	}
	s.syncDisabledSet(ctx, saved.ID(), saved.Active)
	s.signal(ctx, infra.RedisChanResourceSync, syncUpsert+":"+saved.ID(), "resource-upsert")
	return saved, nil
}

func (s *ResourceService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteResource(ctx, id); err != nil {
		return err
	}
	if err := s.rdb.SRem(ctx, infra.RedisKeyDisabledResources, id).Err(); err != nil {
		s.logger.Warn("failed to clean disabled set", zap.String("id", id), zap.Error(err))
	}
	s.signal(ctx, infra.RedisChanResourceSync, syncDelete+":"+id, "resource-delete")
	return nil
}

// SetActive — мгновенное включение/выключение ресурса во всех инстансах.
func (s *ResourceService) SetActive(ctx context.Context, id string, active bool) error {
	// 1. Persistence Layer
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		s.logger.Error("failed to update resource state in DB", zap.String("id", id), zap.Bool("active", active), zap.Error(err))
		return err
	}
	// 2. L2 для холодного старта шлюзов
	s.syncDisabledSet(ctx, id, active)

	// 3. Real-time Signaling
	val := "off"
	if active {
		val = "on"
	}
	s.signal(ctx, infra.RedisChanResourceState, fmt.Sprintf("%s:%s", id, val), "resource-state")
	return nil
}

// RunHealthCheck просит шлюзы выполнить внеочередную проверку здоровья.
func (s *ResourceService) RunHealthCheck(ctx context.Context) error {
	if err := s.rdb.Publish(ctx, infra.RedisChanHealthRun, "run").Err(); err != nil {
		return fmt.Errorf("redis signal failure: %w", err)
	}
	s.logger.Info("health run requested")
	return nil
}

func (s *ResourceService) syncDisabledSet(ctx context.Context, id string, active bool) {
	var err error
	if active {
		err = s.rdb.SRem(ctx, infra.RedisKeyDisabledResources, id).Err()
	} else {
		err = s.rdb.SAdd(ctx, infra.RedisKeyDisabledResources, id).Err()
	}
	if err != nil {
		s.logger.Warn("failed to update disabled set", zap.String("id", id), zap.Error(err))
	}
}

// signal не считается ошибкой операции: шлюзы догонят состояние при следующем прогреве.
func (s *ResourceService) signal(ctx context.Context, channel, payload, action string) {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("action", action),
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	s.logger.Info("resource signal sent", zap.String("action", action), zap.String("payload", payload))
}
