package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/hub"
	"github.com/xela07ax/trustgate/internal/infra"
)

// Цели ретрансляции
const (
	relayChannel = "channel"
	relayAll     = "all"
	relayClient  = "client"
)

type relayEnvelope struct {
	Origin  string      `json:"origin"`
	Target  string      `json:"target"`
	Key     string      `json:"key,omitempty"` // канал или client_id
	Message hub.Message `json:"message"`
}

// Relay связывает хабы нескольких инстансов через Redis Pub/Sub.
// Сообщение доставляется локально сразу, остальные инстансы получают его из Redis.
type Relay struct {
	rdb    *redis.Client
	hub    *hub.Hub
	origin string
	logger *zap.Logger
}

func NewRelay(rdb *redis.Client, h *hub.Hub, instanceID string, logger *zap.Logger) *Relay {
	return &Relay{rdb: rdb, hub: h, origin: instanceID, logger: logger.With(zap.String("mod", "relay"))}
}

func (r *Relay) publish(ctx context.Context, env relayEnvelope) {
	if r == nil || r.rdb == nil {
		return
	}
	env.Origin = r.origin
	raw, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to encode relay message", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, infra.RedisChanHubRelay, raw).Err(); err != nil {
		// локальная доставка уже состоялась, теряем только межинстансную
		r.logger.Warn("relay publish failed", zap.String("type", env.Message.Type), zap.Error(err))
	}
}

// Listen принимает сообщения других инстансов и доставляет их в локальный хаб.
func (r *Relay) Listen(ctx context.Context) {
	ListenResilient(ctx, r.rdb, r.logger, infra.RedisChanHubRelay, nil, func(payload string) {
		if _, err := r.deliver(payload); err != nil {
			r.logger.Error("bad relay message", zap.Error(err))
		}
	})
}

// deliver возвращает число локальных доставок. Собственные сообщения пропускаются.
func (r *Relay) deliver(payload string) (int, error) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return 0, err
	}
	if env.Origin == r.origin {
		return 0, nil
	}
	switch env.Target {
	case relayChannel:
		return r.hub.Broadcast(env.Key, env.Message), nil
	case relayAll:
		return r.hub.BroadcastAll(env.Message), nil
	case relayClient:
		return r.hub.SendToClient(env.Key, env.Message), nil
	}
	return 0, fmt.Errorf("unknown relay target %q", env.Target)
}
