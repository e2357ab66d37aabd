package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WarmupState прогревает L1 (RAM) и сверяет L2 (Redis set) с источником истины (БД).
// Set в Redis перезаписывается целиком в одной транзакции: читатели не видят промежуточного состояния.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string), // Callback для обновления локального состояния
) error {
	// 1. Локальное состояние обновляем всегда, даже без Redis
	updateL1(ids)

	// 2. Распределенная блокировка (SetNX), чтобы только один инстанс переписывал Redis
	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)

	members, err := rdb.SMembers(ctx, redisKey).Result()
	if err != nil {
		logger.Warn("could not read Redis set, rewriting it", zap.String("key", redisKey), zap.Error(err))
	}
	if sameSet(members, ids) {
		return nil
	}

	logger.Info("Redis state differs from DB, performing warm-up",
		zap.String("key", redisKey), zap.Int("redis", len(members)), zap.Int("db", len(ids)))

	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		if len(ids) > 0 {
			args := make([]interface{}, len(ids))
			for i, id := range ids {
				args[i] = id
			}
			pipe.SAdd(ctx, redisKey, args...)
		}
		return nil
	})
	return err
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return true
}
