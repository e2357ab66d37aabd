package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra"
)

// Store — ограниченная история отпечатков. Списки возвращаются от старых к новым.
type Store interface {
	Append(ctx context.Context, sig domain.Signature) error
	History(ctx context.Context, clientKey string) ([]domain.Signature, error)
	Recent(ctx context.Context) ([]domain.Signature, error)
}

// MemoryStore — история в RAM: на клиента не больше historyCap, плюс общее кольцо последних.
type MemoryStore struct {
	mu         sync.RWMutex
	historyCap int
	recentCap  int
	byClient   map[string][]domain.Signature
	recent     []domain.Signature
}

func NewMemoryStore(historyCap, recentCap int) *MemoryStore {
	if historyCap <= 0 {
		historyCap = 10
	}
	if recentCap <= 0 {
		recentCap = 1000
	}
	return &MemoryStore{
		historyCap: historyCap,
		recentCap:  recentCap,
		byClient:   make(map[string][]domain.Signature),
	}
}

func (s *MemoryStore) Append(_ context.Context, sig domain.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.byClient[sig.ClientKey], sig)
	if over := len(h) - s.historyCap; over > 0 {
		h = slices.Clone(h[over:])
	}
	s.byClient[sig.ClientKey] = h

	s.recent = append(s.recent, sig)
	if over := len(s.recent) - s.recentCap; over > 0 {
		s.recent = slices.Clone(s.recent[over:])
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, clientKey string) ([]domain.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byClient[clientKey]), nil
}

func (s *MemoryStore) Recent(_ context.Context) ([]domain.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.recent), nil
}

// RedisStore хранит историю в списках Redis (LPUSH + LTRIM) с TTL.
type RedisStore struct {
	rdb        redis.Cmdable
	historyCap int
	recentCap  int
	ttl        time.Duration
}

func NewRedisStore(rdb redis.Cmdable, historyCap, recentCap int, ttl time.Duration) *RedisStore {
	if historyCap <= 0 {
		historyCap = 10
	}
	if recentCap <= 0 {
		recentCap = 1000
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, historyCap: historyCap, recentCap: recentCap, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, sig domain.Signature) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	key := infra.SignatureHistoryKey(sig.ClientKey)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, int64(s.historyCap-1))
		pipe.Expire(ctx, key, s.ttl)
		pipe.LPush(ctx, infra.RedisKeySignatureRecent, raw)
		pipe.LTrim(ctx, infra.RedisKeySignatureRecent, 0, int64(s.recentCap-1))
		pipe.Expire(ctx, infra.RedisKeySignatureRecent, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append signature: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, clientKey string) ([]domain.Signature, error) {
	return s.load(ctx, infra.SignatureHistoryKey(clientKey), s.historyCap)
}

func (s *RedisStore) Recent(ctx context.Context) ([]domain.Signature, error) {
	return s.load(ctx, infra.RedisKeySignatureRecent, s.recentCap)
}

func (s *RedisStore) load(ctx context.Context, key string, limit int) ([]domain.Signature, error) {
	items, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	out := make([]domain.Signature, 0, len(items))
	// LPUSH кладет новые в голову, разворачиваем к порядку вставки
	for i := len(items) - 1; i >= 0; i-- {
		var sig domain.Signature
		if err := json.Unmarshal([]byte(items[i]), &sig); err != nil {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}
