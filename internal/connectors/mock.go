package connectors

import (
	"context"
	"hash/fnv"
	"math/rand/v2" // Используем v2 для Go 1.25
	"strings"
	"time"

	"github.com/xela07ax/trustgate/internal/risk"
)

// MockReputation: локальная заглушка сервиса репутации для dev-окружения (lookup.url пуст).
// Ответ детерминирован по субъекту, задержка случайна.
type MockReputation struct {
	// MaxLatency: верхняя граница имитируемой задержки, 0, без задержки
	MaxLatency time.Duration
}

func (c *MockReputation) Lookup(ctx context.Context, subject string) (risk.Reputation, error) {
	if c.MaxLatency > 0 {
		latency := time.Duration(rand.Int64N(int64(c.MaxLatency)))
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return risk.Reputation{}, ctx.Err()
		}
	}

	s := strings.ToLower(strings.TrimSpace(subject))
	switch {
	case strings.HasPrefix(s, "throttle"):
		return risk.Reputation{}, &ThrottleError{RetryAfter: 10 * time.Millisecond, Cause: ErrUpstreamUnavailable}
	case strings.HasPrefix(s, "blocked"), strings.HasSuffix(s, "@spam.test"):
		return risk.Reputation{Score: 1, Listed: true, Categories: []string{"abuse"}}, nil
	}

	// Стабильный "шум" 0..0.3 для остальных
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return risk.Reputation{Score: float64(h.Sum32()%30) / 100}, nil
}
