package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/trustgate/internal/connectors"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/risk"
)

const callTimeout = 10 * time.Second

// ReliabilityWrapper: Rate Limit → Circuit Breaker → Retry вокруг внешнего источника репутации.
type ReliabilityWrapper struct {
	next    risk.Lookuper
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
}

func NewReliabilityWrapper(next risk.Lookuper, cfg infra.LookupConfig, metrics *Metrics) *ReliabilityWrapper {
	w := &ReliabilityWrapper{next: next, metrics: metrics}

	// Настройка предохранителя
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reputation-lookup",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд: открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if w.metrics == nil {
				return
			}
			state := 0.0
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 0.5
			}
			w.metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	rps, burst := cfg.RPS, cfg.Burst
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 20
	}
	w.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return w
}

func (w *ReliabilityWrapper) Lookup(ctx context.Context, subject string) (risk.Reputation, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return risk.Reputation{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var rep risk.Reputation
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Апстрим сам сказал, сколько ждать (Retry-After)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка): стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			var callErr error
			rep, callErr = w.next.Lookup(tCtx, subject)
			return callErr
		})

		return rep, retryErr
	})

	if err != nil {
		return risk.Reputation{}, err
	}
	return res.(risk.Reputation), nil
}
