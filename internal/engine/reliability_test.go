package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/trustgate/internal/connectors"
	"github.com/xela07ax/trustgate/internal/infra"
	"github.com/xela07ax/trustgate/internal/risk"
)

type flakyLookup struct {
	calls atomic.Int32
	fails int32
	err   error
}

func (f *flakyLookup) Lookup(context.Context, string) (risk.Reputation, error) {
	if f.calls.Add(1) <= f.fails {
		return risk.Reputation{}, f.err
	}
	return risk.Reputation{Score: 0.1}, nil
}

func testLookupConfig() infra.LookupConfig {
	return infra.LookupConfig{RPS: 1000, Burst: 100, CBMaxRequests: 1, CBInterval: time.Minute, CBTimeout: time.Minute}
}

func TestReliabilityRetriesThrottled(t *testing.T) {
	next := &flakyLookup{fails: 2, err: &connectors.ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("429")}}
	w := NewReliabilityWrapper(next, testLookupConfig(), NewMetrics(nil))

	start := time.Now()
	rep, err := w.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rep.Score, 1e-9)
	assert.Equal(t, int32(3), next.calls.Load())
	// задержка взята из Retry-After, а не из экспоненциального бэкоффа
	assert.Less(t, time.Since(start), time.Second)
}

func TestReliabilityGivesUp(t *testing.T) {
	next := &flakyLookup{fails: 100, err: &connectors.ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("503")}}
	w := NewReliabilityWrapper(next, testLookupConfig(), nil)

	_, err := w.Lookup(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestReliabilityOpensBreaker(t *testing.T) {
	next := &flakyLookup{fails: 1000, err: &connectors.ThrottleError{RetryAfter: 0, Cause: errors.New("down")}}
	w := NewReliabilityWrapper(next, testLookupConfig(), NewMetrics(nil))

	// 6 провалов подряд открывают предохранитель
	for i := 0; i < 6; i++ {
		_, _ = w.Lookup(context.Background(), "alice")
	}
	calls := next.calls.Load()
	_, err := w.Lookup(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, calls, next.calls.Load(), "open breaker must not reach the upstream")
}
