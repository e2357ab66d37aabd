package pool

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

func newTestPool() *Pool {
	return New(Config{SessionCap: 10, FailureThreshold: 3}, zap.NewNop())
}

func res(host string, port int, region string) domain.PooledResource {
	return domain.PooledResource{Host: host, Port: port, Protocol: domain.ProtocolHTTP, Region: region, Active: true, Healthy: true}
}

func TestAddIsIdempotent(t *testing.T) {
	p := newTestPool()
	require.True(t, p.Add(res("10.0.0.1", 8080, "eu")))

	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)

	// Повторное добавление не сбрасывает счетчик аренд
	require.False(t, p.Add(res("10.0.0.1", 8080, "us")))
	r, ok := p.Get("10.0.0.1:8080")
	require.True(t, ok)
	assert.Equal(t, 1, r.ActiveLeases)
	assert.Equal(t, "us", r.Region)

	_, err = p.LeaseFor("c2", domain.LeaseFilter{Region: "us"})
	require.NoError(t, err)
	_, err = p.LeaseFor("c3", domain.LeaseFilter{Region: "eu"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReAddTakesActiveFromRegistry(t *testing.T) {
	p := newTestPool()
	require.True(t, p.Add(res("10.0.0.1", 8080, "eu")))
	require.True(t, p.MarkSuccess("10.0.0.1:8080", 40*time.Millisecond))

	off := res("10.0.0.1", 8080, "eu")
	off.Active = false
	require.False(t, p.Add(off))
	r, _ := p.Get("10.0.0.1:8080")
	assert.False(t, r.Active)
	assert.True(t, r.Healthy)
	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.False(t, p.Add(res("10.0.0.1", 8080, "eu")))
	r, _ = p.Get("10.0.0.1:8080")
	assert.True(t, r.Active)
	assert.Greater(t, r.AvgLatencyMs, 0.0)
}

func TestRemoveUnknownReturnsFalse(t *testing.T) {
	p := newTestPool()
	assert.False(t, p.Remove("nope:1"))

	p.Add(res("10.0.0.1", 1080, ""))
	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	assert.True(t, p.Remove("10.0.0.1:1080"))
	_, ok := p.LeaseOf("c1")
	assert.False(t, ok, "lease must be dropped with its resource")
	assert.False(t, p.Release("c1"))
}

func TestLeaseSkipsDisabledResource(t *testing.T) {
	p := newTestPool()
	r1 := res("r1", 1, "")
	r2 := res("r2", 2, "")
	r2.Healthy = false
	p.Add(r1)
	p.Add(r2)

	got, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "r1:1", got.ID())

	// Лимит R1 еще не исчерпан — второй клиент получает тот же ресурс
	got, err = p.LeaseFor("c2", domain.LeaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "r1:1", got.ID())
}

func TestLeaseRespectsSessionCap(t *testing.T) {
	p := newTestPool()
	r := res("r1", 1, "")
	r.MaxSessions = 2
	p.Add(r)

	for i := 0; i < 2; i++ {
		_, err := p.LeaseFor(fmt.Sprintf("c%d", i), domain.LeaseFilter{})
		require.NoError(t, err)
	}
	_, err := p.LeaseFor("c-extra", domain.LeaseFilter{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.True(t, p.Release("c0"))
	_, err = p.LeaseFor("c-extra", domain.LeaseFilter{})
	assert.NoError(t, err)
}

func TestOneLeasePerClient(t *testing.T) {
	p := newTestPool()
	p.Add(res("r1", 1, ""))
	p.Add(res("r2", 2, ""))

	first, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	second, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	st := p.Stats()
	assert.Equal(t, 1, st.ActiveLeases)
}

func TestLeaseMovesAwayFromUnhealthyResource(t *testing.T) {
	p := newTestPool()
	p.Add(res("r1", 1, ""))
	first, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)

	p.Add(res("r2", 2, ""))
	p.RecordProbe(first.ID(), false, 0)

	second, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "r2:2", second.ID())

	old, _ := p.Get(first.ID())
	assert.Equal(t, 0, old.ActiveLeases)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	p := newTestPool()
	p.Add(res("r1", 1, ""))
	assert.False(t, p.Release("ghost"))

	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	// Ресурс переподключили с нуля — счетчик не уходит в минус
	p.Remove("r1:1")
	p.Add(res("r1", 1, ""))
	assert.False(t, p.Release("c1"))
	r, _ := p.Get("r1:1")
	assert.Equal(t, 0, r.ActiveLeases)
}

func TestFailureThresholdDisablesResource(t *testing.T) {
	p := newTestPool()
	p.Add(res("r1", 1, ""))

	p.MarkFailure("r1:1")
	p.MarkFailure("r1:1")
	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.NoError(t, err)
	p.Release("c1")

	p.MarkFailure("r1:1")
	r, _ := p.Get("r1:1")
	assert.False(t, r.Healthy)
	_, err = p.LeaseFor("c1", domain.LeaseFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Успешный запрос сам по себе не возвращает ресурс в работу
	p.MarkSuccess("r1:1", 0)
	_, err = p.LeaseFor("c1", domain.LeaseFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Восстанавливает только проверка здоровья
	p.RecordProbe("r1:1", true, 20*time.Millisecond)
	_, err = p.LeaseFor("c1", domain.LeaseFilter{})
	assert.NoError(t, err)
}

func TestSuccessResetsFailuresAndBlendsLatency(t *testing.T) {
	p := newTestPool()
	p.Add(res("r1", 1, ""))

	p.MarkFailure("r1:1")
	p.MarkFailure("r1:1")
	p.MarkSuccess("r1:1", 100*time.Millisecond)
	p.MarkSuccess("r1:1", 200*time.Millisecond)

	r, _ := p.Get("r1:1")
	assert.Equal(t, 0, r.FailureCount)
	assert.InDelta(t, 150.0, r.AvgLatencyMs, 0.001)
	assert.False(t, p.MarkSuccess("unknown:1", time.Millisecond))
}

func TestRegionFilter(t *testing.T) {
	p := newTestPool()
	p.Add(res("eu1", 1, "EU"))
	p.Add(res("us1", 1, "us"))

	got, err := p.LeaseFor("c1", domain.LeaseFilter{Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "eu1:1", got.ID())

	_, err = p.LeaseFor("c2", domain.LeaseFilter{Region: "ap"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = p.LeaseFor("c3", domain.LeaseFilter{Protocol: domain.ProtocolSOCKS5})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSelectionIsSpreadAcrossEligible(t *testing.T) {
	p := New(Config{SessionCap: 1000, FailureThreshold: 3}, zap.NewNop())
	p.Add(res("r1", 1, ""))
	p.Add(res("r2", 2, ""))

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		r, err := p.LeaseFor(fmt.Sprintf("c%d", i), domain.LeaseFilter{})
		require.NoError(t, err)
		seen[r.ID()]++
	}
	assert.Len(t, seen, 2)
	assert.Greater(t, seen["r1:1"], 40)
	assert.Greater(t, seen["r2:2"], 40)
}

func TestConcurrentLeasesNeverExceedCap(t *testing.T) {
	p := newTestPool()
	for i := 0; i < 3; i++ {
		p.Add(res(fmt.Sprintf("r%d", i), 1, ""))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.LeaseFor(fmt.Sprintf("c%d", i), domain.LeaseFilter{}); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, granted)
	for _, r := range p.Snapshot() {
		assert.LessOrEqual(t, r.ActiveLeases, r.MaxSessions)
	}

	for i := 0; i < 100; i++ {
		p.Release(fmt.Sprintf("c%d", i))
	}
	assert.Equal(t, 0, p.Stats().ActiveLeases)
}
