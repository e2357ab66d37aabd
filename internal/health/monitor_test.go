package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/pool"
)

type scriptedProber struct {
	behaviour map[string]string // id -> ok|fail|panic|hang
}

func (p *scriptedProber) Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error) {
	switch p.behaviour[res.ID()] {
	case "ok":
		return 15 * time.Millisecond, nil
	case "panic":
		panic("boom")
	case "hang":
		<-ctx.Done()
		return 0, ctx.Err()
	default:
		return 0, errors.New("connection refused")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	results []domain.ProbeResult
}

func (s *recordingSink) ObserveProbe(_ context.Context, r domain.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func newPool(ids ...string) *pool.Pool {
	p := pool.New(pool.Config{SessionCap: 10, FailureThreshold: 3}, zap.NewNop())
	for _, id := range ids {
		host, port, _ := domain.ParseResourceID(id)
		p.Add(domain.PooledResource{Host: host, Port: port, Active: true, Healthy: true})
	}
	return p
}

func TestCheckNowIsolatesFailures(t *testing.T) {
	p := newPool("a:1", "b:2", "c:3", "d:4")
	prober := &scriptedProber{behaviour: map[string]string{
		"a:1": "ok",
		"b:2": "fail",
		"c:3": "panic",
		"d:4": "hang",
	}}
	sink := &recordingSink{}
	m := NewMonitor(Config{Timeout: 50 * time.Millisecond, Concurrency: 2}, p, prober, sink, zap.NewNop())

	report := m.CheckNow(context.Background())

	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Healthy)
	assert.Equal(t, 3, report.Unhealthy)
	assert.Len(t, sink.results, 4)

	byID := map[string]domain.ProbeResult{}
	for _, r := range report.Results {
		byID[r.ResourceID] = r
	}
	assert.Contains(t, byID["c:3"].Error, "panic")
	assert.Contains(t, byID["d:4"].Error, domain.ErrProbeTimeout.Error())

	a, _ := p.Get("a:1")
	assert.True(t, a.Healthy)
	assert.InDelta(t, 15.0, a.AvgLatencyMs, 0.001)
	b, _ := p.Get("b:2")
	assert.False(t, b.Healthy)
	assert.Equal(t, 0, b.FailureCount, "probe failures do not feed the request failure counter")
}

func TestProbeRestoresDisabledResource(t *testing.T) {
	p := newPool("a:1")
	for i := 0; i < 3; i++ {
		p.MarkFailure("a:1")
	}
	_, err := p.LeaseFor("c1", domain.LeaseFilter{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	m := NewMonitor(Config{Timeout: time.Second}, p, &scriptedProber{behaviour: map[string]string{"a:1": "ok"}}, nil, zap.NewNop())
	m.CheckNow(context.Background())

	_, err = p.LeaseFor("c1", domain.LeaseFilter{})
	assert.NoError(t, err)
}

func TestTriggerWhileRunning(t *testing.T) {
	p := newPool("a:1")
	m := NewMonitor(Config{Interval: time.Hour, Timeout: time.Second}, p, &scriptedProber{behaviour: map[string]string{"a:1": "ok"}}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	report := m.Trigger(context.Background())
	assert.Equal(t, 1, report.Checked)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	host, port, ok := domain.ParseResourceID(ln.Addr().String())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = (&TCPProber{}).Probe(ctx, domain.PooledResource{Host: host, Port: port})
	assert.NoError(t, err)
}

func TestHTTPConnectProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 1024)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
	}()

	host, port, _ := domain.ParseResourceID(ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	prober := NewProtocolProber("example.com:443")
	_, err = prober.Probe(ctx, domain.PooledResource{Host: host, Port: port, Protocol: domain.ProtocolHTTP})
	assert.NoError(t, err)
}
