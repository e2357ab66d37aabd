// Package health: фоновая проверка живости ресурсов пула.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Target: то, что проверяем (пул ресурсов).
type Target interface {
	Snapshot() []domain.PooledResource
	RecordProbe(id string, healthy bool, latency time.Duration) bool
}

// ResultSink получает каждый результат (журнал здоровья, метрики). Может быть nil.
type ResultSink interface {
	ObserveProbe(ctx context.Context, r domain.ProbeResult)
}

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

// Report: итог одного прохода.
type Report struct {
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Checked   int                  `json:"checked"`
	Healthy   int                  `json:"healthy"`
	Unhealthy int                  `json:"unhealthy"`
	Results   []domain.ProbeResult `json:"results"`
}

type Monitor struct {
	cfg    Config
	target Target
	prober Prober
	sink   ResultSink
	logger *zap.Logger

	trigger chan chan Report
	// run гарантирует, что два прохода не идут одновременно
	run sync.Mutex
}

func NewMonitor(cfg Config, target Target, prober Prober, sink ResultSink, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &Monitor{
		cfg:     cfg,
		target:  target,
		prober:  prober,
		sink:    sink,
		logger:  logger.Named("health"),
		trigger: make(chan chan Report),
	}
}

// Run: плановый цикл. Кроме тикера слушает ручные запуски через Trigger.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping by context...")
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		case reply := <-m.trigger:
			reply <- m.CheckNow(ctx)
		}
	}
}

// Trigger просит работающий Run выполнить проход немедленно и ждет отчет.
// Если цикл не запущен, проход выполняется в вызывающей горутине.
func (m *Monitor) Trigger(ctx context.Context) Report {
	reply := make(chan Report, 1)
	select {
	case m.trigger <- reply:
	case <-ctx.Done():
		return Report{}
	default:
		return m.CheckNow(ctx)
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return Report{}
	}
}

// CheckNow проверяет все ресурсы параллельно. Сбой одной проверки не прерывает остальные.
func (m *Monitor) CheckNow(ctx context.Context) Report {
	m.run.Lock()
	defer m.run.Unlock()

	resources := m.target.Snapshot()
	report := Report{StartedAt: time.Now(), Results: make([]domain.ProbeResult, len(resources))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, res := range resources {
		g.Go(func() error {
			report.Results[i] = m.checkOne(gctx, res)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range report.Results {
		report.Checked++
		if r.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
	}
	report.Duration = time.Since(report.StartedAt)

	m.logger.Info("health check finished",
		zap.Int("checked", report.Checked),
		zap.Int("healthy", report.Healthy),
		zap.Int("unhealthy", report.Unhealthy),
		zap.Duration("took", report.Duration))
	return report
}

func (m *Monitor) checkOne(ctx context.Context, res domain.PooledResource) (result domain.ProbeResult) {
	id := res.ID()
	result = domain.ProbeResult{ResourceID: id, CheckedAt: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			result.Healthy = false
			result.Latency = 0
			result.Error = fmt.Sprintf("probe panic: %v", rec)
			m.logger.Error("probe panicked", zap.String("resource_id", id), zap.Any("panic", rec))
		}
		m.target.RecordProbe(id, result.Healthy, result.Latency)
		if m.sink != nil {
			m.sink.ObserveProbe(ctx, result)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	latency, err := m.prober.Probe(pctx, res)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrProbeTimeout, err)
		}
		result.Error = err.Error()
		m.logger.Warn("resource probe failed", zap.String("resource_id", id), zap.Error(err))
		return result
	}
	result.Healthy = true
	result.Latency = latency
	return result
}
