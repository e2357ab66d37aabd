package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/health"
)

// HealthLog — журнал проверок здоровья (таблица resource_health).
type HealthLog interface {
	InsertProbe(ctx context.Context, r domain.ProbeResult) error
}

// ProbeFanout раздает результат проверки нескольким получателям.
// Ошибка или паника одного получателя не мешает остальным.
type ProbeFanout struct {
	sinks  []health.ResultSink
	logger *zap.Logger
}

func NewProbeFanout(logger *zap.Logger, sinks ...health.ResultSink) *ProbeFanout {
	return &ProbeFanout{sinks: sinks, logger: logger.Named("probe-fanout")}
}

func (f *ProbeFanout) ObserveProbe(ctx context.Context, r domain.ProbeResult) {
	for _, s := range f.sinks {
		f.observe(ctx, s, r)
	}
}

func (f *ProbeFanout) observe(ctx context.Context, s health.ResultSink, r domain.ProbeResult) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("probe sink panicked", zap.String("resource_id", r.ResourceID), zap.Any("panic", p))
		}
	}()
	s.ObserveProbe(ctx, r)
}

// HealthLogSink пишет результаты проверок в БД.
type HealthLogSink struct {
	repo   HealthLog
	logger *zap.Logger
}

func NewHealthLogSink(repo HealthLog, logger *zap.Logger) *HealthLogSink {
	return &HealthLogSink{repo: repo, logger: logger.Named("health-log")}
}

func (s *HealthLogSink) ObserveProbe(ctx context.Context, r domain.ProbeResult) {
	if err := s.repo.InsertProbe(ctx, r); err != nil {
		s.logger.Warn("failed to persist probe result", zap.String("resource_id", r.ResourceID), zap.Error(err))
	}
}
