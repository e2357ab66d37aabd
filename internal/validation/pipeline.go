// Package validation: конвейер независимых этапов проверки с агрегированием и классификацией.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/trustgate/internal/domain"
)

const maxStageTimeout = 30 * time.Second

// Stage: независимый этап. Не видит результатов других этапов.
type Stage interface {
	Name() string
	Role() domain.StageRole
	Run(ctx context.Context, in domain.ValidationInput) (domain.StageOutput, error)
}

// CompletionHook вызывается с копией записи после финализации.
type CompletionHook func(ctx context.Context, rec *domain.ValidationRecord)

type Config struct {
	StageTimeout     time.Duration
	TotalTimeout     time.Duration
	BatchConcurrency int
	RecordTTL        time.Duration
}

type Pipeline struct {
	cfg    Config
	stages []Stage
	store  RecordStore
	logger *zap.Logger
	now    func() time.Time

	hooksMu sync.RWMutex
	hooks   []CompletionHook

	// незавершенные асинхронные прогоны
	inflight sync.WaitGroup
}

func New(cfg Config, store RecordStore, logger *zap.Logger, stages ...Stage) *Pipeline {
	if cfg.StageTimeout <= 0 || cfg.StageTimeout > maxStageTimeout {
		cfg.StageTimeout = maxStageTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 300 * time.Second
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 30 * 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryRecordStore()
	}
	return &Pipeline{
		cfg:    cfg,
		stages: stages,
		store:  store,
		logger: logger.Named("pipeline"),
		now:    time.Now,
	}
}

// OnComplete регистрирует обработчик завершения (персистентность, рассылка, метрики).
func (p *Pipeline) OnComplete(h CompletionHook) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.hooks = append(p.hooks, h)
}

func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

func (p *Pipeline) newRecord(in *domain.ValidationInput) *domain.ValidationRecord {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	return &domain.ValidationRecord{
		ID:        uuid.NewString(),
		InputID:   in.ID,
		ClientID:  in.ClientID,
		Status:    domain.StatusPending,
		CreatedAt: p.now().UTC(),
	}
}

// Validate выполняет все этапы и возвращает финализированную запись.
// Таймаут конвейера не является ошибкой вызова: запись получает статус failed.
func (p *Pipeline) Validate(ctx context.Context, in domain.ValidationInput) (*domain.ValidationRecord, error) {
	rec := p.newRecord(&in)
	if err := p.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save pending record: %w", err)
	}
	return p.execute(ctx, rec, in)
}

// Submit ставит прогон в фон и сразу возвращает id записи для опроса через Get.
func (p *Pipeline) Submit(ctx context.Context, in domain.ValidationInput) (string, error) {
	rec := p.newRecord(&in)
	if err := p.store.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save pending record: %w", err)
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		if _, err := p.execute(context.WithoutCancel(ctx), rec, in); err != nil {
			p.logger.Error("async validation failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}()
	return rec.ID, nil
}

// Get отдает копию записи.
func (p *Pipeline) Get(ctx context.Context, id string) (*domain.ValidationRecord, error) {
	return p.store.Get(ctx, id)
}

// Wait дожидается фоновых прогонов (graceful shutdown).
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

// PurgeExpired удаляет устаревшие записи из хранилища.
func (p *Pipeline) PurgeExpired(ctx context.Context) (int, error) {
	return p.store.PurgeExpired(ctx, p.now())
}

type stageDone struct {
	idx    int
	result domain.StageResult
}

func (p *Pipeline) execute(ctx context.Context, rec *domain.ValidationRecord, in domain.ValidationInput) (*domain.ValidationRecord, error) {
	if err := rec.CanTransitionTo(domain.StatusRunning); err != nil {
		return nil, err
	}
	rec.Status = domain.StatusRunning
	rec.StartedAt = p.now().UTC()
	if err := p.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save running record: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	results := make([]domain.StageResult, len(p.stages))
	finished := make([]bool, len(p.stages))
	done := make(chan stageDone, len(p.stages))

	for i, st := range p.stages {
		go func() {
			done <- stageDone{idx: i, result: p.runStage(tctx, st, in)}
		}()
	}

	var pipelineErr error
collect:
	for received := 0; received < len(p.stages); received++ {
		select {
		case d := <-done:
			results[d.idx] = d.result
			finished[d.idx] = true
		case <-tctx.Done():
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				pipelineErr = domain.ErrPipelineTimeout
			} else {
				pipelineErr = fmt.Errorf("pipeline aborted: %w", tctx.Err())
			}
			break collect
		}
	}

	if pipelineErr != nil {
		for i, st := range p.stages {
			if !finished[i] {
				results[i] = domain.StageResult{
					Stage:      st.Name(),
					Role:       st.Role(),
					Error:      domain.ErrStageTimeout.Error(),
					FinishedAt: p.now().UTC(),
				}
			}
		}
	}

	// Финальная запись и хуки переживают отмену вызывающего
	fctx := context.WithoutCancel(ctx)
	p.finalize(rec, results, pipelineErr)
	if err := p.store.Save(fctx, rec); err != nil {
		p.logger.Error("failed to save final record", zap.String("record_id", rec.ID), zap.Error(err))
	}

	out := rec.Clone()
	p.notify(fctx, out)
	return out, nil
}

func (p *Pipeline) finalize(rec *domain.ValidationRecord, results []domain.StageResult, pipelineErr error) {
	agg := Aggregate(results)
	class := Classify(results, agg)

	next := domain.StatusCompleted
	if pipelineErr != nil {
		next = domain.StatusFailed
		rec.Error = pipelineErr.Error()
	}
	if err := rec.CanTransitionTo(next); err != nil {
		p.logger.Error("illegal record transition", zap.String("record_id", rec.ID), zap.Error(err))
		return
	}

	now := p.now().UTC()
	rec.Status = next
	rec.Stages = results
	rec.AggregateConfidence = agg.Confidence
	rec.AggregateRisk = agg.Risk
	rec.ErrorRate = agg.ErrorRate
	rec.Classification = class
	rec.Recommendations = Recommend(class, results)
	rec.CompletedAt = now
	rec.ExpiresAt = now.Add(p.cfg.RecordTTL)

	if agg.Degraded() {
		p.logger.Warn("validation degraded",
			zap.String("record_id", rec.ID),
			zap.Float64("error_rate", agg.ErrorRate),
			zap.Error(domain.ErrAggregateDegraded))
	}
	p.logger.Debug("validation finished",
		zap.String("record_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.String("classification", string(class)))
}

// runStage изолирует этап: паника и таймаут становятся ошибкой только этого этапа.
func (p *Pipeline) runStage(ctx context.Context, st Stage, in domain.ValidationInput) domain.StageResult {
	start := p.now()
	res := domain.StageResult{Stage: st.Name(), Role: st.Role()}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	type outcome struct {
		out domain.StageOutput
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("stage panicked", zap.String("stage", st.Name()), zap.Any("panic", rec))
				ch <- outcome{err: fmt.Errorf("stage panic: %v", rec)}
			}
		}()
		out, err := st.Run(sctx, in)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				o.err = fmt.Errorf("%w: %v", domain.ErrStageTimeout, o.err)
			}
			res.Error = o.err.Error()
			p.logger.Warn("stage failed", zap.String("stage", st.Name()), zap.Error(o.err))
		} else {
			res.Output = o.out
		}
	case <-sctx.Done():
		res.Error = domain.ErrStageTimeout.Error()
		p.logger.Warn("stage timed out", zap.String("stage", st.Name()), zap.Duration("timeout", p.cfg.StageTimeout))
	}

	res.Duration = p.now().Sub(start)
	res.FinishedAt = p.now().UTC()
	return res
}

func (p *Pipeline) notify(ctx context.Context, rec *domain.ValidationRecord) {
	p.hooksMu.RLock()
	hooks := append([]CompletionHook(nil), p.hooks...)
	p.hooksMu.RUnlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("completion hook panicked", zap.Any("panic", r))
				}
			}()
			h(ctx, rec.Clone())
		}()
	}
}

// BatchItem: результат одного входа пакета.
type BatchItem struct {
	Index  int                      `json:"index"`
	Record *domain.ValidationRecord `json:"record,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// BatchValidate проверяет входы параллельно. Ошибка одного входа не прерывает остальные.
func (p *Pipeline) BatchValidate(ctx context.Context, inputs []domain.ValidationInput) []BatchItem {
	items := make([]BatchItem, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.BatchConcurrency)

	for i, in := range inputs {
		g.Go(func() error {
			items[i].Index = i
			rec, err := p.Validate(gctx, in)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Record = rec
			return nil
		})
	}
	_ = g.Wait()
	return items
}
