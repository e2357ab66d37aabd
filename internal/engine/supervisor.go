package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	restartBackoffMin = time.Second
	restartBackoffMax = 30 * time.Second
)

// Supervisor запускает фоновые задачи и перезапускает их после паники
// или преждевременного выхода. Все задачи останавливаются одной отменой контекста.
type Supervisor struct {
	logger     *zap.Logger
	wg         sync.WaitGroup
	backoffMin time.Duration
	backoffMax time.Duration
}

func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		logger:     logger.Named("supervisor"),
		backoffMin: restartBackoffMin,
		backoffMax: restartBackoffMax,
	}
}

// Go запускает задачу. task должна возвращаться только после отмены ctx.
func (s *Supervisor) Go(ctx context.Context, name string, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := s.backoffMin
		for {
			err := s.runOnce(ctx, task)
			if ctx.Err() != nil {
				s.logger.Info("task stopped", zap.String("task", name))
				return
			}
			s.logger.Error("task exited unexpectedly, restarting",
				zap.String("task", name), zap.Duration("backoff", backoff), zap.Error(err))

			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.backoffMax)
		}
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, task func(ctx context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	task(ctx)
	return fmt.Errorf("returned before shutdown")
}

// Wait ждет завершения всех задач (после отмены контекста).
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
