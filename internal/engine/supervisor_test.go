package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSupervisorRestartsPanickingTask(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.backoffMin, s.backoffMax = time.Millisecond, 5*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	s.Go(ctx, "flaky", func(ctx context.Context) {
		if runs.Add(1) < 3 {
			panic("boom")
		}
		<-ctx.Done()
	})

	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
	assert.Equal(t, int32(3), runs.Load())
}

func TestSupervisorRestartsEarlyReturn(t *testing.T) {
	s := NewSupervisor(zap.NewNop())
	s.backoffMin, s.backoffMax = time.Millisecond, time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	s.Go(ctx, "quitter", func(context.Context) { runs.Add(1) })

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
}
