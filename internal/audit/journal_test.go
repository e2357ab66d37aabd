package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
	fail    bool
}

func (m *memStorage) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.batches = append(m.batches, append([]Event(nil), events...))
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestJournalDrainsOnStop(t *testing.T) {
	st := &memStorage{}
	j := NewJournal(st, Config{BufferSize: 1000, FlushInterval: time.Hour}, zap.NewNop())
	j.Start()

	for i := 0; i < 250; i++ {
		j.Log(Event{Kind: KindValidation, ClientID: "c1"})
	}
	j.Stop()

	assert.Equal(t, 250, st.total())
	for _, b := range st.batches {
		assert.LessOrEqual(t, len(b), maxBatch)
		assert.NotEmpty(t, b[0].ID)
		assert.False(t, b[0].Timestamp.IsZero())
	}

	// после остановки события игнорируются, повторный Stop безопасен
	j.Log(Event{Kind: KindLease})
	j.Stop()
	assert.Equal(t, 250, st.total())
}

func TestJournalFlushesOnTicker(t *testing.T) {
	st := &memStorage{}
	j := NewJournal(st, Config{FlushInterval: 10 * time.Millisecond}, zap.NewNop())
	j.Start()
	defer j.Stop()

	j.Log(Event{Kind: KindProbe})
	require.Eventually(t, func() bool { return st.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestJournalShedsLoad(t *testing.T) {
	st := &memStorage{}
	// воркер не запущен: буфер заполняется
	j := NewJournal(st, Config{BufferSize: 2}, zap.NewNop())
	for i := 0; i < 5; i++ {
		j.Log(Event{Kind: KindLease})
	}
	assert.Equal(t, 2, j.Len())
	assert.Equal(t, uint64(3), j.Dropped())
}

func TestJournalSurvivesStorageErrors(t *testing.T) {
	st := &memStorage{fail: true}
	j := NewJournal(st, Config{}, zap.NewNop())
	j.Start()
	j.Log(Event{Kind: KindControl})
	j.Stop()
	assert.Equal(t, 0, st.total())
}
