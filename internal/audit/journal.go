package audit

/*
Journal — асинхронный журнал событий шлюза (аренды, отпечатки, валидации, проверки здоровья).

- Неблокирующая запись: Log кладет событие в буферизованный канал и сразу возвращается,
  задержки БД не попадают во время ответа.
- Пакетная запись: события копятся и уходят в хранилище пачкой по таймеру или по размеру пачки.
- Сброс нагрузки: при переполненном буфере событие отбрасывается с записью в лог.
- Drain при остановке: Stop закрывает канал, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBatch = 100

// Storage определяет, куда физически сохраняются события
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Logger interface {
	Log(event Event)
}

type Config struct {
	BufferSize    int
	FlushInterval time.Duration
}

type Journal struct {
	ch            chan Event
	repo          Storage
	logger        *zap.Logger
	flushInterval time.Duration
	wg            sync.WaitGroup
	// защита от Log после Stop
	closed  atomic.Bool
	dropped atomic.Uint64
	// stopMu не дает закрыть канал, пока идет отправка
	stopMu sync.RWMutex
}

func NewJournal(repo Storage, cfg Config, logger *zap.Logger) *Journal {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan Event, cfg.BufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "journal")),
		flushInterval: cfg.FlushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход в канал и ждет, пока воркер все допишет.
func (j *Journal) Stop() {
	j.stopMu.Lock()
	if j.closed.Swap(true) {
		j.stopMu.Unlock()
		return
	}
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.stopMu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	j.stopMu.RLock()
	defer j.stopMu.RUnlock()
	if j.closed.Load() {
		j.logger.Warn("journal event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении не блокируем горячий путь
	select {
	case j.ch <- event:
	default:
		j.dropped.Add(1)
		j.logger.Error("journal_buffer_overflow",
			zap.String("kind", event.Kind),
			zap.String("client_id", event.ClientID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Len — заполненность буфера (для метрик backpressure).
func (j *Journal) Len() int {
	return len(j.ch)
}

func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, maxBatch)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть закрыт
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// канал закрыт в Stop: остаток уже вычитан, финальный сброс
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
