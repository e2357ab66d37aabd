package validation

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/trustgate/internal/domain"
)

// RecordStore хранит записи конвейера. Завершенную запись перезаписать нельзя.
type RecordStore interface {
	Save(ctx context.Context, rec *domain.ValidationRecord) error
	Get(ctx context.Context, id string) (*domain.ValidationRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ValidationRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*domain.ValidationRecord)}
}

func (s *MemoryRecordStore) Save(_ context.Context, rec *domain.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[rec.ID]; ok && cur.Status.Final() {
		return domain.ErrAlreadyFinalized
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (*domain.ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// PurgeExpired удаляет только завершенные записи с истекшим сроком.
func (s *MemoryRecordStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.Status.Final() && !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
