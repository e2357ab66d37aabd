package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/domain"
)

type RecordReader interface {
	Get(ctx context.Context, id string) (*domain.ValidationRecord, error)
	ListRecent(ctx context.Context, clientID string, limit int) ([]*domain.ValidationRecord, error)
}

type JournalReader interface {
	Recent(ctx context.Context, kind string, limit int) ([]audit.Event, error)
}

type ProbeHistory interface {
	RecentProbes(ctx context.Context, resourceID string, limit int) ([]domain.ProbeResult, error)
}

// RecordsService — чтение записей валидации, журнала и истории проверок для консоли.
type RecordsService struct {
	records RecordReader
	journal JournalReader
	probes  ProbeHistory
}

func NewRecordsService(records RecordReader, journal JournalReader, probes ProbeHistory) *RecordsService {
	return &RecordsService{records: records, journal: journal, probes: probes}
}

func (s *RecordsService) Recent(ctx context.Context, clientID string, limit int) ([]*domain.ValidationRecord, error) {
	recs, err := s.records.ListRecent(ctx, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("records_service: failed to list records: %w", err)
	}
	if recs == nil {
		recs = []*domain.ValidationRecord{}
	}
	return recs, nil
}

func (s *RecordsService) Get(ctx context.Context, id string) (*domain.ValidationRecord, error) {
	return s.records.Get(ctx, id)
}

func (s *RecordsService) Journal(ctx context.Context, kind string, limit int) ([]audit.Event, error) {
	events, err := s.journal.Recent(ctx, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("records_service: failed to fetch journal: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

func (s *RecordsService) ProbeHistory(ctx context.Context, resourceID string, limit int) ([]domain.ProbeResult, error) {
	if _, _, ok := domain.ParseResourceID(resourceID); !ok {
		return nil, fmt.Errorf("%w: bad resource id %q", domain.ErrInvalidInput, resourceID)
	}
	probes, err := s.probes.RecentProbes(ctx, resourceID, limit)
	if err != nil {
		return nil, err
	}
	if probes == nil {
		probes = []domain.ProbeResult{}
	}
	return probes, nil
}
