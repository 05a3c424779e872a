package memory

import (
	"context"
	"sync"

	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// COMMISSION RECORD STORE
// =============================================================================

type Records struct {
	mu      sync.RWMutex
	records []commission.Record
	unique  map[recordKey]bool
}

type recordKey struct {
	Period      engine.Period
	RecipientID engine.DistributorID
	Type        commission.Type
	Source      commission.SourceType
	SourceID    string
}

func NewRecords() *Records {
	return &Records{unique: make(map[recordKey]bool)}
}

func (s *Records) SaveBatch(_ context.Context, records []commission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.unique[keyOf(r)] {
			return engine.ErrDuplicateRecord
		}
	}
	for _, r := range records {
		s.records = append(s.records, r)
		s.unique[keyOf(r)] = true
	}
	return nil
}

func keyOf(r commission.Record) recordKey {
	return recordKey{r.Period, r.RecipientID, r.Type, r.Source, r.SourceID}
}

func (s *Records) AllForPeriod(_ context.Context, period engine.Period) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []commission.Record
	for _, r := range s.records {
		if r.Period.Equal(period) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Records) ByRecipient(_ context.Context, period engine.Period, id engine.DistributorID) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []commission.Record
	for _, r := range s.records {
		if r.Period.Equal(period) && r.RecipientID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Records) DeleteForPeriod(_ context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Period.Equal(period) {
			delete(s.unique, keyOf(r))
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return nil
}

var _ commission.RecordStore = (*Records)(nil)
