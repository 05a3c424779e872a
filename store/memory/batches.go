package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/payout"
)

// =============================================================================
// PAYOUT BATCH STORE
// =============================================================================

type Batches struct {
	mu      sync.RWMutex
	batches map[engine.Period]payout.Batch
}

func NewBatches() *Batches {
	return &Batches{batches: make(map[engine.Period]payout.Batch)}
}

func (s *Batches) Create(_ context.Context, b payout.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[b.Period]; exists {
		return engine.ErrRunExists
	}
	s.batches[b.Period] = b
	return nil
}

func (s *Batches) Get(_ context.Context, period engine.Period) (payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[period]
	if !ok {
		return payout.Batch{}, engine.ErrNotFound
	}
	return b, nil
}

func (s *Batches) Update(_ context.Context, b payout.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.Period]; !ok {
		return engine.ErrNotFound
	}
	s.batches[b.Period] = b
	return nil
}

func (s *Batches) List(_ context.Context) ([]payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payout.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Start().Before(out[j].Period.Start())
	})
	return out, nil
}

func (s *Batches) Delete(_ context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[period]
	if !ok {
		return engine.ErrNotFound
	}
	if b.State.Immutable() {
		return engine.ErrBatchImmutable
	}
	delete(s.batches, period)
	return nil
}

var _ payout.BatchStore = (*Batches)(nil)
