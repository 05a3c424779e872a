package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/orchestrator"
)

// =============================================================================
// RUN STORE
// =============================================================================

type Runs struct {
	mu   sync.RWMutex
	runs map[engine.Period]orchestrator.Run
}

func NewRuns() *Runs {
	return &Runs{runs: make(map[engine.Period]orchestrator.Run)}
}

func (s *Runs) Create(_ context.Context, r orchestrator.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.Period]; exists {
		return engine.ErrRunExists
	}
	s.runs[r.Period] = r
	return nil
}

func (s *Runs) Get(_ context.Context, period engine.Period) (orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[period]
	if !ok {
		return orchestrator.Run{}, engine.ErrRunNotFound
	}
	return r, nil
}

func (s *Runs) Update(_ context.Context, r orchestrator.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.Period]; !ok {
		return engine.ErrRunNotFound
	}
	s.runs[r.Period] = r
	return nil
}

func (s *Runs) List(_ context.Context) ([]orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orchestrator.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Start().Before(out[j].Period.Start())
	})
	return out, nil
}

func (s *Runs) Delete(_ context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[period]; !ok {
		return engine.ErrRunNotFound
	}
	delete(s.runs, period)
	return nil
}

var _ orchestrator.RunStore = (*Runs)(nil)
