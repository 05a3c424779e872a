package memory

import (
	"context"
	"sync"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

type Snapshots struct {
	mu     sync.RWMutex
	byKey  map[snapKey]volume.Snapshot
	locked map[engine.Period]bool
}

type snapKey struct {
	DistributorID engine.DistributorID
	Period        engine.Period
}

func NewSnapshots() *Snapshots {
	return &Snapshots{
		byKey:  make(map[snapKey]volume.Snapshot),
		locked: make(map[engine.Period]bool),
	}
}

func (s *Snapshots) SaveBatch(_ context.Context, period engine.Period, snaps []volume.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[period] {
		return engine.ErrSnapshotLocked
	}
	for k := range s.byKey {
		if k.Period.Equal(period) {
			delete(s.byKey, k)
		}
	}
	for _, snap := range snaps {
		s.byKey[snapKey{snap.DistributorID, snap.Period}] = snap
	}
	return nil
}

func (s *Snapshots) Get(_ context.Context, id engine.DistributorID, period engine.Period) (volume.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byKey[snapKey{id, period}]
	if !ok {
		return volume.Snapshot{}, engine.ErrNotFound
	}
	return snap, nil
}

func (s *Snapshots) AllForPeriod(_ context.Context, period engine.Period) ([]volume.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []volume.Snapshot
	for k, snap := range s.byKey {
		if k.Period.Equal(period) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *Snapshots) Lock(_ context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[period] = true
	return nil
}

func (s *Snapshots) IsLocked(_ context.Context, period engine.Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked[period], nil
}

func (s *Snapshots) Unlock(_ context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, period)
	return nil
}

var _ volume.SnapshotStore = (*Snapshots)(nil)
