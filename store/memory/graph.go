// Package memory provides in-memory store implementations (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// =============================================================================
// GRAPH STORE
// =============================================================================

type Graph struct {
	mu           sync.RWMutex
	distributors map[engine.DistributorID]network.Distributor

	// slots mirrors the SQLite unique index on (parent, position).
	slots map[slotKey]engine.DistributorID
}

type slotKey struct {
	ParentID engine.DistributorID
	Position int
}

func NewGraph() *Graph {
	return &Graph{
		distributors: make(map[engine.DistributorID]network.Distributor),
		slots:        make(map[slotKey]engine.DistributorID),
	}
}

func (g *Graph) Save(_ context.Context, d network.Distributor) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.distributors[d.ID]; ok {
		// Placement fields only move through ClaimSlot.
		d.MatrixParentID = existing.MatrixParentID
		d.MatrixPosition = existing.MatrixPosition
		d.MatrixDepth = existing.MatrixDepth
	}
	g.distributors[d.ID] = d
	return nil
}

func (g *Graph) Get(_ context.Context, id engine.DistributorID) (*network.Distributor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.distributors[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	out := d
	return &out, nil
}

func (g *Graph) List(_ context.Context) ([]network.Distributor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]network.Distributor, 0, len(g.distributors))
	for _, d := range g.distributors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Graph) SponsorChildren(_ context.Context, id engine.DistributorID) ([]network.Distributor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []network.Distributor
	for _, d := range g.distributors {
		if d.SponsorID != nil && *d.SponsorID == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Graph) MatrixChildren(_ context.Context, id engine.DistributorID) ([]network.Distributor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []network.Distributor
	for _, d := range g.distributors {
		if d.MatrixParentID != nil && *d.MatrixParentID == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return *out[i].MatrixPosition < *out[j].MatrixPosition
	})
	return out, nil
}

func (g *Graph) ClaimSlot(_ context.Context, id, parentID engine.DistributorID, position, depth int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, ok := g.distributors[id]
	if !ok {
		return engine.ErrNotFound
	}
	k := slotKey{ParentID: parentID, Position: position}
	if holder, taken := g.slots[k]; taken && holder != id {
		return &engine.PlacementError{
			DistributorID: id,
			ParentID:      parentID,
			Position:      position,
			Depth:         depth,
		}
	}

	g.slots[k] = id
	pid, pos, dep := parentID, position, depth
	d.MatrixParentID = &pid
	d.MatrixPosition = &pos
	d.MatrixDepth = &dep
	g.distributors[id] = d
	return nil
}

func (g *Graph) UpdateRank(_ context.Context, id engine.DistributorID, rank engine.Rank, achievedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.distributors[id]
	if !ok {
		return engine.ErrNotFound
	}
	d.Rank = rank
	at := achievedAt
	d.RankAchievedAt = &at
	g.distributors[id] = d
	return nil
}

func (g *Graph) SoftDelete(_ context.Context, id engine.DistributorID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.distributors[id]
	if !ok {
		return engine.ErrNotFound
	}
	d.Status = network.StatusDeleted
	g.distributors[id] = d
	return nil
}

var _ network.GraphStore = (*Graph)(nil)
