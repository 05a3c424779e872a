package volume

import (
	"context"
	"time"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// =============================================================================
// SNAPSHOT - Immutable per-period volume record
// =============================================================================

// Snapshot captures one distributor's volumes for one period. Once the
// period is locked, snapshots are frozen and every downstream stage reads
// from them rather than from orders.
type Snapshot struct {
	DistributorID engine.DistributorID
	Period        engine.Period
	PersonalBV    engine.BV
	GroupBV       engine.BV
	Active        bool
	CreatedAt     time.Time
}

type SnapshotStore interface {
	// SaveBatch writes a period's snapshots atomically, replacing any
	// existing unlocked set. Returns engine.ErrSnapshotLocked when the
	// period has been locked.
	SaveBatch(ctx context.Context, period engine.Period, snaps []Snapshot) error

	// Get returns engine.ErrNotFound when no snapshot exists.
	Get(ctx context.Context, id engine.DistributorID, period engine.Period) (Snapshot, error)

	AllForPeriod(ctx context.Context, period engine.Period) ([]Snapshot, error)

	// Lock freezes a period. Locking is idempotent.
	Lock(ctx context.Context, period engine.Period) error
	IsLocked(ctx context.Context, period engine.Period) (bool, error)

	// Unlock is an admin escape hatch for re-running a period before
	// payouts have been approved.
	Unlock(ctx context.Context, period engine.Period) error
}

// =============================================================================
// SNAPSHOT ENGINE - PBV aggregation + GBV rollup
// =============================================================================

type SnapshotEngine struct {
	Graph     network.GraphStore
	Orders    OrderStore
	Snapshots SnapshotStore
	Plan      *engine.Plan
	Now       func() time.Time
}

func NewSnapshotEngine(graph network.GraphStore, orders OrderStore, snaps SnapshotStore, plan *engine.Plan) *SnapshotEngine {
	return &SnapshotEngine{
		Graph:     graph,
		Orders:    orders,
		Snapshots: snaps,
		Plan:      plan,
		Now:       time.Now,
	}
}

// Compute derives and persists the period's snapshots: PBV from qualifying
// orders, GBV as PBV plus the GBV of all matrix children, active flag from
// the plan's activity threshold. Every known distributor gets a snapshot,
// including zero-volume ones, so downstream stages never distinguish
// "absent" from "zero".
//
// Refuses with engine.ErrSnapshotLocked if the period is already locked.
func (e *SnapshotEngine) Compute(ctx context.Context, period engine.Period) ([]Snapshot, error) {
	locked, err := e.Snapshots.IsLocked(ctx, period)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, engine.ErrSnapshotLocked
	}

	orders, err := e.Orders.InPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	pbv := PersonalBV(orders, e.Plan)

	distributors, err := e.Graph.List(ctx)
	if err != nil {
		return nil, err
	}
	idx := network.BuildIndex(distributors)

	// GBV(n) = PBV(n) + Σ GBV(matrix children of n), memoized post-order.
	memo := make(map[engine.DistributorID]engine.BV, len(distributors))
	var groupBV func(id engine.DistributorID) engine.BV
	groupBV = func(id engine.DistributorID) engine.BV {
		if g, ok := memo[id]; ok {
			return g
		}
		g := pbv[id]
		for _, child := range idx.MatrixChildren[id] {
			g = g.Add(groupBV(child))
		}
		memo[id] = g
		return g
	}

	now := e.Now().UTC()
	snaps := make([]Snapshot, 0, len(distributors))
	for _, d := range distributors {
		if d.Status == network.StatusDeleted {
			continue
		}
		personal := pbv[d.ID]
		snaps = append(snaps, Snapshot{
			DistributorID: d.ID,
			Period:        period,
			PersonalBV:    personal,
			GroupBV:       groupBV(d.ID),
			Active:        personal.AtLeast(e.Plan.Volume.ActivityThreshold),
			CreatedAt:     now,
		})
	}

	if err := e.Snapshots.SaveBatch(ctx, period, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// History loads a distributor's snapshots for the n periods ending at (and
// including) the given period, newest first. Missing periods are skipped.
// Consumed by the consecutive-qualification programs.
func (e *SnapshotEngine) History(ctx context.Context, id engine.DistributorID, period engine.Period, n int) ([]Snapshot, error) {
	out := make([]Snapshot, 0, n)
	p := period
	for i := 0; i < n; i++ {
		snap, err := e.Snapshots.Get(ctx, id, p)
		if err == nil {
			out = append(out, snap)
		} else if !engine.IsNotFound(err) {
			return nil, err
		}
		p = p.Prev()
	}
	return out, nil
}
