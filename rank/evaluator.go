/*
Package rank evaluates distributor qualification against the plan's rank
requirement table.

PURPOSE:
  Runs after snapshots and before commissions: several calculators read
  rank-dependent rates, so ranks must be settled for the period first.

EVALUATION MODEL:
  For each distributor, walk the requirement table in ascending ladder
  order and take the HIGHEST rank whose thresholds are all met: the
  period's active flag, minimum personal BV, minimum group BV, and a
  minimum number of qualified matrix legs. An inactive distributor never
  advances, whatever the table rows say. A direct matrix leg is qualified when ANY member of that leg's
  subtree is active for the period with at least the required rank.

  Leg checks use PRE-evaluation ranks for everyone. Evaluation order must
  never matter, so a distributor advancing this period does not help an
  upline qualify in the same run.

ADVANCE-ONLY:
  The engine never demotes. A distributor below their current rank's
  thresholds simply keeps the rank; rank-dependent EARNINGS still follow
  the current period's activity, so a stale rank does not mint money on
  its own.

SEE ALSO:
  - engine/plan.go: RankRequirement table
  - commission/matching.go: Rank-gated matching rates
*/
package rank

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/volume"
)

type Evaluator struct {
	Graph     network.GraphStore
	Snapshots volume.SnapshotStore
	Plan      *engine.Plan
	Now       func() time.Time
}

func NewEvaluator(graph network.GraphStore, snaps volume.SnapshotStore, plan *engine.Plan) *Evaluator {
	return &Evaluator{
		Graph:     graph,
		Snapshots: snaps,
		Plan:      plan,
		Now:       time.Now,
	}
}

// Result is one distributor's outcome for the period.
type Result struct {
	DistributorID engine.DistributorID
	Previous      engine.Rank
	Achieved      engine.Rank
	Advanced      bool
}

// EvaluateAll evaluates every non-deleted distributor for the period,
// persists advancements, and returns one RankAdvancement event per
// distributor that moved up. Requires the period's snapshots to exist;
// returns engine.ErrMissingDependency otherwise.
func (e *Evaluator) EvaluateAll(ctx context.Context, period engine.Period) ([]Result, []engine.RankAdvancement, error) {
	snaps, err := e.Snapshots.AllForPeriod(ctx, period)
	if err != nil {
		return nil, nil, err
	}
	if len(snaps) == 0 {
		return nil, nil, fmt.Errorf("rank evaluation for %s: %w", period, engine.ErrMissingDependency)
	}
	byID := make(map[engine.DistributorID]volume.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.DistributorID] = s
	}

	distributors, err := e.Graph.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	idx := network.BuildIndex(distributors)

	now := e.Now().UTC()
	results := make([]Result, 0, len(distributors))
	var events []engine.RankAdvancement

	for _, d := range distributors {
		if d.Status == network.StatusDeleted {
			continue
		}
		snap, ok := byID[d.ID]
		if !ok {
			return nil, nil, &engine.DependencyError{Stage: "rank evaluation", DistributorID: d.ID, What: "snapshot"}
		}

		achieved := e.evaluate(d.ID, snap, idx, byID)
		res := Result{DistributorID: d.ID, Previous: d.Rank, Achieved: d.Rank}
		if achieved.Above(d.Rank) {
			if err := e.Graph.UpdateRank(ctx, d.ID, achieved, now); err != nil {
				return nil, nil, fmt.Errorf("rank evaluation for %s: %w", d.ID, err)
			}
			res.Achieved = achieved
			res.Advanced = true
			events = append(events, engine.RankAdvancement{
				DistributorID: d.ID,
				From:          d.Rank,
				To:            achieved,
				Period:        period,
			})
		}
		results = append(results, res)
	}

	return results, events, nil
}

// evaluate returns the highest rank whose requirements the distributor
// meets this period. Ranks without a table row are unreachable.
func (e *Evaluator) evaluate(
	id engine.DistributorID,
	snap volume.Snapshot,
	idx *network.Index,
	snaps map[engine.DistributorID]volume.Snapshot,
) engine.Rank {
	achieved := engine.RankAssociate
	// Activity gates everything: a plan may set a rank's MinPBV below the
	// activity threshold, and an inactive distributor must still hold.
	if !snap.Active {
		return achieved
	}
	for _, r := range engine.RankLadder {
		req := e.Plan.Requirement(r)
		if req == nil {
			continue
		}
		if !snap.PersonalBV.AtLeast(req.MinPBV) {
			continue
		}
		if !snap.GroupBV.AtLeast(req.MinGBV) {
			continue
		}
		if req.MinActiveLegs > 0 && e.qualifiedLegs(id, req.LegRank, idx, snaps) < req.MinActiveLegs {
			continue
		}
		achieved = r
	}
	return achieved
}

// qualifiedLegs counts direct matrix legs containing at least one active
// member at or above legRank. The whole subtree of each leg is searched;
// a deep qualifying member counts the same as a shallow one.
func (e *Evaluator) qualifiedLegs(
	id engine.DistributorID,
	legRank engine.Rank,
	idx *network.Index,
	snaps map[engine.DistributorID]volume.Snapshot,
) int {
	qualifies := func(d network.Distributor) bool {
		if d.Status == network.StatusDeleted {
			return false
		}
		snap, ok := snaps[d.ID]
		if !ok || !snap.Active {
			return false
		}
		return d.Rank.AtLeast(legRank)
	}

	count := 0
	for _, legRoot := range idx.MatrixChildren[id] {
		found := qualifies(idx.ByID[legRoot])
		if !found {
			idx.MatrixDescendants(legRoot, func(d network.Distributor, _ int) bool {
				if qualifies(d) {
					found = true
					return false
				}
				return true
			})
		}
		if found {
			count++
		}
	}
	return count
}
