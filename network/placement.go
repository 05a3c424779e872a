/*
placement.go - Breadth-first matrix placement

PURPOSE:
  Finds the next open slot under a sponsor and claims it. The search and
  the write are deliberately separate operations: FindPlacement has no
  side effects, so callers can pre-validate; Place combines search and
  claim with retry on conflict.

THE SEARCH:
  Breadth-first from the sponsor's matrix node. Dequeue a node, scan its
  positions 1..W in ascending order, return the first unoccupied one.
  Only then move on to the node's children. This guarantees the placed
  slot is always the lowest-depth, lowest-position slot reachable from
  the sponsor - first-available, never depth-first.

CONCURRENCY:
  Concurrent signups under the same sponsor race for the same slot. The
  claim relies on the store's uniqueness constraint on (parent, position);
  on engine.ErrPlacementConflict the search is simply re-run. Optimistic,
  no global lock, so signup latency stays low under load.

SEE ALSO:
  - distributor.go: GraphStore contract and matrix invariants
  - store/sqlite: idx_unique_matrix_slot enforcing the claim
*/
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/compensation-engine/engine"
)

// placeRetries bounds the search-claim-retry loop. Each retry re-runs the
// BFS against fresh state, so losing a race more than a handful of times
// in a row means something is wrong beyond contention.
const placeRetries = 5

// Placement is a candidate slot. It is a value, not a reservation - the
// slot may be gone by the time ClaimSlot runs.
type Placement struct {
	ParentID engine.DistributorID
	Position int
	Depth    int
}

// Placer finds and claims matrix slots.
type Placer struct {
	Graph GraphStore
	Plan  *engine.Plan
}

func NewPlacer(graph GraphStore, plan *engine.Plan) *Placer {
	return &Placer{Graph: graph, Plan: plan}
}

// FindPlacement performs the breadth-first search from sponsorID's matrix
// node. Returns engine.ErrMatrixFull when every slot within the plan's
// depth limit is occupied. No side effects.
func (p *Placer) FindPlacement(ctx context.Context, sponsorID engine.DistributorID) (Placement, error) {
	sponsor, err := p.Graph.Get(ctx, sponsorID)
	if err != nil {
		return Placement{}, fmt.Errorf("placement search: %w", err)
	}

	width := p.Plan.Matrix.Width
	maxDepth := p.Plan.Matrix.MaxDepth

	type node struct {
		id    engine.DistributorID
		depth int
	}
	queue := []node{{id: sponsor.ID, depth: sponsor.Depth()}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		childDepth := current.depth + 1
		if childDepth > maxDepth {
			// Nothing below this node is placeable; siblings may still be.
			continue
		}

		children, err := p.Graph.MatrixChildren(ctx, current.id)
		if err != nil {
			return Placement{}, fmt.Errorf("placement search: %w", err)
		}

		occupied := make(map[int]bool, len(children))
		for _, c := range children {
			if c.MatrixPosition != nil {
				occupied[*c.MatrixPosition] = true
			}
		}

		// First open position at this node wins before we descend anywhere.
		for pos := 1; pos <= width; pos++ {
			if !occupied[pos] {
				return Placement{ParentID: current.id, Position: pos, Depth: childDepth}, nil
			}
		}

		for _, c := range children {
			queue = append(queue, node{id: c.ID, depth: childDepth})
		}
	}

	return Placement{}, engine.ErrMatrixFull
}

// Place finds a slot for distributorID under sponsorID and claims it,
// retrying the search on conflict. Returns the placement that stuck.
func (p *Placer) Place(ctx context.Context, distributorID, sponsorID engine.DistributorID) (Placement, error) {
	var lastErr error
	for attempt := 0; attempt < placeRetries; attempt++ {
		placement, err := p.FindPlacement(ctx, sponsorID)
		if err != nil {
			return Placement{}, err
		}

		err = p.Graph.ClaimSlot(ctx, distributorID, placement.ParentID, placement.Position, placement.Depth)
		if err == nil {
			return placement, nil
		}
		if !engine.IsRetryable(err) {
			return Placement{}, err
		}
		lastErr = err
	}
	return Placement{}, fmt.Errorf("placement gave up after %d attempts: %w", placeRetries, lastErr)
}

// =============================================================================
// ENROLLMENT
// =============================================================================

// EnrollInput describes a signup arriving from the enrollment subsystem.
type EnrollInput struct {
	// ID is optional; a UUID is generated when empty.
	ID        engine.DistributorID
	SponsorID engine.DistributorID

	// DeferPlacement leaves the distributor unplaced for a later
	// asynchronous Place call.
	DeferPlacement bool
}

// Service wraps enrollment: create the distributor with its sponsor, then
// place it in the matrix (immediately or deferred).
type Service struct {
	Graph  GraphStore
	Placer *Placer
	Now    func() time.Time
}

func NewService(graph GraphStore, plan *engine.Plan) *Service {
	return &Service{
		Graph:  graph,
		Placer: NewPlacer(graph, plan),
		Now:    time.Now,
	}
}

// PlaceDeferred places a distributor that enrolled with DeferPlacement.
// Placing an already-placed distributor is a no-op.
func (s *Service) PlaceDeferred(ctx context.Context, id engine.DistributorID) (*Distributor, error) {
	d, err := s.Graph.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("place: %w", err)
	}
	if d.Placed() {
		return d, nil
	}
	if d.SponsorID == nil {
		return nil, fmt.Errorf("place %s: distributor has no sponsor", id)
	}
	if _, err := s.Placer.Place(ctx, id, *d.SponsorID); err != nil {
		return nil, err
	}
	return s.Graph.Get(ctx, id)
}

// Enroll creates the distributor and, unless deferred, places it.
// The sponsor assignment is permanent; the matrix slot is whatever the
// breadth-first search finds (spillover means it may not be under the
// sponsor directly).
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (*Distributor, error) {
	if _, err := s.Graph.Get(ctx, in.SponsorID); err != nil {
		return nil, fmt.Errorf("enroll: sponsor %s: %w", in.SponsorID, err)
	}

	id := in.ID
	if id == "" {
		id = engine.DistributorID(uuid.NewString())
	}

	sponsorID := in.SponsorID
	d := Distributor{
		ID:        id,
		SponsorID: &sponsorID,
		Rank:      engine.RankAssociate,
		Status:    StatusActive,
		CreatedAt: s.Now().UTC(),
	}
	if err := s.Graph.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	if !in.DeferPlacement {
		if _, err := s.Placer.Place(ctx, id, in.SponsorID); err != nil {
			return nil, err
		}
	}

	placed, err := s.Graph.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return placed, nil
}
