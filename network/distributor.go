/*
Package network models the distributor graph: who sponsored whom, and
where everyone sits in the forced matrix.

PURPOSE:
  Every distributor carries TWO independent parent pointers:
  - Sponsor tree: enrollment lineage (who invited them). Set once at
    enrollment, never changes. Override bonuses traverse this tree.
  - Matrix tree: placement position for spillover. Matrix, matching and
    infinity bonuses traverse this tree.

  These are deliberately separate relations keyed by the same identifier.
  A distributor's sponsor and matrix parent usually differ once spillover
  starts; conflating the two trees is the classic latent bug in
  compensation systems, so nothing in this package ever treats one as a
  substitute for the other.

MATRIX INVARIANT:
  MatrixParentID, MatrixPosition and MatrixDepth are either all nil
  (unplaced) or all set. Depth equals the parent's depth + 1. Position is
  unique among siblings and bounded by the plan's matrix width.

LIFECYCLE:
  Created at enrollment with the sponsor assigned, matrix-placed at
  enrollment time or asynchronously. Never hard-deleted once it has
  descendants - descendants' rollups depend on it - only soft-deleted.

SEE ALSO:
  - placement.go: Breadth-first slot search and optimistic claim
  - volume/snapshot.go: GBV rollup over the matrix tree
*/
package network

import (
	"context"
	"time"

	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// DISTRIBUTOR
// =============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

type Distributor struct {
	ID engine.DistributorID

	// Sponsor tree: nil only for the root of the organization.
	SponsorID *engine.DistributorID

	// Matrix tree: all nil until placed, then all set.
	MatrixParentID *engine.DistributorID
	MatrixPosition *int
	MatrixDepth    *int

	Rank           engine.Rank
	RankAchievedAt *time.Time

	Status    Status
	CreatedAt time.Time
}

// Placed reports whether the distributor occupies a matrix slot.
func (d *Distributor) Placed() bool {
	return d.MatrixParentID != nil && d.MatrixPosition != nil && d.MatrixDepth != nil
}

// Depth returns the matrix depth, treating an unplaced root as depth 0.
func (d *Distributor) Depth() int {
	if d.MatrixDepth != nil {
		return *d.MatrixDepth
	}
	return 0
}

// EnrolledWithin reports whether the distributor enrolled no more than
// windowDays before the given instant. Used by the fast-start calculator.
func (d *Distributor) EnrolledWithin(windowDays int, at time.Time) bool {
	return !at.Before(d.CreatedAt) && at.Sub(d.CreatedAt) <= time.Duration(windowDays)*24*time.Hour
}

// =============================================================================
// GRAPH STORE - Persistence contract for both trees
// =============================================================================

// GraphStore persists distributors and both tree relations.
//
// ClaimSlot is the only write that touches matrix placement, and it must
// be atomic: the implementation enforces a uniqueness constraint on
// (matrix parent, position) and returns engine.ErrPlacementConflict when
// a concurrent placement won the slot. Callers retry the search -
// optimistic concurrency, not a global lock.
type GraphStore interface {
	// Save creates or updates a distributor record. It never modifies
	// matrix placement fields; use ClaimSlot for that.
	Save(ctx context.Context, d Distributor) error

	// Get returns a distributor, or engine.ErrNotFound.
	Get(ctx context.Context, id engine.DistributorID) (*Distributor, error)

	// List returns every distributor, including soft-deleted ones
	// (rollups still traverse them).
	List(ctx context.Context) ([]Distributor, error)

	// SponsorChildren returns direct children in the sponsor tree.
	SponsorChildren(ctx context.Context, id engine.DistributorID) ([]Distributor, error)

	// MatrixChildren returns direct children in the matrix tree, ordered
	// by position.
	MatrixChildren(ctx context.Context, id engine.DistributorID) ([]Distributor, error)

	// ClaimSlot atomically assigns (parent, position, depth) to the
	// distributor. Returns engine.ErrPlacementConflict if taken.
	ClaimSlot(ctx context.Context, id, parentID engine.DistributorID, position, depth int) error

	// UpdateRank sets rank and rank-achieved timestamp. Only the rank
	// evaluation engine calls this during a run.
	UpdateRank(ctx context.Context, id engine.DistributorID, rank engine.Rank, achievedAt time.Time) error

	// SoftDelete marks a distributor deleted. Hard deletion does not
	// exist: descendants' rollups depend on the node.
	SoftDelete(ctx context.Context, id engine.DistributorID) error
}

// =============================================================================
// IN-MEMORY TREE INDEX - Shared traversal helper
// =============================================================================

// Index is a point-in-time view of both trees built from a full listing.
// Rollups and calculators build one Index per run instead of issuing
// per-node store queries.
type Index struct {
	ByID            map[engine.DistributorID]Distributor
	MatrixChildren  map[engine.DistributorID][]engine.DistributorID
	SponsorChildren map[engine.DistributorID][]engine.DistributorID

	// Roots are distributors with no matrix parent, in creation order.
	Roots []engine.DistributorID
}

// BuildIndex constructs an Index from a distributor listing.
func BuildIndex(distributors []Distributor) *Index {
	idx := &Index{
		ByID:            make(map[engine.DistributorID]Distributor, len(distributors)),
		MatrixChildren:  make(map[engine.DistributorID][]engine.DistributorID),
		SponsorChildren: make(map[engine.DistributorID][]engine.DistributorID),
	}
	for _, d := range distributors {
		idx.ByID[d.ID] = d
	}
	for _, d := range distributors {
		if d.MatrixParentID != nil {
			idx.MatrixChildren[*d.MatrixParentID] = append(idx.MatrixChildren[*d.MatrixParentID], d.ID)
		} else {
			idx.Roots = append(idx.Roots, d.ID)
		}
		if d.SponsorID != nil {
			idx.SponsorChildren[*d.SponsorID] = append(idx.SponsorChildren[*d.SponsorID], d.ID)
		}
	}
	// Matrix children sorted by position so traversal order is stable.
	for parent, kids := range idx.MatrixChildren {
		sortByPosition(idx, kids)
		idx.MatrixChildren[parent] = kids
	}
	return idx
}

func sortByPosition(idx *Index, ids []engine.DistributorID) {
	// Insertion sort: sibling lists are at most matrix-width long.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && position(idx, ids[j]) < position(idx, ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func position(idx *Index, id engine.DistributorID) int {
	d := idx.ByID[id]
	if d.MatrixPosition == nil {
		return 0
	}
	return *d.MatrixPosition
}

// MatrixDescendants walks the matrix subtree under id (excluding id),
// breadth-first, calling visit with each descendant and its level
// relative to id (direct children are level 1). visit returning false
// prunes that branch.
func (idx *Index) MatrixDescendants(id engine.DistributorID, visit func(d Distributor, level int) bool) {
	type entry struct {
		id    engine.DistributorID
		level int
	}
	queue := make([]entry, 0, len(idx.MatrixChildren[id]))
	for _, child := range idx.MatrixChildren[id] {
		queue = append(queue, entry{child, 1})
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		d := idx.ByID[e.id]
		if !visit(d, e.level) {
			continue
		}
		for _, child := range idx.MatrixChildren[e.id] {
			queue = append(queue, entry{child, e.level + 1})
		}
	}
}

// SponsorDescendants walks the sponsor subtree under id (excluding id),
// breadth-first, with generation numbers (direct enrollees are
// generation 1).
func (idx *Index) SponsorDescendants(id engine.DistributorID, visit func(d Distributor, generation int) bool) {
	type entry struct {
		id  engine.DistributorID
		gen int
	}
	queue := make([]entry, 0, len(idx.SponsorChildren[id]))
	for _, child := range idx.SponsorChildren[id] {
		queue = append(queue, entry{child, 1})
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		d := idx.ByID[e.id]
		if !visit(d, e.gen) {
			continue
		}
		for _, child := range idx.SponsorChildren[e.id] {
			queue = append(queue, entry{child, e.gen + 1})
		}
	}
}

// SponsorAncestors walks upward from id through the sponsor tree,
// calling visit with each ancestor and its generation distance (the
// direct sponsor is generation 1). Stops when visit returns false or the
// root is reached.
func (idx *Index) SponsorAncestors(id engine.DistributorID, visit func(d Distributor, generation int) bool) {
	current, ok := idx.ByID[id]
	gen := 0
	for ok && current.SponsorID != nil {
		parent, found := idx.ByID[*current.SponsorID]
		if !found {
			return
		}
		gen++
		if !visit(parent, gen) {
			return
		}
		current = parent
		ok = true
	}
}
