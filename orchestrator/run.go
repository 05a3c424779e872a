/*
Package orchestrator drives the monthly compensation run through its
stages and enforces one run per period.

PURPOSE:
  The run is the unit of idempotency. Creating the run row is the gate:
  a second attempt for the same period fails with engine.ErrRunExists
  before any math happens. Each stage persists its output and advances
  the run's stage marker, so a crashed run shows exactly how far it got.

STAGES:
  not_started -> snapshots_computed -> ranks_evaluated ->
  commissions_calculated -> batch_created -> locked

  A failure at any stage moves the run to "failed" with the stage it
  died in preserved in the failure reason. Failed runs are re-runnable
  only through an explicit admin reset.

SEE ALSO:
  - orchestrator.go: Stage execution
  - payout/batch.go: The batch created in the final stage
*/
package orchestrator

import (
	"context"
	"time"

	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// RUN
// =============================================================================

type Stage string

const (
	StageNotStarted            Stage = "not_started"
	StageSnapshotsComputed     Stage = "snapshots_computed"
	StageRanksEvaluated        Stage = "ranks_evaluated"
	StageCommissionsCalculated Stage = "commissions_calculated"
	StageBatchCreated          Stage = "batch_created"
	StageLocked                Stage = "locked"
	StageFailed                Stage = "failed"
)

// stageOrder is the forward progression; failed sits outside it.
var stageOrder = []Stage{
	StageNotStarted,
	StageSnapshotsComputed,
	StageRanksEvaluated,
	StageCommissionsCalculated,
	StageBatchCreated,
	StageLocked,
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Reached reports whether this stage is at or past other in the forward
// progression. Failed runs have reached nothing.
func (s Stage) Reached(other Stage) bool {
	i, j := s.index(), other.index()
	return i >= 0 && j >= 0 && i >= j
}

type Run struct {
	ID          string
	Period      engine.Period
	PlanVersion int
	Stage       Stage

	// Counters recorded as stages complete, for the run report.
	SnapshotCount int
	Advancements  int
	RecordCount   int
	TotalCents    int64

	FailureReason string

	StartedAt  time.Time
	FinishedAt *time.Time
}

type RunStore interface {
	// Create persists a new run. The store enforces one run per period
	// and returns engine.ErrRunExists on a duplicate.
	Create(ctx context.Context, r Run) error

	// Get returns engine.ErrRunNotFound when no run exists.
	Get(ctx context.Context, period engine.Period) (Run, error)

	Update(ctx context.Context, r Run) error

	List(ctx context.Context) ([]Run, error)

	// Delete removes the run row as part of an admin reset.
	Delete(ctx context.Context, period engine.Period) error
}
