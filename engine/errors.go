/*
errors.go - Centralized error types for the compensation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Placement errors - Matrix slot search and claim failures
  2. Run errors       - Period idempotency and stage-dependency failures
  3. Workflow errors  - Invalid batch/run state transitions

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, engine.ErrPlacementConflict) {
        // retry the search
    }

SEE ALSO:
  - network/placement.go: Produces placement errors
  - orchestrator/orchestrator.go: Produces run errors
  - payout/batch.go: Produces transition errors
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMatrixFull is returned when a breadth-first placement search
	// exhausts every slot above the configured maximum depth.
	ErrMatrixFull = errors.New("matrix full: no open slot within depth limit")

	// ErrPlacementConflict is returned when two placements race for the
	// same slot. This is expected under concurrent signups; retry the search.
	ErrPlacementConflict = errors.New("placement conflict: slot already claimed")

	// ErrSnapshotLocked is returned when a run attempts to write snapshots
	// for a period that has already been finalized. A forced re-run must
	// explicitly unlock first; it is never silent.
	ErrSnapshotLocked = errors.New("snapshots locked for period")

	// ErrRunExists is returned when a run already exists for the period.
	// This is the idempotency boundary: one commission run per period, ever,
	// unless explicitly reset.
	ErrRunExists = errors.New("run already exists for period")

	// ErrRunNotFound is returned when no run exists for the period.
	ErrRunNotFound = errors.New("run not found")

	// ErrMissingDependency is returned when a stage or calculator needs a
	// snapshot or rank that has not been computed. Partial commission runs
	// are a financial integrity risk, so this always aborts the run.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrCalculatorFailure wraps a specific commission type's failure.
	ErrCalculatorFailure = errors.New("calculator failure")

	// ErrInvalidTransition is returned for a disallowed state change on a
	// run or payout batch.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrBatchImmutable is returned when modifying records attached to an
	// approved batch.
	ErrBatchImmutable = errors.New("batch is immutable once approved")

	// ErrInvalidPeriod is returned when a period string is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRecord is returned when a (period, recipient, source,
	// type) commission record already exists.
	ErrDuplicateRecord = errors.New("duplicate commission record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PlacementError describes a failed slot claim.
type PlacementError struct {
	DistributorID DistributorID
	ParentID      DistributorID
	Position      int
	Depth         int
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("slot (%s, position %d, depth %d) already claimed; wanted for %s",
		e.ParentID, e.Position, e.Depth, e.DistributorID)
}

func (e *PlacementError) Unwrap() error { return ErrPlacementConflict }

// CalculatorError identifies which commission type failed and why.
type CalculatorError struct {
	Type string
	Err  error
}

func (e *CalculatorError) Error() string {
	return fmt.Sprintf("calculator %q: %v", e.Type, e.Err)
}

func (e *CalculatorError) Unwrap() error { return ErrCalculatorFailure }

// TransitionError describes a disallowed state change.
type TransitionError struct {
	Entity string // "run" or "batch"
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DependencyError names the missing input.
type DependencyError struct {
	Stage         string
	DistributorID DistributorID
	What          string // "snapshot", "rank"
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: missing %s for distributor %s", e.Stage, e.What, e.DistributorID)
}

func (e *DependencyError) Unwrap() error { return ErrMissingDependency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPlacementConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or a rejected duplicate operation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRunExists) ||
		errors.Is(err, ErrSnapshotLocked) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrMatrixFull) ||
		errors.Is(err, ErrBatchImmutable) ||
		errors.Is(err, ErrDuplicateRecord)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRunNotFound)
}
