/*
Package commission calculates every bonus type for a period and persists
the results as immutable commission records.

PURPOSE:
  Each bonus is an independent Calculator reading frozen period inputs
  (snapshots, ranks, orders, rank events) and emitting records. Records
  are append-only facts: amount, recipient, type, and the source that
  justifies the money. Nothing here pays anyone - the payout package
  turns records into batches.

CALCULATION MODEL:
  Calculators with no dependencies run concurrently against the same
  read-only Inputs. Calculators that declare dependencies (currently only
  matching, which consumes matrix records) run in a second wave with the
  first wave's records available via Inputs.Earlier.

TRACEABILITY:
  Every record names its source: the order, the downline distributor, the
  rank event or the pool that produced it. An auditor can rebuild any
  distributor's statement from records alone.

SEE ALSO:
  - calculator.go: Calculator contract, registry and inputs
  - orchestrator/: Two-wave execution during a run
*/
package commission

import (
	"context"
	"time"

	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// COMMISSION TYPES
// =============================================================================

type Type string

const (
	TypeRetail            Type = "retail"
	TypeMatrix            Type = "matrix"
	TypeMatching          Type = "matching"
	TypeOverride          Type = "override"
	TypeInfinity          Type = "infinity"
	TypeFastStart         Type = "fast_start"
	TypeRankAdvancement   Type = "rank_advancement"
	TypeCar               Type = "car"
	TypeVacation          Type = "vacation"
	TypeCustomerMilestone Type = "customer_milestone"
	TypeCustomerRetention Type = "customer_retention"
	TypeInfinityPool      Type = "infinity_pool"
)

// SourceType names what kind of fact a record traces back to.
type SourceType string

const (
	SourceOrder       SourceType = "order"
	SourceDistributor SourceType = "distributor"
	SourceRankEvent   SourceType = "rank_event"
	SourcePool        SourceType = "pool"
)

// =============================================================================
// RECORD
// =============================================================================

// Record is one line of commission. Records are never updated; a re-run
// deletes the period's records and recalculates.
type Record struct {
	ID          string
	Period      engine.Period
	RecipientID engine.DistributorID
	Type        Type

	Source   SourceType
	SourceID string

	Amount engine.Money

	// Meta carries calculator-specific detail for statements (level,
	// generation, rate applied). Never used in math after creation.
	Meta map[string]string

	CreatedAt time.Time
}

type RecordStore interface {
	// SaveBatch appends records. The store enforces uniqueness on
	// (period, recipient, type, source, source_id) and returns
	// engine.ErrDuplicateRecord on violation.
	SaveBatch(ctx context.Context, records []Record) error

	AllForPeriod(ctx context.Context, period engine.Period) ([]Record, error)

	ByRecipient(ctx context.Context, period engine.Period, id engine.DistributorID) ([]Record, error)

	// DeleteForPeriod removes a period's records ahead of a reset re-run.
	// Stores delete unconditionally; the orchestrator's Reset is the gate
	// that refuses once the period's batch is immutable.
	DeleteForPeriod(ctx context.Context, period engine.Period) error
}

// TotalByRecipient folds records into per-recipient sums.
func TotalByRecipient(records []Record) map[engine.DistributorID]engine.Money {
	out := make(map[engine.DistributorID]engine.Money)
	for _, r := range records {
		out[r.RecipientID] = out[r.RecipientID].Add(r.Amount)
	}
	return out
}

// Total sums all record amounts.
func Total(records []Record) engine.Money {
	var sum engine.Money
	for _, r := range records {
		sum = sum.Add(r.Amount)
	}
	return sum
}
