/*
Package payout turns a period's commission records into a reviewable,
approvable payout batch.

PURPOSE:
  Records say who earned what; the batch is the operational artifact that
  gets human review before money moves. One batch per period. The batch
  walks a strict state machine and becomes immutable at approval: the
  records behind an approved batch can never be recalculated.

STATE MACHINE:
  draft -> pending_review -> approved -> processing -> completed
  any non-terminal state -> cancelled | failed

SAFEGUARD:
  Every batch carries its payout ratio (total commissions / period
  revenue) classified against the plan's bands. The classification is
  ADVISORY: a "danger" batch still needs a human to decline it. The
  engine warns; it never silently withholds earned commissions.

SEE ALSO:
  - commission/record.go: The records a batch freezes
  - engine/plan.go: PayoutBand classification
*/
package payout

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// BATCH STATES
// =============================================================================

type State string

const (
	StateDraft         State = "draft"
	StatePendingReview State = "pending_review"
	StateApproved      State = "approved"
	StateProcessing    State = "processing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// transitions is the full legal state machine. Anything absent is
// rejected with engine.ErrInvalidTransition.
var transitions = map[State][]State{
	StateDraft:         {StatePendingReview, StateCancelled, StateFailed},
	StatePendingReview: {StateApproved, StateCancelled, StateFailed},
	StateApproved:      {StateProcessing, StateCancelled, StateFailed},
	StateProcessing:    {StateCompleted, StateCancelled, StateFailed},
	StateCompleted:     {},
	StateFailed:        {},
	StateCancelled:     {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Immutable reports whether the batch's underlying records are frozen.
// From approval onward nothing may recalculate the period.
func (s State) Immutable() bool {
	switch s {
	case StateApproved, StateProcessing, StateCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// =============================================================================
// BATCH
// =============================================================================

type Batch struct {
	ID     string
	Period engine.Period
	State  State

	Total       engine.Money
	RecordCount int

	// Revenue and Ratio feed the safeguard. Ratio is Total / Revenue;
	// zero revenue yields a zero ratio and the terminal band.
	Revenue   engine.Money
	Ratio     decimal.Decimal
	Safeguard string

	// ReviewedBy is whoever approved or cancelled, from the API layer.
	ReviewedBy string

	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type BatchStore interface {
	// Create persists a new batch. One batch per period is enforced by
	// the store; a second create returns engine.ErrRunExists.
	Create(ctx context.Context, b Batch) error

	// Get returns engine.ErrNotFound when no batch exists for the period.
	Get(ctx context.Context, period engine.Period) (Batch, error)

	Update(ctx context.Context, b Batch) error

	List(ctx context.Context) ([]Batch, error)

	// Delete removes a batch during an admin reset. Implementations
	// refuse with engine.ErrBatchImmutable past approval.
	Delete(ctx context.Context, period engine.Period) error
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	Batches BatchStore
	Records commission.RecordStore
	Plan    *engine.Plan
	Now     func() time.Time
}

func NewWorkflow(batches BatchStore, records commission.RecordStore, plan *engine.Plan) *Workflow {
	return &Workflow{
		Batches: batches,
		Records: records,
		Plan:    plan,
		Now:     time.Now,
	}
}

// CreateBatch builds the period's draft batch from its commission records
// and the period's revenue, classifying the payout ratio on the way in.
func (w *Workflow) CreateBatch(ctx context.Context, period engine.Period, revenue engine.Money) (Batch, error) {
	records, err := w.Records.AllForPeriod(ctx, period)
	if err != nil {
		return Batch{}, err
	}

	total := commission.Total(records)
	ratio := decimal.Zero
	if revenue.Cents() > 0 {
		ratio = decimal.NewFromInt(total.Cents()).Div(decimal.NewFromInt(revenue.Cents()))
	}

	now := w.Now().UTC()
	b := Batch{
		ID:          "batch-" + period.String(),
		Period:      period,
		State:       StateDraft,
		Total:       total,
		RecordCount: len(records),
		Revenue:     revenue,
		Ratio:       ratio,
		Safeguard:   w.Plan.ClassifyRatio(ratio),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.Batches.Create(ctx, b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Submit moves draft -> pending_review.
func (w *Workflow) Submit(ctx context.Context, period engine.Period) (Batch, error) {
	return w.transition(ctx, period, StatePendingReview, "")
}

// Approve moves pending_review -> approved and freezes the period's
// records permanently.
func (w *Workflow) Approve(ctx context.Context, period engine.Period, reviewer string) (Batch, error) {
	return w.transition(ctx, period, StateApproved, reviewer)
}

// StartProcessing moves approved -> processing.
func (w *Workflow) StartProcessing(ctx context.Context, period engine.Period) (Batch, error) {
	return w.transition(ctx, period, StateProcessing, "")
}

// Complete moves processing -> completed.
func (w *Workflow) Complete(ctx context.Context, period engine.Period) (Batch, error) {
	return w.transition(ctx, period, StateCompleted, "")
}

// Cancel moves any non-terminal batch to cancelled. Cancelling an
// approved batch abandons the payout; the period can then be reset and
// recalculated.
func (w *Workflow) Cancel(ctx context.Context, period engine.Period, reviewer string) (Batch, error) {
	return w.transition(ctx, period, StateCancelled, reviewer)
}

// Fail moves any non-terminal batch to failed with an operator-visible
// reason.
func (w *Workflow) Fail(ctx context.Context, period engine.Period, reason string) (Batch, error) {
	b, err := w.Batches.Get(ctx, period)
	if err != nil {
		return Batch{}, err
	}
	if !canTransition(b.State, StateFailed) {
		return Batch{}, &engine.TransitionError{Entity: "batch", From: string(b.State), To: string(StateFailed)}
	}
	b.State = StateFailed
	b.FailureReason = reason
	b.UpdatedAt = w.Now().UTC()
	if err := w.Batches.Update(ctx, b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (w *Workflow) transition(ctx context.Context, period engine.Period, to State, reviewer string) (Batch, error) {
	b, err := w.Batches.Get(ctx, period)
	if err != nil {
		return Batch{}, err
	}
	if !canTransition(b.State, to) {
		return Batch{}, &engine.TransitionError{Entity: "batch", From: string(b.State), To: string(to)}
	}
	b.State = to
	if reviewer != "" {
		b.ReviewedBy = reviewer
	}
	b.UpdatedAt = w.Now().UTC()
	if err := w.Batches.Update(ctx, b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportLine is one payee's total for the period, shaped for handoff to
// an ACH or payment provider file.
type ExportLine struct {
	DistributorID engine.DistributorID `json:"distributor_id"`
	AmountCents   int64                `json:"amount_cents"`
}

// Export returns per-recipient totals for the period's batch, sorted by
// distributor for a stable file. Only batches at or past approval may be
// exported.
func (w *Workflow) Export(ctx context.Context, period engine.Period) ([]ExportLine, error) {
	b, err := w.Batches.Get(ctx, period)
	if err != nil {
		return nil, err
	}
	if !b.State.Immutable() {
		return nil, &engine.TransitionError{Entity: "batch", From: string(b.State), To: "export"}
	}

	records, err := w.Records.AllForPeriod(ctx, period)
	if err != nil {
		return nil, err
	}
	totals := commission.TotalByRecipient(records)

	lines := make([]ExportLine, 0, len(totals))
	for id, amount := range totals {
		if amount.IsZero() || amount.IsNegative() {
			continue
		}
		lines = append(lines, ExportLine{DistributorID: id, AmountCents: amount.Cents()})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].DistributorID < lines[j].DistributorID })
	return lines, nil
}
