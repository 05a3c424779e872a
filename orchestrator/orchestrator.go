package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/payout"
	"github.com/warp/compensation-engine/rank"
	"github.com/warp/compensation-engine/volume"
)

// Options wires the orchestrator's collaborators. Every field is
// required except Now.
type Options struct {
	Graph     network.GraphStore
	Orders    volume.OrderStore
	Snapshots volume.SnapshotStore
	Records   commission.RecordStore
	Batches   payout.BatchStore
	Runs      RunStore
	Plan      *engine.Plan
	Registry  *commission.Registry
	Now       func() time.Time
}

type Orchestrator struct {
	graph     network.GraphStore
	orders    volume.OrderStore
	snapshots volume.SnapshotStore
	records   commission.RecordStore
	batches   payout.BatchStore
	runs      RunStore
	plan      *engine.Plan
	registry  *commission.Registry

	snapshotEngine *volume.SnapshotEngine
	evaluator      *rank.Evaluator
	workflow       *payout.Workflow

	now func() time.Time

	// mu serializes Execute and Reset. Stages are already persisted and
	// idempotent-guarded, but interleaving two admin operations on the
	// same process buys nothing and confuses logs.
	mu sync.Mutex
}

func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	se := volume.NewSnapshotEngine(opts.Graph, opts.Orders, opts.Snapshots, opts.Plan)
	se.Now = now
	ev := rank.NewEvaluator(opts.Graph, opts.Snapshots, opts.Plan)
	ev.Now = now
	wf := payout.NewWorkflow(opts.Batches, opts.Records, opts.Plan)
	wf.Now = now
	return &Orchestrator{
		graph:          opts.Graph,
		orders:         opts.Orders,
		snapshots:      opts.Snapshots,
		records:        opts.Records,
		batches:        opts.Batches,
		runs:           opts.Runs,
		plan:           opts.Plan,
		registry:       opts.Registry,
		snapshotEngine: se,
		evaluator:      ev,
		workflow:       wf,
		now:            now,
	}
}

// Workflow exposes the batch workflow built over the same stores, for
// the API layer's approval endpoints.
func (o *Orchestrator) Workflow() *payout.Workflow { return o.workflow }

// Execute runs the full pipeline for a period: snapshots, rank
// evaluation, all commission calculators, draft batch, lock. Exactly one
// run per period; a second call returns engine.ErrRunExists. On stage
// failure the run row is preserved in the failed state with the reason.
func (o *Orchestrator) Execute(ctx context.Context, period engine.Period) (Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := Run{
		ID:          uuid.NewString(),
		Period:      period,
		PlanVersion: o.plan.Version,
		Stage:       StageNotStarted,
		StartedAt:   o.now().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return Run{}, err
	}
	log.Printf("[Run] %s started (plan v%d)", period, o.plan.Version)

	if err := o.executeStages(ctx, &run); err != nil {
		run.Stage = StageFailed
		run.FailureReason = err.Error()
		finished := o.now().UTC()
		run.FinishedAt = &finished
		if uerr := o.runs.Update(ctx, run); uerr != nil {
			log.Printf("[Run] %s failed AND could not persist failure: %v", period, uerr)
		}
		log.Printf("[Run] %s failed: %v", period, err)
		return run, err
	}

	finished := o.now().UTC()
	run.FinishedAt = &finished
	if err := o.runs.Update(ctx, run); err != nil {
		return run, err
	}
	log.Printf("[Run] %s completed: %d snapshots, %d advancements, %d records, %d cents",
		period, run.SnapshotCount, run.Advancements, run.RecordCount, run.TotalCents)
	return run, nil
}

func (o *Orchestrator) executeStages(ctx context.Context, run *Run) error {
	// Stage 1: volume snapshots.
	snaps, err := o.snapshotEngine.Compute(ctx, run.Period)
	if err != nil {
		return fmt.Errorf("snapshot stage: %w", err)
	}
	run.SnapshotCount = len(snaps)
	if err := o.advance(ctx, run, StageSnapshotsComputed); err != nil {
		return err
	}

	// Stage 2: rank evaluation.
	_, events, err := o.evaluator.EvaluateAll(ctx, run.Period)
	if err != nil {
		return fmt.Errorf("rank stage: %w", err)
	}
	run.Advancements = len(events)
	if err := o.advance(ctx, run, StageRanksEvaluated); err != nil {
		return err
	}

	// Stage 3: commissions, two waves.
	records, err := o.calculate(ctx, run.Period, snaps, events)
	if err != nil {
		return fmt.Errorf("commission stage: %w", err)
	}
	if err := o.records.SaveBatch(ctx, records); err != nil {
		return fmt.Errorf("commission stage: %w", err)
	}
	run.RecordCount = len(records)
	run.TotalCents = commission.Total(records).Cents()
	if err := o.advance(ctx, run, StageCommissionsCalculated); err != nil {
		return err
	}

	// Stage 4: draft payout batch with safeguard classification.
	revenue, err := o.periodRevenue(ctx, run.Period)
	if err != nil {
		return fmt.Errorf("batch stage: %w", err)
	}
	batch, err := o.workflow.CreateBatch(ctx, run.Period, revenue)
	if err != nil {
		return fmt.Errorf("batch stage: %w", err)
	}
	log.Printf("[Run] %s batch: total=%s ratio=%s safeguard=%s",
		run.Period, batch.Total, batch.Ratio.StringFixed(4), batch.Safeguard)
	if err := o.advance(ctx, run, StageBatchCreated); err != nil {
		return err
	}

	// Stage 5: lock the period's snapshots.
	if err := o.snapshots.Lock(ctx, run.Period); err != nil {
		return fmt.Errorf("lock stage: %w", err)
	}
	return o.advance(ctx, run, StageLocked)
}

func (o *Orchestrator) advance(ctx context.Context, run *Run, to Stage) error {
	run.Stage = to
	if err := o.runs.Update(ctx, *run); err != nil {
		return fmt.Errorf("advancing to %s: %w", to, err)
	}
	return nil
}

// calculate assembles the frozen Inputs and runs the registry in two
// waves: independent calculators concurrently, then dependents with the
// first wave's records available.
func (o *Orchestrator) calculate(
	ctx context.Context,
	period engine.Period,
	snaps []volume.Snapshot,
	events []engine.RankAdvancement,
) ([]commission.Record, error) {
	distributors, err := o.graph.List(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := o.orders.InPeriod(ctx, period)
	if err != nil {
		return nil, err
	}

	snapByID := make(map[engine.DistributorID]volume.Snapshot, len(snaps))
	for _, s := range snaps {
		snapByID[s.DistributorID] = s
	}

	in := &commission.Inputs{
		Period:    period,
		Plan:      o.plan,
		Snapshots: snapByID,
		Index:     network.BuildIndex(distributors),
		Orders:    orders,
		Events:    events,
		Earlier:   make(map[commission.Type][]commission.Record),
		History: func(ctx context.Context, id engine.DistributorID, n int) ([]volume.Snapshot, error) {
			return o.snapshotEngine.History(ctx, id, period, n)
		},
		CustomerOrders: func(ctx context.Context, customerID string, before time.Time) ([]volume.Order, error) {
			return o.orders.ByCustomerBefore(ctx, customerID, before)
		},
		Now: o.now,
	}

	first, second := o.registry.Waves()

	type result struct {
		t       commission.Type
		records []commission.Record
		err     error
	}
	results := make([]result, len(first))
	var wg sync.WaitGroup
	for i, calc := range first {
		wg.Add(1)
		go func(i int, calc commission.Calculator) {
			defer wg.Done()
			recs, err := calc.Calculate(ctx, in)
			results[i] = result{t: calc.Type(), records: recs, err: err}
		}(i, calc)
	}
	wg.Wait()

	var all []commission.Record
	for _, res := range results {
		if res.err != nil {
			return nil, &engine.CalculatorError{Type: string(res.t), Err: res.err}
		}
		in.Earlier[res.t] = res.records
		all = append(all, res.records...)
	}

	for _, calc := range second {
		recs, err := calc.Calculate(ctx, in)
		if err != nil {
			return nil, &engine.CalculatorError{Type: string(calc.Type()), Err: err}
		}
		in.Earlier[calc.Type()] = recs
		all = append(all, recs...)
	}
	return all, nil
}

func (o *Orchestrator) periodRevenue(ctx context.Context, period engine.Period) (engine.Money, error) {
	orders, err := o.orders.InPeriod(ctx, period)
	if err != nil {
		return 0, err
	}
	var revenue engine.Money
	for i := range orders {
		if orders[i].Qualifying() {
			revenue = revenue.Add(orders[i].TotalCents())
		}
	}
	return revenue, nil
}

// Reset deletes a period's run, records and snapshots so the period can
// be re-executed. Refused once the batch is approved: approved money is
// immutable. Admin-only by construction; the API layer guards the route.
func (o *Orchestrator) Reset(ctx context.Context, period engine.Period) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	batch, err := o.batches.Get(ctx, period)
	switch {
	case err == nil && batch.State.Immutable():
		return engine.ErrBatchImmutable
	case err == nil:
		if derr := o.batches.Delete(ctx, period); derr != nil {
			return derr
		}
	case !engine.IsNotFound(err):
		return err
	}

	if _, err := o.runs.Get(ctx, period); err != nil {
		return err
	}

	if err := o.records.DeleteForPeriod(ctx, period); err != nil {
		return err
	}
	if err := o.snapshots.Unlock(ctx, period); err != nil {
		return err
	}
	if err := o.runs.Delete(ctx, period); err != nil {
		return err
	}
	log.Printf("[Run] %s reset", period)
	return nil
}

// Status returns the period's run.
func (o *Orchestrator) Status(ctx context.Context, period engine.Period) (Run, error) {
	return o.runs.Get(ctx, period)
}

// List returns every run, oldest period first.
func (o *Orchestrator) List(ctx context.Context) ([]Run, error) {
	return o.runs.List(ctx)
}
