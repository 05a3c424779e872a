package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// CALCULATOR CONTRACT
// =============================================================================

// Calculator computes one bonus type from frozen period inputs. Calculate
// must be a pure function of Inputs: no store access, no clock, so runs
// are reproducible.
type Calculator interface {
	Type() Type

	// DependsOn lists commission types whose records this calculator
	// consumes. Calculators with an empty dependency list run first,
	// concurrently; dependents run afterwards with the first wave's
	// records in Inputs.Earlier.
	DependsOn() []Type

	Calculate(ctx context.Context, in *Inputs) ([]Record, error)
}

// HistoryFunc loads a distributor's snapshots for the n periods ending at
// the run period, newest first, skipping missing periods.
type HistoryFunc func(ctx context.Context, id engine.DistributorID, n int) ([]volume.Snapshot, error)

// CustomerOrdersFunc loads a customer's orders created strictly before an
// instant, oldest first.
type CustomerOrdersFunc func(ctx context.Context, customerID string, before time.Time) ([]volume.Order, error)

// Inputs is the read-only world a calculator sees. Assembled once per run
// by the orchestrator after snapshots and ranks are settled.
type Inputs struct {
	Period engine.Period
	Plan   *engine.Plan

	// Snapshots for the run period, keyed by distributor. Ranks on the
	// Index reflect post-evaluation state.
	Snapshots map[engine.DistributorID]volume.Snapshot
	Index     *network.Index

	// Orders created within the period, all statuses. Calculators filter
	// with Qualifying().
	Orders []volume.Order

	// Events emitted by this run's rank evaluation.
	Events []engine.RankAdvancement

	// Earlier holds records produced by already-finished calculators,
	// keyed by type. Empty for first-wave calculators.
	Earlier map[Type][]Record

	History        HistoryFunc
	CustomerOrders CustomerOrdersFunc

	Now func() time.Time
}

// Active reports whether the distributor is active this period.
func (in *Inputs) Active(id engine.DistributorID) bool {
	snap, ok := in.Snapshots[id]
	return ok && snap.Active
}

// distributor returns the indexed record and whether it is payable
// (exists and is not deleted or suspended).
func (in *Inputs) distributor(id engine.DistributorID) (network.Distributor, bool) {
	d, ok := in.Index.ByID[id]
	if !ok || d.Status != network.StatusActive {
		return network.Distributor{}, false
	}
	return d, true
}

// downlineBV resolves a traversed member's personal BV. Soft-deleted
// members carry no snapshot and contribute zero. A missing snapshot for
// anyone else means the run's inputs are broken, and the calculator must
// abort rather than silently shorting an upline.
func (in *Inputs) downlineBV(d network.Distributor, stage string) (engine.BV, error) {
	snap, ok := in.Snapshots[d.ID]
	if !ok {
		if d.Status == network.StatusDeleted {
			return engine.ZeroBV(), nil
		}
		return engine.ZeroBV(), &engine.DependencyError{Stage: stage, DistributorID: d.ID, What: "snapshot"}
	}
	return snap.PersonalBV, nil
}

func (in *Inputs) newRecord(recipient engine.DistributorID, t Type, src SourceType, srcID string, amount engine.Money) Record {
	return Record{
		ID:          uuid.NewString(),
		Period:      in.Period,
		RecipientID: recipient,
		Type:        t,
		Source:      src,
		SourceID:    srcID,
		Amount:      amount,
		CreatedAt:   in.Now().UTC(),
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the calculator set for a deployment. The default set is
// every bonus in the plan; tests register subsets.
type Registry struct {
	calculators []Calculator
	byType      map[Type]Calculator
}

func NewRegistry(calculators ...Calculator) (*Registry, error) {
	r := &Registry{byType: make(map[Type]Calculator, len(calculators))}
	for _, c := range calculators {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Calculator) error {
	if _, exists := r.byType[c.Type()]; exists {
		return fmt.Errorf("calculator %q already registered", c.Type())
	}
	for _, dep := range c.DependsOn() {
		if _, ok := r.byType[dep]; !ok {
			return fmt.Errorf("calculator %q depends on unregistered %q", c.Type(), dep)
		}
	}
	r.byType[c.Type()] = c
	r.calculators = append(r.calculators, c)
	return nil
}

func (r *Registry) All() []Calculator { return r.calculators }

func (r *Registry) ByType(t Type) (Calculator, bool) {
	c, ok := r.byType[t]
	return c, ok
}

// Waves partitions calculators: independents first, dependents second.
// Registration order already guarantees dependencies precede dependents,
// so two waves suffice for the current set.
func (r *Registry) Waves() (first, second []Calculator) {
	for _, c := range r.calculators {
		if len(c.DependsOn()) == 0 {
			first = append(first, c)
		} else {
			second = append(second, c)
		}
	}
	return first, second
}

// DefaultRegistry wires every built-in calculator.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		&RetailCalculator{},
		&MatrixCalculator{},
		&OverrideCalculator{},
		&InfinityCalculator{},
		&FastStartCalculator{},
		&RankAdvancementCalculator{},
		&CarCalculator{},
		&VacationCalculator{},
		&CustomerMilestoneCalculator{},
		&CustomerRetentionCalculator{},
		&InfinityPoolCalculator{},
		&MatchingCalculator{},
	)
	if err != nil {
		// Only reachable through a programming error in the list above.
		panic(err)
	}
	return r
}
