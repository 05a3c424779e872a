/*
Package factory provides JSON to Go plan conversion and the default plan.

PURPOSE:
  Converts JSON plan definitions into engine.Plan objects. This enables
  compensation changes without code changes - the business can define
  rate tables in JSON, and the factory validates and builds the proper
  Go structs.

WHY JSON?
  - Non-developers can modify rates and thresholds
  - Easy integration with an admin UI
  - Version control for plan definitions
  - Database storage of plan configs (store/sqlite plans table)

KEY FEATURES:
  - Validates matrix geometry, rate tables and the rank ladder
  - Sets sensible defaults (CentsPerBV, payout bands)
  - Ships DefaultPlan(), the standard 5x7 matrix plan

USAGE:
  factory := NewPlanFactory()

  // From JSON string (e.g. loaded from the plans table)
  plan, err := factory.ParsePlan(jsonStr)

  // Or use the built-in preset
  plan := factory.DefaultPlan()

SEE ALSO:
  - engine/plan.go: Plan type definition
  - store/sqlite/sqlite.go: Versioned plan persistence
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plans to engine.Plan structs.
type PlanFactory struct{}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses a JSON string into a validated Plan.
func (f *PlanFactory) ParsePlan(jsonStr string) (*engine.Plan, error) {
	var plan engine.Plan
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	f.applyDefaults(&plan)
	if err := f.Validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// applyDefaults fills fields a hand-written JSON plan commonly omits.
func (f *PlanFactory) applyDefaults(plan *engine.Plan) {
	if plan.Version == 0 {
		plan.Version = 1
	}
	if plan.Volume.CentsPerBV.IsZero() {
		// 1 BV = $1.00 commissionable unless the plan says otherwise.
		plan.Volume.CentsPerBV = decimal.NewFromInt(100)
	}
	if len(plan.PayoutBands) == 0 {
		plan.PayoutBands = defaultPayoutBands()
	}
}

// Validate checks the structural invariants every calculator relies on.
func (f *PlanFactory) Validate(plan *engine.Plan) error {
	if plan.ID == "" {
		return fmt.Errorf("plan ID is required")
	}
	if plan.Matrix.Width < 1 {
		return fmt.Errorf("plan %s: matrix width must be at least 1, got %d", plan.ID, plan.Matrix.Width)
	}
	if plan.Matrix.MaxDepth < 1 {
		return fmt.Errorf("plan %s: matrix max depth must be at least 1, got %d", plan.ID, plan.Matrix.MaxDepth)
	}
	if len(plan.Ranks) == 0 {
		return fmt.Errorf("plan %s: rank requirement table is empty", plan.ID)
	}
	prev := -1
	for _, req := range plan.Ranks {
		idx := req.Rank.Index()
		if idx < 0 {
			return fmt.Errorf("plan %s: unknown rank %q in requirement table", plan.ID, req.Rank)
		}
		if idx <= prev {
			return fmt.Errorf("plan %s: rank requirements must be in ascending ladder order", plan.ID)
		}
		prev = idx
	}
	for rank := range plan.Matching {
		if !rank.Valid() {
			return fmt.Errorf("plan %s: unknown rank %q in matching table", plan.ID, rank)
		}
	}
	for rank := range plan.RankBonuses {
		if !rank.Valid() {
			return fmt.Errorf("plan %s: unknown rank %q in bonus table", plan.ID, rank)
		}
	}
	if len(plan.MatrixLevels) > plan.Matrix.MaxDepth {
		return fmt.Errorf("plan %s: %d matrix level rates exceed max depth %d",
			plan.ID, len(plan.MatrixLevels), plan.Matrix.MaxDepth)
	}
	return nil
}

// =============================================================================
// DEFAULT PLAN - the standard 5x7 matrix scheme
// =============================================================================

// DefaultPlan returns the built-in compensation plan: a 5-wide, 7-deep
// forced matrix with a 50 BV activity threshold and the full bonus set.
func (f *PlanFactory) DefaultPlan() *engine.Plan {
	return DefaultPlan()
}

// DefaultPlan is the standalone form used by cmd/server and tests.
func DefaultPlan() *engine.Plan {
	plan := &engine.Plan{
		ID:          "standard-5x7",
		Name:        "Standard 5x7 Matrix Plan",
		Version:     1,
		EffectiveAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),

		Matrix: engine.MatrixConfig{Width: 5, MaxDepth: 7},
		Volume: engine.VolumeConfig{
			ActivityThreshold:      engine.NewBVFromInt(50),
			RetailCountsAsPersonal: false,
			CentsPerBV:             decimal.NewFromInt(100),
		},
		Ranks: []engine.RankRequirement{
			{Rank: engine.RankAssociate, MinPBV: engine.NewBVFromInt(50)},
			{Rank: engine.RankBronze, MinPBV: engine.NewBVFromInt(50), MinGBV: engine.NewBVFromInt(500), MinActiveLegs: 2, LegRank: engine.RankAssociate},
			{Rank: engine.RankSilver, MinPBV: engine.NewBVFromInt(100), MinGBV: engine.NewBVFromInt(2000), MinActiveLegs: 3, LegRank: engine.RankAssociate},
			{Rank: engine.RankGold, MinPBV: engine.NewBVFromInt(100), MinGBV: engine.NewBVFromInt(5000), MinActiveLegs: 3, LegRank: engine.RankBronze},
			{Rank: engine.RankPlatinum, MinPBV: engine.NewBVFromInt(150), MinGBV: engine.NewBVFromInt(15000), MinActiveLegs: 4, LegRank: engine.RankSilver},
			{Rank: engine.RankDiamond, MinPBV: engine.NewBVFromInt(150), MinGBV: engine.NewBVFromInt(50000), MinActiveLegs: 4, LegRank: engine.RankGold},
			{Rank: engine.RankCrownDiamond, MinPBV: engine.NewBVFromInt(200), MinGBV: engine.NewBVFromInt(150000), MinActiveLegs: 5, LegRank: engine.RankPlatinum},
			{Rank: engine.RankRoyalDiamond, MinPBV: engine.NewBVFromInt(200), MinGBV: engine.NewBVFromInt(500000), MinActiveLegs: 5, LegRank: engine.RankDiamond},
		},

		Retail: engine.RetailConfig{Rate: rate(0.20)},

		// Per-level matrix rates, level 1 closest to the recipient.
		MatrixLevels: []decimal.Decimal{
			rate(0.05), rate(0.05), rate(0.04), rate(0.04),
			rate(0.03), rate(0.03), rate(0.02),
		},

		// Matching reach grows with the sponsor's own rank.
		Matching: map[engine.Rank]engine.MatchRule{
			engine.RankGold:         {Rate: rate(0.10), Depth: 1},
			engine.RankPlatinum:     {Rate: rate(0.10), Depth: 2},
			engine.RankDiamond:      {Rate: rate(0.15), Depth: 3},
			engine.RankCrownDiamond: {Rate: rate(0.15), Depth: 4},
			engine.RankRoyalDiamond: {Rate: rate(0.20), Depth: 5},
		},

		OverrideGens: []decimal.Decimal{rate(0.03), rate(0.02), rate(0.01)},

		Infinity: engine.InfinityConfig{
			MinRank: engine.RankCrownDiamond,
			Rate:    rate(0.01),
		},

		FastStart: engine.FastStartConfig{WindowDays: 30, Rate: rate(0.25)},

		RankBonuses: map[engine.Rank]engine.Money{
			engine.RankBronze:       engine.Dollars(100),
			engine.RankSilver:       engine.Dollars(250),
			engine.RankGold:         engine.Dollars(500),
			engine.RankPlatinum:     engine.Dollars(1500),
			engine.RankDiamond:      engine.Dollars(5000),
			engine.RankCrownDiamond: engine.Dollars(15000),
			engine.RankRoyalDiamond: engine.Dollars(50000),
		},

		Car: engine.ProgramConfig{
			MinRank:            engine.RankPlatinum,
			MinGBV:             engine.NewBVFromInt(15000),
			ConsecutivePeriods: 3,
			MonthlyAmount:      engine.Dollars(600),
		},
		Vacation: engine.ProgramConfig{
			MinRank:            engine.RankDiamond,
			MinGBV:             engine.NewBVFromInt(50000),
			ConsecutivePeriods: 6,
			MonthlyAmount:      engine.Dollars(1000),
		},

		CustomerMilestone: engine.MilestoneConfig{OrderCount: 3, Bonus: engine.Dollars(25)},
		CustomerRetention: engine.RetentionConfig{WindowDays: 45, Rate: rate(0.05)},

		InfinityPool: engine.PoolConfig{
			MinRank:     engine.RankDiamond,
			RevenueRate: rate(0.02),
		},

		PayoutBands: defaultPayoutBands(),
	}
	return plan
}

func defaultPayoutBands() []engine.PayoutBand {
	return []engine.PayoutBand{
		{Max: rate(0.45), Level: "excellent"},
		{Max: rate(0.50), Level: "good"},
		{Max: rate(0.55), Level: "acceptable"},
		{Max: rate(0.60), Level: "warning"},
		{Level: "danger"},
	}
}

func rate(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
