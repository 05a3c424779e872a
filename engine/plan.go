/*
plan.go - Versioned compensation plan configuration

PURPOSE:
  All policy numbers live here: matrix geometry, activity thresholds,
  per-level rates, rank requirements, bonus amounts, and payout-ratio
  bands. Nothing numeric is hard-coded in calculators - the plan is the
  contract between the business and the engine, stored as versioned JSON
  the same way policies are.

VERSIONING:
  Plans carry a Version and EffectiveAt. A run records which plan version
  produced it; changing the plan means saving a new version, never editing
  numbers a past run depended on.

SEE ALSO:
  - factory/plan.go: Pre-built default plan
  - commission/: Calculators reading rate tables
  - payout/batch.go: Safeguard band classification
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN - The complete ruleset for one compensation scheme
// =============================================================================

type Plan struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	EffectiveAt time.Time `json:"effective_at"`

	Matrix  MatrixConfig  `json:"matrix"`
	Volume  VolumeConfig  `json:"volume"`
	Ranks   []RankRequirement `json:"ranks"`

	Retail           RetailConfig       `json:"retail"`
	MatrixLevels     []decimal.Decimal  `json:"matrix_levels"`
	Matching         map[Rank]MatchRule `json:"matching"`
	OverrideGens     []decimal.Decimal  `json:"override_generations"`
	Infinity         InfinityConfig     `json:"infinity"`
	FastStart        FastStartConfig    `json:"fast_start"`
	RankBonuses      map[Rank]Money     `json:"rank_bonuses"`
	Car              ProgramConfig      `json:"car"`
	Vacation         ProgramConfig      `json:"vacation"`
	CustomerMilestone MilestoneConfig   `json:"customer_milestone"`
	CustomerRetention RetentionConfig   `json:"customer_retention"`
	InfinityPool     PoolConfig         `json:"infinity_pool"`

	PayoutBands []PayoutBand `json:"payout_bands"`
}

// MatrixConfig fixes the forced-matrix geometry. Width is the number of
// positions under each node; MaxDepth bounds the breadth-first search.
type MatrixConfig struct {
	Width    int `json:"width"`
	MaxDepth int `json:"max_depth"`
}

// VolumeConfig governs how personal BV is derived from orders.
type VolumeConfig struct {
	// ActivityThreshold: PBV at or above this marks a distributor active
	// for the period.
	ActivityThreshold BV `json:"activity_threshold"`

	// RetailCountsAsPersonal: whether referred retail BV adds to the
	// referrer's personal BV. Policy, not structure; default false.
	RetailCountsAsPersonal bool `json:"retail_counts_as_personal"`

	// CentsPerBV converts BV points to commissionable cents (100 = $1/BV).
	CentsPerBV decimal.Decimal `json:"cents_per_bv"`
}

// RankRequirement is one row of the qualification table, in ascending
// ladder order. A distributor advances to the highest rank all of whose
// thresholds are satisfied.
type RankRequirement struct {
	Rank          Rank `json:"rank"`
	MinPBV        BV   `json:"min_pbv"`
	MinGBV        BV   `json:"min_gbv"`
	MinActiveLegs int  `json:"min_active_legs"`
	// LegRank: a direct matrix leg counts if ANY member of that subtree is
	// active with at least this rank.
	LegRank Rank `json:"leg_rank"`
}

type RetailConfig struct {
	// Rate applied to order margin (retail price minus wholesale price).
	Rate decimal.Decimal `json:"rate"`
}

// MatchRule caps how deep a sponsor's matching bonus reaches, by the
// sponsor's own rank.
type MatchRule struct {
	Rate  decimal.Decimal `json:"rate"`
	Depth int             `json:"depth"`
}

type InfinityConfig struct {
	// MinRank gates the bonus to the top of the ladder (crown diamond+).
	MinRank Rank            `json:"min_rank"`
	Rate    decimal.Decimal `json:"rate"`
}

type FastStartConfig struct {
	// WindowDays from the new distributor's enrollment date.
	WindowDays int             `json:"window_days"`
	Rate       decimal.Decimal `json:"rate"`
}

// ProgramConfig drives the car and vacation programs: sustained GBV at a
// minimum rank over consecutive periods.
type ProgramConfig struct {
	MinRank            Rank  `json:"min_rank"`
	MinGBV             BV    `json:"min_gbv"`
	ConsecutivePeriods int   `json:"consecutive_periods"`
	MonthlyAmount      Money `json:"monthly_amount"`
}

type MilestoneConfig struct {
	// OrderCount: the customer's Nth qualifying retail order triggers the
	// bonus for the referring distributor.
	OrderCount int   `json:"order_count"`
	Bonus      Money `json:"bonus"`
}

type RetentionConfig struct {
	// WindowDays: a repeat retail purchase within this window of the
	// customer's previous one pays the referrer Rate on the order value.
	WindowDays int             `json:"window_days"`
	Rate       decimal.Decimal `json:"rate"`
}

type PoolConfig struct {
	MinRank     Rank            `json:"min_rank"`
	RevenueRate decimal.Decimal `json:"revenue_rate"`
}

// =============================================================================
// PAYOUT SAFEGUARD BANDS
// =============================================================================

// PayoutBand classifies a payout ratio. Bands are checked in order; the
// first band whose Max exceeds the ratio wins. A zero Max means unbounded
// (the terminal band).
type PayoutBand struct {
	// Max is the exclusive upper bound of the band as a fraction (0.45
	// means 45%). Zero marks the open-ended last band.
	Max   decimal.Decimal `json:"max"`
	Level string          `json:"level"`
}

// ClassifyRatio returns the band level for a payout ratio. Returns the
// last band's level if no bounded band matches, or "" for an empty table.
func (p *Plan) ClassifyRatio(ratio decimal.Decimal) string {
	for _, band := range p.PayoutBands {
		if band.Max.IsZero() {
			return band.Level
		}
		if ratio.LessThan(band.Max) {
			return band.Level
		}
	}
	if n := len(p.PayoutBands); n > 0 {
		return p.PayoutBands[n-1].Level
	}
	return ""
}

// Requirement returns the qualification row for a rank, or nil.
func (p *Plan) Requirement(r Rank) *RankRequirement {
	for i := range p.Ranks {
		if p.Ranks[i].Rank == r {
			return &p.Ranks[i]
		}
	}
	return nil
}
