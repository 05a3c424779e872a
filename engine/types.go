/*
Package engine provides the core types for the compensation engine.

PURPOSE:
  This package contains the domain-wide value types and identifiers that
  every other package builds on: periods, money, business volume, ranks,
  and the versioned compensation plan. It has no knowledge of storage or
  of individual calculators.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A payable amount in integer minor currency units (cents)
  - BV: Business volume, the point currency of compensation math
  - DistributorID: Type-safe distributor identifier
  - Rank: The ordered rank ladder

DESIGN PRINCIPLES:
  1. Integer money: Payable amounts are always whole cents, never floats
  2. Precision: BV and rates use decimal.Decimal to avoid float drift
  3. Type Safety: Strong typing for IDs prevents mixing identifiers
  4. Advance-only ranks: The engine never demotes; comparison helpers
     exist so callers can express "gold or better" directly

USAGE:
  bv := engine.NewBV(120)
  amount := engine.MoneyFromBV(bv, decimal.NewFromFloat(0.05), plan.Volume.CentsPerBV)

SEE ALSO:
  - period.go: Monthly period arithmetic
  - plan.go: The versioned compensation plan configuration
  - errors.go: Sentinel and structured errors
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DistributorID string

// =============================================================================
// MONEY - Integer minor currency units (cents)
// =============================================================================

// Money is a payable amount in cents. Commission records, batch totals and
// bonus tables all use Money; fractional cents never exist in the ledger.
type Money int64

func Cents(n int64) Money { return Money(n) }

// Dollars builds a Money from whole dollars. For plan tables.
func Dollars(n int64) Money { return Money(n * 100) }

func (m Money) Cents() int64       { return int64(m) }
func (m Money) Add(o Money) Money  { return m + o }
func (m Money) Sub(o Money) Money  { return m - o }
func (m Money) IsZero() bool       { return m == 0 }
func (m Money) IsNegative() bool   { return m < 0 }

// MulRate multiplies by a decimal rate, rounding half away from zero to
// whole cents.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// =============================================================================
// BV - Business volume (points, not cash)
// =============================================================================

// BV is the point value assigned to products and summed per order. It is
// distinct from price: BV drives qualification and percentage math, Money
// is what actually gets paid.
type BV struct {
	Value decimal.Decimal
}

func NewBV(v float64) BV      { return BV{Value: decimal.NewFromFloat(v)} }
func NewBVFromInt(v int64) BV { return BV{Value: decimal.NewFromInt(v)} }
func ZeroBV() BV              { return BV{Value: decimal.Zero} }

func MustParseBV(s string) BV {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroBV()
	}
	return BV{Value: d}
}

// BV serializes as a plain decimal in JSON so plan documents read
// naturally ("min_pbv": "50"), not as a wrapper object.
func (b BV) MarshalJSON() ([]byte, error)    { return b.Value.MarshalJSON() }
func (b *BV) UnmarshalJSON(data []byte) error { return b.Value.UnmarshalJSON(data) }

func (b BV) Add(o BV) BV               { return BV{Value: b.Value.Add(o.Value)} }
func (b BV) Sub(o BV) BV               { return BV{Value: b.Value.Sub(o.Value)} }
func (b BV) IsZero() bool              { return b.Value.IsZero() }
func (b BV) GreaterThan(o BV) bool     { return b.Value.GreaterThan(o.Value) }
func (b BV) AtLeast(o BV) bool         { return b.Value.GreaterThanOrEqual(o.Value) }
func (b BV) Equal(o BV) bool           { return b.Value.Equal(o.Value) }
func (b BV) String() string            { return b.Value.String() }

// MoneyFromBV converts a BV amount to cents: bv x rate x centsPerBV,
// rounded half away from zero. centsPerBV is plan configuration (100 means
// one BV point is worth one dollar of commissionable value).
func MoneyFromBV(bv BV, rate, centsPerBV decimal.Decimal) Money {
	return Money(bv.Value.Mul(rate).Mul(centsPerBV).Round(0).IntPart())
}

// =============================================================================
// RANK - Ordered ladder, advance-only within the engine
// =============================================================================

type Rank string

const (
	RankAssociate    Rank = "associate"
	RankBronze       Rank = "bronze"
	RankSilver       Rank = "silver"
	RankGold         Rank = "gold"
	RankPlatinum     Rank = "platinum"
	RankDiamond      Rank = "diamond"
	RankCrownDiamond Rank = "crown_diamond"
	RankRoyalDiamond Rank = "royal_diamond"
)

// RankLadder is the canonical ascending order. Evaluation walks this slice;
// requirement tables in the plan must use these values.
var RankLadder = []Rank{
	RankAssociate,
	RankBronze,
	RankSilver,
	RankGold,
	RankPlatinum,
	RankDiamond,
	RankCrownDiamond,
	RankRoyalDiamond,
}

var rankIndex = func() map[Rank]int {
	m := make(map[Rank]int, len(RankLadder))
	for i, r := range RankLadder {
		m[r] = i
	}
	return m
}()

// Index returns the position on the ladder, or -1 for an unknown rank.
func (r Rank) Index() int {
	i, ok := rankIndex[r]
	if !ok {
		return -1
	}
	return i
}

func (r Rank) Valid() bool          { return r.Index() >= 0 }
func (r Rank) Above(o Rank) bool    { return r.Index() > o.Index() }
func (r Rank) AtLeast(o Rank) bool  { return r.Index() >= o.Index() }
func (r Rank) IsTop() bool          { return r == RankLadder[len(RankLadder)-1] }

// TopRank returns the terminal rank (no further transitions).
func TopRank() Rank { return RankLadder[len(RankLadder)-1] }
