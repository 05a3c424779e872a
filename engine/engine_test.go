package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestParsePeriod_RoundTrip(t *testing.T) {
	p, err := engine.ParsePeriod("2025-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Year != 2025 || p.Month != time.March {
		t.Errorf("expected 2025-03, got %v", p)
	}
	if p.String() != "2025-03" {
		t.Errorf("expected string 2025-03, got %s", p.String())
	}
}

func TestParsePeriod_Malformed(t *testing.T) {
	for _, s := range []string{"2025", "2025-13", "march", ""} {
		if _, err := engine.ParsePeriod(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestPeriod_ContainsBoundaries(t *testing.T) {
	p := engine.MustParsePeriod("2025-03")

	first := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)
	next := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	if !p.Contains(first) {
		t.Error("first instant should be inside period")
	}
	if !p.Contains(last) {
		t.Error("last second should be inside period")
	}
	if p.Contains(next) {
		t.Error("first instant of next month should be outside")
	}
}

func TestPeriod_BackCrossesYear(t *testing.T) {
	p := engine.MustParsePeriod("2025-01")
	if got := p.Back(2).String(); got != "2024-11" {
		t.Errorf("expected 2024-11, got %s", got)
	}
	if got := p.Next().String(); got != "2025-02" {
		t.Errorf("expected 2025-02, got %s", got)
	}
}

// =============================================================================
// MONEY TESTS
// =============================================================================

func TestMoney_MulRateRounds(t *testing.T) {
	// 1234 cents at 5% = 61.7 cents, rounds to 62
	m := engine.Cents(1234).MulRate(decimal.NewFromFloat(0.05))
	if m.Cents() != 62 {
		t.Errorf("expected 62 cents, got %d", m.Cents())
	}
}

func TestMoneyFromBV(t *testing.T) {
	// 150 BV x 10% x 100 cents/BV = 1500 cents
	m := engine.MoneyFromBV(engine.NewBVFromInt(150), decimal.NewFromFloat(0.10), decimal.NewFromInt(100))
	if m.Cents() != 1500 {
		t.Errorf("expected 1500 cents, got %d", m.Cents())
	}
}

func TestMoney_String(t *testing.T) {
	if s := engine.Cents(120550).String(); s != "$1205.50" {
		t.Errorf("expected $1205.50, got %s", s)
	}
	if s := engine.Cents(-5).String(); s != "-$0.05" {
		t.Errorf("expected -$0.05, got %s", s)
	}
}

// =============================================================================
// RANK TESTS
// =============================================================================

func TestRank_Ordering(t *testing.T) {
	if !engine.RankPlatinum.Above(engine.RankGold) {
		t.Error("platinum should be above gold")
	}
	if !engine.RankGold.AtLeast(engine.RankGold) {
		t.Error("gold should be at least gold")
	}
	if engine.RankAssociate.Above(engine.RankRoyalDiamond) {
		t.Error("associate should not be above royal diamond")
	}
	if !engine.RankRoyalDiamond.IsTop() {
		t.Error("royal diamond should be terminal")
	}
	if engine.Rank("archduke").Valid() {
		t.Error("unknown rank should be invalid")
	}
}

// =============================================================================
// PLAN BAND TESTS
// =============================================================================

func bandPlan() *engine.Plan {
	return &engine.Plan{
		PayoutBands: []engine.PayoutBand{
			{Max: decimal.NewFromFloat(0.45), Level: "excellent"},
			{Max: decimal.NewFromFloat(0.50), Level: "good"},
			{Max: decimal.NewFromFloat(0.55), Level: "acceptable"},
			{Max: decimal.NewFromFloat(0.60), Level: "warning"},
			{Level: "danger"},
		},
	}
}

func TestClassifyRatio_Bands(t *testing.T) {
	plan := bandPlan()
	cases := []struct {
		ratio float64
		want  string
	}{
		{0.10, "excellent"},
		{0.449, "excellent"},
		{0.45, "good"},
		{0.52, "acceptable"},
		{0.58, "warning"},
		{0.60, "danger"},
		{0.99, "danger"},
	}
	for _, c := range cases {
		got := plan.ClassifyRatio(decimal.NewFromFloat(c.ratio))
		if got != c.want {
			t.Errorf("ratio %.3f: expected %s, got %s", c.ratio, c.want, got)
		}
	}
}
