package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	testPeriod = engine.MustParsePeriod("2025-03")
	testNow    = time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC)
)

func testPlan() *engine.Plan {
	return &engine.Plan{
		ID:     "test",
		Matrix: engine.MatrixConfig{Width: 3, MaxDepth: 10},
		Volume: engine.VolumeConfig{
			ActivityThreshold: engine.NewBVFromInt(50),
			CentsPerBV:        decimal.NewFromInt(100),
		},
		Retail:       engine.RetailConfig{Rate: decimal.NewFromFloat(0.20)},
		MatrixLevels: []decimal.Decimal{decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03)},
		Matching: map[engine.Rank]engine.MatchRule{
			engine.RankGold:    {Rate: decimal.NewFromFloat(0.10), Depth: 1},
			engine.RankDiamond: {Rate: decimal.NewFromFloat(0.15), Depth: 2},
		},
		OverrideGens: []decimal.Decimal{decimal.NewFromFloat(0.03), decimal.NewFromFloat(0.02)},
		Infinity: engine.InfinityConfig{
			MinRank: engine.RankCrownDiamond,
			Rate:    decimal.NewFromFloat(0.01),
		},
		FastStart: engine.FastStartConfig{WindowDays: 30, Rate: decimal.NewFromFloat(0.25)},
		RankBonuses: map[engine.Rank]engine.Money{
			engine.RankBronze: engine.Dollars(100),
			engine.RankSilver: engine.Dollars(250),
		},
		Car: engine.ProgramConfig{
			MinRank:            engine.RankPlatinum,
			MinGBV:             engine.NewBVFromInt(1000),
			ConsecutivePeriods: 3,
			MonthlyAmount:      engine.Dollars(600),
		},
		CustomerMilestone: engine.MilestoneConfig{OrderCount: 3, Bonus: engine.Dollars(25)},
		CustomerRetention: engine.RetentionConfig{WindowDays: 45, Rate: decimal.NewFromFloat(0.05)},
		InfinityPool: engine.PoolConfig{
			MinRank:     engine.RankDiamond,
			RevenueRate: decimal.NewFromFloat(0.02),
		},
	}
}

// world accumulates the fixture state that becomes one Inputs value.
type world struct {
	plan           *engine.Plan
	distributors   []network.Distributor
	snaps          map[engine.DistributorID]volume.Snapshot
	orders         []volume.Order
	events         []engine.RankAdvancement
	earlier        map[commission.Type][]commission.Record
	history        map[engine.DistributorID][]volume.Snapshot
	customerOrders map[string][]volume.Order
}

func newWorld() *world {
	return &world{
		plan:           testPlan(),
		snaps:          map[engine.DistributorID]volume.Snapshot{},
		earlier:        map[commission.Type][]commission.Record{},
		history:        map[engine.DistributorID][]volume.Snapshot{},
		customerOrders: map[string][]volume.Order{},
	}
}

// addDistributor appends a node. sponsor and matrixParent are optional;
// matrix depth is derived loosely since calculators only use relations.
func (w *world) addDistributor(id engine.DistributorID, rank engine.Rank, sponsor, matrixParent engine.DistributorID, position, depth int, enrolled time.Time) {
	d := network.Distributor{
		ID:        id,
		Rank:      rank,
		Status:    network.StatusActive,
		CreatedAt: enrolled,
	}
	if sponsor != "" {
		s := sponsor
		d.SponsorID = &s
	}
	if matrixParent != "" {
		p := matrixParent
		pos, dep := position, depth
		d.MatrixParentID = &p
		d.MatrixPosition = &pos
		d.MatrixDepth = &dep
	}
	w.distributors = append(w.distributors, d)
}

func (w *world) activeSnap(id engine.DistributorID, pbv int64) {
	w.snaps[id] = volume.Snapshot{
		DistributorID: id,
		Period:        testPeriod,
		PersonalBV:    engine.NewBVFromInt(pbv),
		GroupBV:       engine.NewBVFromInt(pbv),
		Active:        true,
	}
}

func (w *world) inactiveSnap(id engine.DistributorID, pbv int64) {
	s := volume.Snapshot{
		DistributorID: id,
		Period:        testPeriod,
		PersonalBV:    engine.NewBVFromInt(pbv),
		GroupBV:       engine.NewBVFromInt(pbv),
	}
	w.snaps[id] = s
}

func (w *world) inputs() *commission.Inputs {
	return &commission.Inputs{
		Period:    testPeriod,
		Plan:      w.plan,
		Snapshots: w.snaps,
		Index:     network.BuildIndex(w.distributors),
		Orders:    w.orders,
		Events:    w.events,
		Earlier:   w.earlier,
		History: func(_ context.Context, id engine.DistributorID, n int) ([]volume.Snapshot, error) {
			h := w.history[id]
			if len(h) > n {
				h = h[:n]
			}
			return h, nil
		},
		CustomerOrders: func(_ context.Context, customerID string, before time.Time) ([]volume.Order, error) {
			var out []volume.Order
			for _, o := range w.customerOrders[customerID] {
				if o.CreatedAt.Before(before) {
					out = append(out, o)
				}
			}
			return out, nil
		},
		Now: func() time.Time { return testNow },
	}
}

func retailOrder(id, customer string, referrer engine.DistributorID, priceCents, wholesaleCents int64, at time.Time) volume.Order {
	c, r := customer, referrer
	return volume.Order{
		ID:                id,
		Kind:              volume.OrderRetail,
		CustomerID:        &c,
		ReferrerID:        &r,
		PaymentStatus:     volume.PaymentPaid,
		FulfillmentStatus: volume.FulfillmentFulfilled,
		CreatedAt:         at,
		Items: []volume.OrderItem{
			{ID: id + "-1", SKU: "SKU-R", Quantity: 1, BV: engine.NewBVFromInt(20),
				PriceCents: engine.Cents(priceCents), WholesaleCents: engine.Cents(wholesaleCents)},
		},
	}
}

func wholesaleOrder(id string, buyer engine.DistributorID, bv int64, at time.Time) volume.Order {
	b := buyer
	return volume.Order{
		ID:                 id,
		Kind:               volume.OrderWholesale,
		DistributorID:      &b,
		IsPersonalPurchase: true,
		PaymentStatus:      volume.PaymentPaid,
		FulfillmentStatus:  volume.FulfillmentFulfilled,
		CreatedAt:          at,
		Items: []volume.OrderItem{
			{ID: id + "-1", SKU: "SKU-W", Quantity: 1, BV: engine.NewBVFromInt(bv),
				PriceCents: engine.Dollars(bv), WholesaleCents: engine.Dollars(bv)},
		},
	}
}

func totalFor(records []commission.Record, id engine.DistributorID) engine.Money {
	return commission.TotalByRecipient(records)[id]
}

// =============================================================================
// RETAIL
// =============================================================================

func TestRetailCalculator_PaysMarginShare(t *testing.T) {
	// GIVEN: A qualifying retail order with 1000 cents of margin
	// WHEN: The retail calculator runs at a 20% rate
	// THEN: The referrer earns 200 cents, tied to the order

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("ref", 60)
	w.orders = append(w.orders, retailOrder("o-1", "cust-1", "ref", 3000, 2000, testPeriod.Start()))

	records, err := (&commission.RetailCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.Cents(200), records[0].Amount)
	assert.Equal(t, commission.TypeRetail, records[0].Type)
	assert.Equal(t, commission.SourceOrder, records[0].Source)
	assert.Equal(t, "o-1", records[0].SourceID)
	assert.Equal(t, testPeriod, records[0].Period)
}

func TestRetailCalculator_SkipsNonQualifyingAndUnpayable(t *testing.T) {
	// GIVEN: An unpaid order, and a paid order referred by a suspended
	//        distributor
	// WHEN: The retail calculator runs
	// THEN: No records are produced

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.addDistributor("susp", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.distributors[1].Status = network.StatusSuspended
	w.activeSnap("ref", 60)
	w.activeSnap("susp", 60)

	unpaid := retailOrder("o-1", "cust-1", "ref", 3000, 2000, testPeriod.Start())
	unpaid.PaymentStatus = volume.PaymentPending
	suspended := retailOrder("o-2", "cust-2", "susp", 3000, 2000, testPeriod.Start())
	w.orders = append(w.orders, unpaid, suspended)

	records, err := (&commission.RetailCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// MATRIX
// =============================================================================

func TestMatrixCalculator_PerLevelRates(t *testing.T) {
	// GIVEN: root -> a -> b in the matrix, paid levels 5% and 3%,
	//        a has 100 PBV and b has 50 PBV
	// WHEN: The matrix calculator runs
	// THEN: root earns 500 + 150 and a earns 250, per-source records

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.addDistributor("b", engine.RankAssociate, "a", "a", 1, 2, enrolled)
	w.activeSnap("root", 60)
	w.activeSnap("a", 100)
	w.activeSnap("b", 50)

	records, err := (&commission.MatrixCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)

	assert.Equal(t, engine.Cents(650), totalFor(records, "root"))
	assert.Equal(t, engine.Cents(250), totalFor(records, "a"))
	assert.Equal(t, engine.Money(0), totalFor(records, "b"))

	// One record per contributing source.
	sources := map[string]bool{}
	for _, r := range records {
		if r.RecipientID == "root" {
			sources[r.SourceID] = true
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, sources)
}

func TestMatrixCalculator_InactiveRecipientEarnsNothing(t *testing.T) {
	// GIVEN: root is below the activity threshold
	// WHEN: The matrix calculator runs
	// THEN: root receives no matrix records

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.inactiveSnap("root", 0)
	w.activeSnap("a", 100)

	records, err := (&commission.MatrixCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Equal(t, engine.Money(0), totalFor(records, "root"))
}

func TestMatrixCalculator_MissingSnapshotAbortsRun(t *testing.T) {
	// GIVEN: A placed, non-deleted downline member with no snapshot row
	// WHEN: The matrix calculator runs
	// THEN: It aborts with a dependency error instead of shorting root

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.activeSnap("root", 60)

	_, err := (&commission.MatrixCalculator{}).Calculate(context.Background(), w.inputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrMissingDependency)
	var depErr *engine.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, engine.DistributorID("a"), depErr.DistributorID)
}

func TestMatrixCalculator_DeletedMemberWithoutSnapshotIsSkipped(t *testing.T) {
	// GIVEN: A soft-deleted downline member, which carries no snapshot,
	//        with an active member placed below it
	// WHEN: The matrix calculator runs
	// THEN: The deleted node contributes nothing; the deeper member pays

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("gone", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.distributors[1].Status = network.StatusDeleted
	w.addDistributor("c", engine.RankAssociate, "gone", "gone", 1, 2, enrolled)
	w.activeSnap("root", 60)
	w.activeSnap("c", 60)

	records, err := (&commission.MatrixCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)

	// c sits at level 2: 3% of 60 BV.
	assert.Equal(t, engine.Cents(180), totalFor(records, "root"))
}

// =============================================================================
// MATCHING (second wave)
// =============================================================================

func TestMatchingCalculator_MatchesMatrixEarnings(t *testing.T) {
	// GIVEN: a earned 1000 cents of matrix commission; a's direct sponsor
	//        holds gold (10%, depth 1)
	// WHEN: The matching calculator runs with the matrix wave's records
	// THEN: The sponsor earns a 100-cent match

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("sponsor", engine.RankGold, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "sponsor", "sponsor", 1, 1, enrolled)
	w.activeSnap("sponsor", 60)
	w.activeSnap("a", 60)
	w.earlier[commission.TypeMatrix] = []commission.Record{
		{RecipientID: "a", Type: commission.TypeMatrix, Amount: engine.Cents(1000), Period: testPeriod},
	}

	records, err := (&commission.MatchingCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.DistributorID("sponsor"), records[0].RecipientID)
	assert.Equal(t, engine.Cents(100), records[0].Amount)
	assert.Equal(t, "a", records[0].SourceID)
	assert.Equal(t, "1", records[0].Meta["generation"])
}

func TestMatchingCalculator_UnqualifiedUplineBlocksNothing(t *testing.T) {
	// GIVEN: a's direct sponsor is an associate with no matching rule,
	//        but the grandsponsor holds diamond (15%, depth 2)
	// WHEN: The matching calculator runs
	// THEN: The grandsponsor matches at generation 2; the associate gets
	//       nothing

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("grand", engine.RankDiamond, "", "", 0, 0, enrolled)
	w.addDistributor("mid", engine.RankAssociate, "grand", "grand", 1, 1, enrolled)
	w.addDistributor("a", engine.RankAssociate, "mid", "mid", 1, 2, enrolled)
	w.activeSnap("grand", 60)
	w.activeSnap("mid", 60)
	w.activeSnap("a", 60)
	w.earlier[commission.TypeMatrix] = []commission.Record{
		{RecipientID: "a", Type: commission.TypeMatrix, Amount: engine.Cents(2000), Period: testPeriod},
	}

	records, err := (&commission.MatchingCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.DistributorID("grand"), records[0].RecipientID)
	assert.Equal(t, engine.Cents(300), records[0].Amount)
	assert.Equal(t, "2", records[0].Meta["generation"])
}

func TestMatchingCalculator_DepthBoundByOwnRank(t *testing.T) {
	// GIVEN: The earner's grandsponsor holds gold, whose rule only
	//        reaches generation 1
	// WHEN: The matching calculator runs
	// THEN: The grandsponsor is out of reach and earns nothing

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("grand", engine.RankGold, "", "", 0, 0, enrolled)
	w.addDistributor("mid", engine.RankAssociate, "grand", "grand", 1, 1, enrolled)
	w.addDistributor("a", engine.RankAssociate, "mid", "mid", 1, 2, enrolled)
	w.activeSnap("grand", 60)
	w.activeSnap("mid", 60)
	w.activeSnap("a", 60)
	w.earlier[commission.TypeMatrix] = []commission.Record{
		{RecipientID: "a", Type: commission.TypeMatrix, Amount: engine.Cents(2000), Period: testPeriod},
	}

	records, err := (&commission.MatchingCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// OVERRIDE
// =============================================================================

func TestOverrideCalculator_SponsorGenerations(t *testing.T) {
	// GIVEN: root sponsors a, a sponsors b; generations pay 3% and 2%;
	//        a has 100 PBV and b has 200 PBV
	// WHEN: The override calculator runs
	// THEN: root earns 300 + 400; a earns 600 from b

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.addDistributor("b", engine.RankAssociate, "a", "a", 1, 2, enrolled)
	w.activeSnap("root", 60)
	w.activeSnap("a", 100)
	w.activeSnap("b", 200)

	records, err := (&commission.OverrideCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Equal(t, engine.Cents(700), totalFor(records, "root"))
	assert.Equal(t, engine.Cents(600), totalFor(records, "a"))
}

func TestOverrideCalculator_MissingSnapshotAbortsRun(t *testing.T) {
	// GIVEN: root sponsors a, but a's snapshot was never computed and a
	//        is not soft-deleted
	// WHEN: The override calculator runs
	// THEN: The run aborts instead of quietly paying root nothing for a

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("root", engine.RankAssociate, "", "", 0, 0, enrolled)
	w.addDistributor("a", engine.RankAssociate, "root", "root", 1, 1, enrolled)
	w.activeSnap("root", 60)

	_, err := (&commission.OverrideCalculator{}).Calculate(context.Background(), w.inputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrMissingDependency)
}

// =============================================================================
// INFINITY
// =============================================================================

func TestInfinityCalculator_OnlyBeyondPaidLevels(t *testing.T) {
	// GIVEN: Paid matrix depth is 2; a crown diamond has volume at
	//        levels 1, 2 and 3
	// WHEN: The infinity calculator runs at 1%
	// THEN: Only level 3 volume pays, and only to the crown diamond

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("crown", engine.RankCrownDiamond, "", "", 0, 0, enrolled)
	w.addDistributor("l1", engine.RankAssociate, "crown", "crown", 1, 1, enrolled)
	w.addDistributor("l2", engine.RankAssociate, "l1", "l1", 1, 2, enrolled)
	w.addDistributor("l3", engine.RankAssociate, "l2", "l2", 1, 3, enrolled)
	w.activeSnap("crown", 60)
	w.activeSnap("l1", 100)
	w.activeSnap("l2", 100)
	w.activeSnap("l3", 300)

	records, err := (&commission.InfinityCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.DistributorID("crown"), records[0].RecipientID)
	assert.Equal(t, engine.Cents(300), records[0].Amount, "1% of 300 BV at 100 cents/BV")
	assert.Equal(t, "l3", records[0].SourceID)
}

func TestInfinityCalculator_RankGated(t *testing.T) {
	// GIVEN: A diamond (below the infinity floor) with deep volume
	// WHEN: The infinity calculator runs
	// THEN: Nothing pays

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("d", engine.RankDiamond, "", "", 0, 0, enrolled)
	w.addDistributor("l1", engine.RankAssociate, "d", "d", 1, 1, enrolled)
	w.addDistributor("l2", engine.RankAssociate, "l1", "l1", 1, 2, enrolled)
	w.addDistributor("l3", engine.RankAssociate, "l2", "l2", 1, 3, enrolled)
	w.activeSnap("d", 60)
	w.activeSnap("l3", 300)

	records, err := (&commission.InfinityCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// FAST START
// =============================================================================

func TestFastStartCalculator_WindowBoundary(t *testing.T) {
	// GIVEN: Two enrollees buying: one 10 days in, one 40 days in, with a
	//        30-day window
	// WHEN: The fast-start calculator runs at 25%
	// THEN: Only the fresh enrollee's order pays the sponsor

	w := newWorld()
	w.addDistributor("sponsor", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-2, 0, 0))
	w.addDistributor("fresh", engine.RankAssociate, "sponsor", "sponsor", 1, 1, testPeriod.Start().AddDate(0, 0, -10))
	w.addDistributor("stale", engine.RankAssociate, "sponsor", "sponsor", 2, 1, testPeriod.Start().AddDate(0, 0, -40))
	w.activeSnap("sponsor", 60)
	w.activeSnap("fresh", 60)
	w.activeSnap("stale", 60)

	w.orders = append(w.orders,
		wholesaleOrder("o-fresh", "fresh", 100, testPeriod.Start()),
		wholesaleOrder("o-stale", "stale", 100, testPeriod.Start()),
	)

	records, err := (&commission.FastStartCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.DistributorID("sponsor"), records[0].RecipientID)
	assert.Equal(t, engine.Cents(2500), records[0].Amount, "25% of 100 BV")
	assert.Equal(t, "o-fresh", records[0].SourceID)
	assert.Equal(t, "fresh", records[0].Meta["enrollee"])
}

// =============================================================================
// RANK ADVANCEMENT BONUS
// =============================================================================

func TestRankAdvancementCalculator_PaysLandedRankOnly(t *testing.T) {
	// GIVEN: One event jumping associate -> silver
	// WHEN: The advancement calculator runs
	// THEN: Only the silver bonus pays, once

	w := newWorld()
	w.addDistributor("d", engine.RankSilver, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("d", 60)
	w.events = []engine.RankAdvancement{
		{DistributorID: "d", From: engine.RankAssociate, To: engine.RankSilver, Period: testPeriod},
	}

	records, err := (&commission.RankAdvancementCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.Dollars(250), records[0].Amount)
	assert.Equal(t, commission.SourceRankEvent, records[0].Source)
	assert.Equal(t, "associate", records[0].Meta["from"])
	assert.Equal(t, "silver", records[0].Meta["to"])
}

// =============================================================================
// CAR / VACATION PROGRAMS
// =============================================================================

func programHistory(id engine.DistributorID, gbvs ...int64) []volume.Snapshot {
	out := make([]volume.Snapshot, 0, len(gbvs))
	p := testPeriod
	for _, g := range gbvs {
		out = append(out, volume.Snapshot{
			DistributorID: id,
			Period:        p,
			GroupBV:       engine.NewBVFromInt(g),
			Active:        true,
		})
		p = p.Prev()
	}
	return out
}

func TestCarCalculator_ConsecutiveQualification(t *testing.T) {
	// GIVEN: A platinum with three consecutive periods over the GBV floor
	// WHEN: The car calculator runs
	// THEN: The monthly amount pays

	w := newWorld()
	w.addDistributor("p", engine.RankPlatinum, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("p", 60)
	w.history["p"] = programHistory("p", 1200, 1100, 1050)

	records, err := (&commission.CarCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.Dollars(600), records[0].Amount)
	assert.Equal(t, commission.TypeCar, records[0].Type)
}

func TestCarCalculator_GapOrDipBreaksStreak(t *testing.T) {
	// GIVEN: One platinum with a missing period, another with a dip
	//        below the floor
	// WHEN: The car calculator runs
	// THEN: Neither qualifies

	w := newWorld()
	w.addDistributor("gap", engine.RankPlatinum, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.addDistributor("dip", engine.RankPlatinum, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("gap", 60)
	w.activeSnap("dip", 60)
	w.history["gap"] = programHistory("gap", 1200, 1100) // only two periods exist
	w.history["dip"] = programHistory("dip", 1200, 900, 1050)

	records, err := (&commission.CarCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// CUSTOMER LOYALTY
// =============================================================================

func TestCustomerMilestoneCalculator_ThirdOrderTriggers(t *testing.T) {
	// GIVEN: A customer with two prior qualifying orders places a third
	// WHEN: The milestone calculator runs with OrderCount 3
	// THEN: The referrer earns the flat bonus on the triggering order

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("ref", 60)

	prior1 := retailOrder("o-1", "cust-1", "ref", 3000, 2000, testPeriod.Start().AddDate(0, -2, 0))
	prior2 := retailOrder("o-2", "cust-1", "ref", 3000, 2000, testPeriod.Start().AddDate(0, -1, 0))
	w.customerOrders["cust-1"] = []volume.Order{prior1, prior2}

	trigger := retailOrder("o-3", "cust-1", "ref", 3000, 2000, testPeriod.Start().Add(24*time.Hour))
	w.orders = append(w.orders, trigger)

	records, err := (&commission.CustomerMilestoneCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.Dollars(25), records[0].Amount)
	assert.Equal(t, "o-3", records[0].SourceID)
}

func TestCustomerMilestoneCalculator_NotYetAtMilestone(t *testing.T) {
	// GIVEN: A customer with a single prior qualifying order
	// WHEN: Their second order arrives
	// THEN: No milestone bonus

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("ref", 60)

	w.customerOrders["cust-1"] = []volume.Order{
		retailOrder("o-1", "cust-1", "ref", 3000, 2000, testPeriod.Start().AddDate(0, -1, 0)),
	}
	w.orders = append(w.orders, retailOrder("o-2", "cust-1", "ref", 3000, 2000, testPeriod.Start()))

	records, err := (&commission.CustomerMilestoneCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCustomerRetentionCalculator_RepeatWithinWindow(t *testing.T) {
	// GIVEN: A repeat order 10 days after the previous one, window 45
	// WHEN: The retention calculator runs at 5%
	// THEN: The referrer earns 5% of the repeat order's value

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("ref", 60)

	repeat := retailOrder("o-2", "cust-1", "ref", 3000, 2000, testPeriod.Start().AddDate(0, 0, 5))
	w.customerOrders["cust-1"] = []volume.Order{
		retailOrder("o-1", "cust-1", "ref", 3000, 2000, repeat.CreatedAt.AddDate(0, 0, -10)),
	}
	w.orders = append(w.orders, repeat)

	records, err := (&commission.CustomerRetentionCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, engine.Cents(150), records[0].Amount, "5% of 3000 cents")
}

func TestCustomerRetentionCalculator_StaleRepeat(t *testing.T) {
	// GIVEN: The previous qualifying order is 60 days back, window 45
	// WHEN: The retention calculator runs
	// THEN: No record

	w := newWorld()
	w.addDistributor("ref", engine.RankAssociate, "", "", 0, 0, testNow.AddDate(-1, 0, 0))
	w.activeSnap("ref", 60)

	repeat := retailOrder("o-2", "cust-1", "ref", 3000, 2000, testPeriod.Start().AddDate(0, 0, 5))
	w.customerOrders["cust-1"] = []volume.Order{
		retailOrder("o-1", "cust-1", "ref", 3000, 2000, repeat.CreatedAt.AddDate(0, 0, -60)),
	}
	w.orders = append(w.orders, repeat)

	records, err := (&commission.CustomerRetentionCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// INFINITY POOL
// =============================================================================

func TestInfinityPoolCalculator_EqualSharesFloorDivision(t *testing.T) {
	// GIVEN: 15050 cents of qualifying revenue (2% pool = 301 cents) and
	//        two qualified diamonds
	// WHEN: The pool calculator runs
	// THEN: Each earns 150; the odd cent stays with the company

	w := newWorld()
	enrolled := testNow.AddDate(-1, 0, 0)
	w.addDistributor("d1", engine.RankDiamond, "", "", 0, 0, enrolled)
	w.addDistributor("d2", engine.RankCrownDiamond, "", "", 0, 0, enrolled)
	w.addDistributor("low", engine.RankGold, "", "", 0, 0, enrolled)
	w.activeSnap("d1", 60)
	w.activeSnap("d2", 60)
	w.activeSnap("low", 60)

	order := retailOrder("o-1", "cust-1", "low", 15050, 10000, testPeriod.Start())
	w.orders = append(w.orders, order)

	records, err := (&commission.InfinityPoolCalculator{}).Calculate(context.Background(), w.inputs())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, engine.Cents(150), r.Amount)
		assert.Equal(t, commission.SourcePool, r.Source)
		assert.Equal(t, "infinity_pool:2025-03", r.SourceID)
		assert.Equal(t, "301", r.Meta["pool_cents"])
		assert.Equal(t, "2", r.Meta["shares"])
	}
	assert.Equal(t, engine.Money(0), totalFor(records, "low"))
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_WavesPartitionByDependencies(t *testing.T) {
	// GIVEN: The default registry
	// WHEN: Partitioning into waves
	// THEN: Matching is the only second-wave calculator

	reg := commission.DefaultRegistry()
	first, second := reg.Waves()

	assert.Len(t, first, 11)
	require.Len(t, second, 1)
	assert.Equal(t, commission.TypeMatching, second[0].Type())
}

func TestRegistry_RejectsUnmetDependency(t *testing.T) {
	// GIVEN: A registry without the matrix calculator
	// WHEN: Registering the matching calculator
	// THEN: Registration fails

	_, err := commission.NewRegistry(&commission.MatchingCalculator{})
	assert.Error(t, err)
}

func TestRegistry_RejectsDuplicateType(t *testing.T) {
	// GIVEN: A registry holding the retail calculator
	// WHEN: Registering retail again
	// THEN: Registration fails

	reg, err := commission.NewRegistry(&commission.RetailCalculator{})
	require.NoError(t, err)
	assert.Error(t, reg.Register(&commission.RetailCalculator{}))
}
