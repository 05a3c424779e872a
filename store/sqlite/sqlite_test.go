package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/factory"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/orchestrator"
	"github.com/warp/compensation-engine/payout"
	"github.com/warp/compensation-engine/store/sqlite"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testPeriod = engine.MustParsePeriod("2025-03")

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func saveDistributor(t *testing.T, store *sqlite.Store, id engine.DistributorID, sponsor *engine.DistributorID) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), network.Distributor{
		ID:        id,
		SponsorID: sponsor,
		Rank:      engine.RankAssociate,
		Status:    network.StatusActive,
		CreatedAt: time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC),
	}))
}

// =============================================================================
// GRAPH STORE
// =============================================================================

func TestStore_SaveAndGetDistributor(t *testing.T) {
	// GIVEN: A saved distributor with a sponsor
	// WHEN: Loading it back
	// THEN: All fields round-trip, placement still empty

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "root", nil)
	rootID := engine.DistributorID("root")
	saveDistributor(t, store, "d-1", &rootID)

	d, err := store.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, engine.DistributorID("d-1"), d.ID)
	require.NotNil(t, d.SponsorID)
	assert.Equal(t, rootID, *d.SponsorID)
	assert.Equal(t, engine.RankAssociate, d.Rank)
	assert.False(t, d.Placed())
	assert.Equal(t, time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC), d.CreatedAt)

	_, err = store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestStore_SaveNeverTouchesPlacement(t *testing.T) {
	// GIVEN: A placed distributor
	// WHEN: Save runs again with empty placement fields
	// THEN: The matrix slot survives

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "root", nil)
	saveDistributor(t, store, "d-1", nil)
	require.NoError(t, store.ClaimSlot(ctx, "d-1", "root", 1, 1))

	require.NoError(t, store.Save(ctx, network.Distributor{
		ID:        "d-1",
		Rank:      engine.RankBronze,
		Status:    network.StatusActive,
		CreatedAt: time.Now().UTC(),
	}))

	d, err := store.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, engine.RankBronze, d.Rank, "rank update applied")
	require.True(t, d.Placed(), "placement preserved")
	assert.Equal(t, engine.DistributorID("root"), *d.MatrixParentID)
}

func TestStore_ClaimSlotUniqueness(t *testing.T) {
	// GIVEN: A slot already claimed
	// WHEN: A second distributor claims the same (parent, position)
	// THEN: ErrPlacementConflict, and the first holder keeps the slot

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "root", nil)
	saveDistributor(t, store, "d-1", nil)
	saveDistributor(t, store, "d-2", nil)

	require.NoError(t, store.ClaimSlot(ctx, "d-1", "root", 1, 1))

	err := store.ClaimSlot(ctx, "d-2", "root", 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPlacementConflict)
	var perr *engine.PlacementError
	assert.ErrorAs(t, err, &perr)

	children, err := store.MatrixChildren(ctx, "root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, engine.DistributorID("d-1"), children[0].ID)
}

func TestStore_MatrixChildrenOrderedByPosition(t *testing.T) {
	// GIVEN: Children claimed out of position order
	// WHEN: Listing matrix children
	// THEN: They come back ordered by position

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "root", nil)
	saveDistributor(t, store, "d-1", nil)
	saveDistributor(t, store, "d-2", nil)
	require.NoError(t, store.ClaimSlot(ctx, "d-1", "root", 2, 1))
	require.NoError(t, store.ClaimSlot(ctx, "d-2", "root", 1, 1))

	children, err := store.MatrixChildren(ctx, "root")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, engine.DistributorID("d-2"), children[0].ID)
	assert.Equal(t, engine.DistributorID("d-1"), children[1].ID)
}

func TestStore_SoftDelete(t *testing.T) {
	// GIVEN: A distributor
	// WHEN: Soft-deleting
	// THEN: Get and List still return it, marked deleted

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "d-1", nil)
	require.NoError(t, store.SoftDelete(ctx, "d-1"))

	d, err := store.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, network.StatusDeleted, d.Status)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestStore_OrderRoundTrip(t *testing.T) {
	// GIVEN: A retail order with two items
	// WHEN: Saving and loading by period and by customer
	// THEN: Items, BV decimals and both price columns round-trip

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "ref", nil)

	customer := "cust-1"
	ref := engine.DistributorID("ref")
	order := volume.Order{
		ID:                "o-1",
		Kind:              volume.OrderRetail,
		CustomerID:        &customer,
		ReferrerID:        &ref,
		PaymentStatus:     volume.PaymentPaid,
		FulfillmentStatus: volume.FulfillmentFulfilled,
		CreatedAt:         testPeriod.Start().Add(6 * time.Hour),
		Items: []volume.OrderItem{
			{ID: "i-1", SKU: "SKU-A", Quantity: 2, BV: engine.MustParseBV("12.5"),
				PriceCents: engine.Cents(1999), WholesaleCents: engine.Cents(1200)},
			{ID: "i-2", SKU: "SKU-B", Quantity: 1, BV: engine.NewBVFromInt(30),
				PriceCents: engine.Cents(4999), WholesaleCents: engine.Cents(3500)},
		},
	}
	orders := store.Orders()
	require.NoError(t, orders.Save(ctx, order))

	inPeriod, err := orders.InPeriod(ctx, testPeriod)
	require.NoError(t, err)
	require.Len(t, inPeriod, 1)
	got := inPeriod[0]
	require.Len(t, got.Items, 2)
	assert.True(t, got.TotalBV().Equal(engine.MustParseBV("55")), "2x12.5 + 30, got %s", got.TotalBV())
	assert.Equal(t, engine.Cents(2*1999+4999), got.TotalCents())
	require.NotNil(t, got.ReferrerID)
	assert.Equal(t, ref, *got.ReferrerID)

	// Strictly-before filter for customer history.
	prior, err := orders.ByCustomerBefore(ctx, customer, order.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, prior)
	later, err := orders.ByCustomerBefore(ctx, customer, order.CreatedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestStore_SnapshotLockCycle(t *testing.T) {
	// GIVEN: Saved snapshots for a period
	// WHEN: Locking the period
	// THEN: Writes are refused until Unlock

	store := newTestStore(t)
	ctx := context.Background()
	saveDistributor(t, store, "d-1", nil)
	snaps := store.Snapshots()

	batch := []volume.Snapshot{{
		DistributorID: "d-1",
		Period:        testPeriod,
		PersonalBV:    engine.MustParseBV("62.5"),
		GroupBV:       engine.MustParseBV("150"),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}}
	require.NoError(t, snaps.SaveBatch(ctx, testPeriod, batch))

	got, err := snaps.Get(ctx, "d-1", testPeriod)
	require.NoError(t, err)
	assert.True(t, got.PersonalBV.Equal(engine.MustParseBV("62.5")))
	assert.True(t, got.Active)

	require.NoError(t, snaps.Lock(ctx, testPeriod))
	require.NoError(t, snaps.Lock(ctx, testPeriod), "locking is idempotent")
	locked, err := snaps.IsLocked(ctx, testPeriod)
	require.NoError(t, err)
	assert.True(t, locked)

	err = snaps.SaveBatch(ctx, testPeriod, batch)
	assert.ErrorIs(t, err, engine.ErrSnapshotLocked)

	require.NoError(t, snaps.Unlock(ctx, testPeriod))
	assert.NoError(t, snaps.SaveBatch(ctx, testPeriod, batch))
}

// =============================================================================
// COMMISSION RECORDS
// =============================================================================

func TestStore_RecordUniqueness(t *testing.T) {
	// GIVEN: A saved commission record
	// WHEN: Saving the same (period, recipient, type, source) again
	// THEN: ErrDuplicateRecord

	store := newTestStore(t)
	ctx := context.Background()
	records := store.Records()

	rec := commission.Record{
		ID:          "rec-1",
		Period:      testPeriod,
		RecipientID: "d-1",
		Type:        commission.TypeMatrix,
		Source:      commission.SourceDistributor,
		SourceID:    "d-2",
		Amount:      engine.Cents(500),
		Meta:        map[string]string{"level": "1", "rate": "0.05"},
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, records.SaveBatch(ctx, []commission.Record{rec}))

	dup := rec
	dup.ID = "rec-2"
	err := records.SaveBatch(ctx, []commission.Record{dup})
	assert.ErrorIs(t, err, engine.ErrDuplicateRecord)

	all, err := records.AllForPeriod(ctx, testPeriod)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, map[string]string{"level": "1", "rate": "0.05"}, all[0].Meta)

	byRecipient, err := records.ByRecipient(ctx, testPeriod, "d-1")
	require.NoError(t, err)
	assert.Len(t, byRecipient, 1)

	require.NoError(t, records.DeleteForPeriod(ctx, testPeriod))
	all, err = records.AllForPeriod(ctx, testPeriod)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// BATCHES AND RUNS
// =============================================================================

func TestStore_BatchLifecycle(t *testing.T) {
	// GIVEN: A draft batch
	// WHEN: Updating through approval and deleting
	// THEN: One batch per period, and delete refuses past approval

	store := newTestStore(t)
	ctx := context.Background()
	batches := store.Batches()

	b := payout.Batch{
		ID:          "batch-" + testPeriod.String(),
		Period:      testPeriod,
		State:       payout.StateDraft,
		Total:       engine.Cents(4800),
		RecordCount: 12,
		Revenue:     engine.Cents(10000),
		Safeguard:   "good",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, batches.Create(ctx, b))
	assert.ErrorIs(t, batches.Create(ctx, b), engine.ErrRunExists)

	got, err := batches.Get(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, payout.StateDraft, got.State)
	assert.Equal(t, engine.Cents(4800), got.Total)

	got.State = payout.StateApproved
	got.ReviewedBy = "finance-lead"
	require.NoError(t, batches.Update(ctx, got))

	err = batches.Delete(ctx, testPeriod)
	assert.ErrorIs(t, err, engine.ErrBatchImmutable)
}

func TestStore_RunUniquenessAndUpdate(t *testing.T) {
	// GIVEN: A run row for the period
	// WHEN: Creating a second and updating the first
	// THEN: The second create fails, the update persists the stage

	store := newTestStore(t)
	ctx := context.Background()
	runs := store.Runs()

	r := orchestrator.Run{
		ID:          "run-1",
		Period:      testPeriod,
		PlanVersion: 1,
		Stage:       orchestrator.StageNotStarted,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, runs.Create(ctx, r))
	assert.ErrorIs(t, runs.Create(ctx, r), engine.ErrRunExists)

	r.Stage = orchestrator.StageSnapshotsComputed
	r.SnapshotCount = 42
	require.NoError(t, runs.Update(ctx, r))

	got, err := runs.Get(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StageSnapshotsComputed, got.Stage)
	assert.Equal(t, 42, got.SnapshotCount)
	assert.Nil(t, got.FinishedAt)

	_, err = runs.Get(ctx, testPeriod.Next())
	assert.ErrorIs(t, err, engine.ErrRunNotFound)
}

// =============================================================================
// PLANS
// =============================================================================

func TestStore_PlanVersioning(t *testing.T) {
	// GIVEN: The default plan saved at versions 1 and 2
	// WHEN: Loading a specific version and the latest
	// THEN: Versions are append-only and rate tables survive the JSON trip

	store := newTestStore(t)
	ctx := context.Background()

	plan := factory.DefaultPlan()
	require.NoError(t, store.SavePlan(ctx, plan))
	assert.ErrorIs(t, store.SavePlan(ctx, plan), engine.ErrDuplicateRecord)

	v2 := factory.DefaultPlan()
	v2.Version = 2
	v2.Matrix.Width = 4
	require.NoError(t, store.SavePlan(ctx, v2))

	got, err := store.GetPlan(ctx, plan.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Matrix.Width)
	assert.Len(t, got.MatrixLevels, 7)
	assert.Equal(t, engine.Dollars(100), got.RankBonuses[engine.RankBronze])

	latest, err := store.LatestPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 4, latest.Matrix.Width)
}

// =============================================================================
// FULL PIPELINE OVER SQLITE
// =============================================================================

func TestStore_BacksFullRun(t *testing.T) {
	// GIVEN: A small organization persisted in SQLite
	// WHEN: The orchestrator executes a period against the store's views
	// THEN: The pipeline completes and every table holds its artifacts

	store := newTestStore(t)
	ctx := context.Background()

	plan := factory.DefaultPlan()
	saveDistributor(t, store, "root", nil)
	rootID := engine.DistributorID("root")
	saveDistributor(t, store, "a", &rootID)
	require.NoError(t, store.ClaimSlot(ctx, "a", "root", 1, 1))

	a := engine.DistributorID("a")
	require.NoError(t, store.Orders().Save(ctx, volume.Order{
		ID:                 "o-1",
		Kind:               volume.OrderWholesale,
		DistributorID:      &a,
		IsPersonalPurchase: true,
		PaymentStatus:      volume.PaymentPaid,
		FulfillmentStatus:  volume.FulfillmentFulfilled,
		CreatedAt:          testPeriod.Start().Add(time.Hour),
		Items: []volume.OrderItem{
			{ID: "i-1", SKU: "SKU-1", Quantity: 1, BV: engine.NewBVFromInt(100),
				PriceCents: engine.Dollars(120), WholesaleCents: engine.Dollars(100)},
		},
	}))

	orch := orchestrator.New(orchestrator.Options{
		Graph:     store,
		Orders:    store.Orders(),
		Snapshots: store.Snapshots(),
		Records:   store.Records(),
		Batches:   store.Batches(),
		Runs:      store.Runs(),
		Plan:      plan,
		Registry:  commission.DefaultRegistry(),
	})

	run, err := orch.Execute(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StageLocked, run.Stage)
	assert.Equal(t, 2, run.SnapshotCount)

	locked, err := store.Snapshots().IsLocked(ctx, testPeriod)
	require.NoError(t, err)
	assert.True(t, locked)

	batch, err := store.Batches().Get(ctx, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, payout.StateDraft, batch.State)
	assert.Equal(t, engine.Dollars(120), batch.Revenue)
}
