/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  network.GraphStore:      Distributors and both tree relations
  volume.OrderStore:       Orders with frozen BV line items
  volume.SnapshotStore:    Per-period volume snapshots and locks
  commission.RecordStore:  Append-only commission records
  payout.BatchStore:       Payout batch workflow state
  orchestrator.RunStore:   One run row per period (idempotency gate)

IMMUTABILITY ENFORCEMENT:
  - Snapshots for a locked period reject writes
  - Commission records are never updated; a reset deletes and recalculates
  - Batches past approval reject deletion

KEY INDEXES:
  - idx_unique_matrix_slot:  At most one distributor per (parent, position).
    This is the optimistic-concurrency backbone of placement: concurrent
    claims race to the write and the loser gets a conflict.
  - idx_unique_snapshot:     One snapshot per (distributor, period)
  - idx_unique_commission:   One record per (period, recipient, type, source)
  - idx_unique_run / batch:  One run and one batch per period

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/compensation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/memory: In-memory implementations for testing
  - network/placement.go: The retry loop over ClaimSlot conflicts
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/orchestrator"
	"github.com/warp/compensation-engine/payout"
	"github.com/warp/compensation-engine/volume"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Distributors: both tree relations live on the row itself
	CREATE TABLE IF NOT EXISTS distributors (
		id TEXT PRIMARY KEY,
		sponsor_id TEXT,
		matrix_parent_id TEXT,
		matrix_position INTEGER,
		matrix_depth INTEGER,
		rank TEXT NOT NULL,
		rank_achieved_at TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_distributors_sponsor
		ON distributors(sponsor_id) WHERE sponsor_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_distributors_matrix_parent
		ON distributors(matrix_parent_id) WHERE matrix_parent_id IS NOT NULL;

	-- CRITICAL: at most one occupant per matrix slot. Placement relies on
	-- losing claims failing here; there is no application-level lock.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_matrix_slot
		ON distributors(matrix_parent_id, matrix_position)
		WHERE matrix_parent_id IS NOT NULL;

	-- Orders: written once by checkout, read-only to the engine
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		distributor_id TEXT,
		customer_id TEXT,
		referrer_id TEXT,
		is_personal INTEGER NOT NULL DEFAULT 0,
		payment_status TEXT NOT NULL,
		fulfillment_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_customer
		ON orders(customer_id, created_at) WHERE customer_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		bv TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		wholesale_cents INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

	-- Snapshots: one per distributor per period, frozen once locked
	CREATE TABLE IF NOT EXISTS snapshots (
		distributor_id TEXT NOT NULL,
		period TEXT NOT NULL,
		personal_bv TEXT NOT NULL,
		group_bv TEXT NOT NULL,
		active INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_snapshot
		ON snapshots(distributor_id, period);
	CREATE INDEX IF NOT EXISTS idx_snapshots_period ON snapshots(period);

	CREATE TABLE IF NOT EXISTS snapshot_locks (
		period TEXT PRIMARY KEY,
		locked_at TEXT NOT NULL
	);

	-- Commission records: append-only, deleted only by admin reset
	CREATE TABLE IF NOT EXISTS commission_records (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		source_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		meta_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_commission
		ON commission_records(period, recipient_id, type, source, source_id);
	CREATE INDEX IF NOT EXISTS idx_commission_period ON commission_records(period);
	CREATE INDEX IF NOT EXISTS idx_commission_recipient
		ON commission_records(period, recipient_id);

	-- Payout batches: one per period
	CREATE TABLE IF NOT EXISTS payout_batches (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		state TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		record_count INTEGER NOT NULL,
		revenue_cents INTEGER NOT NULL,
		ratio TEXT NOT NULL,
		safeguard TEXT NOT NULL,
		reviewed_by TEXT,
		failure_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_batch ON payout_batches(period);

	-- Runs: the idempotency gate, one per period
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		stage TEXT NOT NULL,
		snapshot_count INTEGER NOT NULL DEFAULT 0,
		advancements INTEGER NOT NULL DEFAULT 0,
		record_count INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_run ON runs(period);

	-- Plans: versioned JSON, append-only
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// GRAPH STORE
// =============================================================================

func (s *Store) Save(ctx context.Context, d network.Distributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Placement columns are untouched on conflict: ClaimSlot owns them.
	query := `
		INSERT INTO distributors
		(id, sponsor_id, rank, rank_achieved_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sponsor_id = excluded.sponsor_id,
			rank = excluded.rank,
			rank_achieved_at = excluded.rank_achieved_at,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		string(d.ID),
		nullID(d.SponsorID),
		string(d.Rank),
		nullTime(d.RankAchievedAt),
		string(d.Status),
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save distributor: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id engine.DistributorID) (*network.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, distributorSelect+` WHERE id = ?`, string(id))
	d, err := scanDistributor(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distributor: %w", err)
	}
	return d, nil
}

func (s *Store) List(ctx context.Context) ([]network.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDistributors(ctx, distributorSelect+` ORDER BY id`)
}

func (s *Store) SponsorChildren(ctx context.Context, id engine.DistributorID) ([]network.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDistributors(ctx,
		distributorSelect+` WHERE sponsor_id = ? ORDER BY created_at`, string(id))
}

func (s *Store) MatrixChildren(ctx context.Context, id engine.DistributorID) ([]network.Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDistributors(ctx,
		distributorSelect+` WHERE matrix_parent_id = ? ORDER BY matrix_position`, string(id))
}

func (s *Store) ClaimSlot(ctx context.Context, id, parentID engine.DistributorID, position, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The WHERE guard keeps a placed distributor from being re-placed;
	// idx_unique_matrix_slot rejects a second claimant for the slot.
	query := `
		UPDATE distributors
		SET matrix_parent_id = ?, matrix_position = ?, matrix_depth = ?
		WHERE id = ? AND matrix_parent_id IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, string(parentID), position, depth, string(id))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &engine.PlacementError{
				DistributorID: id,
				ParentID:      parentID,
				Position:      position,
				Depth:         depth,
			}
		}
		return fmt.Errorf("failed to claim slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRank(ctx context.Context, id engine.DistributorID, rank engine.Rank, achievedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE distributors SET rank = ?, rank_achieved_at = ? WHERE id = ?`,
		string(rank), achievedAt.UTC().Format(time.RFC3339), string(id))
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, id engine.DistributorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE distributors SET status = ? WHERE id = ?`,
		string(network.StatusDeleted), string(id))
	if err != nil {
		return fmt.Errorf("failed to soft-delete distributor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

const distributorSelect = `
	SELECT id, sponsor_id, matrix_parent_id, matrix_position, matrix_depth,
	       rank, rank_achieved_at, status, created_at
	FROM distributors`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDistributor(row rowScanner) (*network.Distributor, error) {
	var (
		d                   network.Distributor
		id, rank, status    string
		sponsorID, parentID sql.NullString
		position, depth     sql.NullInt64
		rankAchievedAt      sql.NullString
		createdAt           string
	)
	err := row.Scan(&id, &sponsorID, &parentID, &position, &depth,
		&rank, &rankAchievedAt, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	d.ID = engine.DistributorID(id)
	d.Rank = engine.Rank(rank)
	d.Status = network.Status(status)
	if sponsorID.Valid {
		sid := engine.DistributorID(sponsorID.String)
		d.SponsorID = &sid
	}
	if parentID.Valid {
		pid := engine.DistributorID(parentID.String)
		d.MatrixParentID = &pid
	}
	if position.Valid {
		pos := int(position.Int64)
		d.MatrixPosition = &pos
	}
	if depth.Valid {
		dep := int(depth.Int64)
		d.MatrixDepth = &dep
	}
	if rankAchievedAt.Valid {
		t, err := time.Parse(time.RFC3339, rankAchievedAt.String)
		if err != nil {
			return nil, err
		}
		d.RankAchievedAt = &t
	}
	d.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) queryDistributors(ctx context.Context, query string, args ...any) ([]network.Distributor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distributors: %w", err)
	}
	defer rows.Close()

	var out []network.Distributor
	for rows.Next() {
		d, err := scanDistributor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// =============================================================================
// ORDER STORE
// =============================================================================

func (s *Store) SaveOrder(ctx context.Context, o volume.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		(id, kind, distributor_id, customer_id, referrer_id, is_personal,
		 payment_status, fulfillment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payment_status = excluded.payment_status,
			fulfillment_status = excluded.fulfillment_status
	`,
		o.ID,
		string(o.Kind),
		nullID(o.DistributorID),
		nullStringPtr(o.CustomerID),
		nullID(o.ReferrerID),
		boolToInt(o.IsPersonalPurchase),
		string(o.PaymentStatus),
		string(o.FulfillmentStatus),
		o.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
		return err
	}
	for _, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items
			(id, order_id, sku, quantity, bv, price_cents, wholesale_cents)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, item.ID, o.ID, item.SKU, item.Quantity,
			item.BV.Value.String(), item.PriceCents.Cents(), item.WholesaleCents.Cents())
		if err != nil {
			return fmt.Errorf("failed to save order item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) InPeriod(ctx context.Context, period engine.Period) ([]volume.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOrders(ctx,
		orderSelect+` WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		period.Start().Format(time.RFC3339),
		period.EndExclusive().Format(time.RFC3339))
}

func (s *Store) ByCustomerBefore(ctx context.Context, customerID string, before time.Time) ([]volume.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOrders(ctx,
		orderSelect+` WHERE customer_id = ? AND created_at < ? ORDER BY created_at`,
		customerID, before.UTC().Format(time.RFC3339))
}

const orderSelect = `
	SELECT id, kind, distributor_id, customer_id, referrer_id, is_personal,
	       payment_status, fulfillment_status, created_at
	FROM orders`

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]volume.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []volume.Order
	for rows.Next() {
		var (
			o                           volume.Order
			kind, pay, fulfill, created string
			distributorID, customerID   sql.NullString
			referrerID                  sql.NullString
			isPersonal                  int
		)
		err := rows.Scan(&o.ID, &kind, &distributorID, &customerID, &referrerID,
			&isPersonal, &pay, &fulfill, &created)
		if err != nil {
			return nil, err
		}
		o.Kind = volume.OrderKind(kind)
		o.PaymentStatus = volume.PaymentStatus(pay)
		o.FulfillmentStatus = volume.FulfillmentStatus(fulfill)
		o.IsPersonalPurchase = isPersonal != 0
		if distributorID.Valid {
			id := engine.DistributorID(distributorID.String)
			o.DistributorID = &id
		}
		if customerID.Valid {
			c := customerID.String
			o.CustomerID = &c
		}
		if referrerID.Valid {
			id := engine.DistributorID(referrerID.String)
			o.ReferrerID = &id
		}
		o.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		items, err := s.loadItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (s *Store) loadItems(ctx context.Context, orderID string) ([]volume.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, quantity, bv, price_cents, wholesale_cents
		FROM order_items WHERE order_id = ? ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var out []volume.OrderItem
	for rows.Next() {
		var (
			item             volume.OrderItem
			bv               string
			price, wholesale int64
		)
		if err := rows.Scan(&item.ID, &item.SKU, &item.Quantity, &bv, &price, &wholesale); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(bv)
		if err != nil {
			return nil, fmt.Errorf("corrupt bv %q on item %s: %w", bv, item.ID, err)
		}
		item.BV = engine.BV{Value: d}
		item.PriceCents = engine.Cents(price)
		item.WholesaleCents = engine.Cents(wholesale)
		out = append(out, item)
	}
	return out, rows.Err()
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

func (s *Store) SaveBatch(ctx context.Context, period engine.Period, snaps []volume.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.isLockedDB(ctx, period)
	if err != nil {
		return err
	}
	if locked {
		return engine.ErrSnapshotLocked
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE period = ?`, period.String()); err != nil {
		return err
	}
	for _, snap := range snaps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots
			(distributor_id, period, personal_bv, group_bv, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			string(snap.DistributorID),
			snap.Period.String(),
			snap.PersonalBV.Value.String(),
			snap.GroupBV.Value.String(),
			boolToInt(snap.Active),
			snap.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSnapshot(ctx context.Context, id engine.DistributorID, period engine.Period) (volume.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, snapshotSelect+` WHERE distributor_id = ? AND period = ?`,
		string(id), period.String())
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return volume.Snapshot{}, engine.ErrNotFound
	}
	if err != nil {
		return volume.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) AllForPeriod(ctx context.Context, period engine.Period) ([]volume.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, snapshotSelect+` WHERE period = ? ORDER BY distributor_id`,
		period.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []volume.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) Lock(ctx context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot_locks (period, locked_at) VALUES (?, ?)
		ON CONFLICT(period) DO NOTHING
	`, period.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) IsLocked(ctx context.Context, period engine.Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLockedDB(ctx, period)
}

func (s *Store) Unlock(ctx context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshot_locks WHERE period = ?`, period.String())
	return err
}

func (s *Store) isLockedDB(ctx context.Context, period engine.Period) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshot_locks WHERE period = ?`, period.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const snapshotSelect = `
	SELECT distributor_id, period, personal_bv, group_bv, active, created_at
	FROM snapshots`

func scanSnapshot(row rowScanner) (volume.Snapshot, error) {
	var (
		snap                          volume.Snapshot
		id, period, pbv, gbv, created string
		active                        int
	)
	if err := row.Scan(&id, &period, &pbv, &gbv, &active, &created); err != nil {
		return volume.Snapshot{}, err
	}
	snap.DistributorID = engine.DistributorID(id)
	p, err := engine.ParsePeriod(period)
	if err != nil {
		return volume.Snapshot{}, err
	}
	snap.Period = p
	dp, err := decimal.NewFromString(pbv)
	if err != nil {
		return volume.Snapshot{}, err
	}
	dg, err := decimal.NewFromString(gbv)
	if err != nil {
		return volume.Snapshot{}, err
	}
	snap.PersonalBV = engine.BV{Value: dp}
	snap.GroupBV = engine.BV{Value: dg}
	snap.Active = active != 0
	snap.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return volume.Snapshot{}, err
	}
	return snap, nil
}

// =============================================================================
// COMMISSION RECORD STORE
// =============================================================================

func (s *Store) SaveRecords(ctx context.Context, records []commission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		metaJSON, _ := json.Marshal(r.Meta)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commission_records
			(id, period, recipient_id, type, source, source_id, amount_cents, meta_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID,
			r.Period.String(),
			string(r.RecipientID),
			string(r.Type),
			string(r.Source),
			r.SourceID,
			r.Amount.Cents(),
			string(metaJSON),
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return engine.ErrDuplicateRecord
			}
			return fmt.Errorf("failed to save commission record: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) RecordsForPeriod(ctx context.Context, period engine.Period) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecords(ctx, recordSelect+` WHERE period = ? ORDER BY recipient_id, type`, period.String())
}

func (s *Store) RecordsByRecipient(ctx context.Context, period engine.Period, id engine.DistributorID) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRecords(ctx,
		recordSelect+` WHERE period = ? AND recipient_id = ? ORDER BY type`,
		period.String(), string(id))
}

func (s *Store) DeleteRecordsForPeriod(ctx context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM commission_records WHERE period = ?`, period.String())
	return err
}

const recordSelect = `
	SELECT id, period, recipient_id, type, source, source_id, amount_cents, meta_json, created_at
	FROM commission_records`

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]commission.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commission records: %w", err)
	}
	defer rows.Close()

	var out []commission.Record
	for rows.Next() {
		var (
			r                              commission.Record
			period, recipient, typ, source string
			amount                         int64
			metaJSON                       sql.NullString
			created                        string
		)
		err := rows.Scan(&r.ID, &period, &recipient, &typ, &source, &r.SourceID,
			&amount, &metaJSON, &created)
		if err != nil {
			return nil, err
		}
		p, err := engine.ParsePeriod(period)
		if err != nil {
			return nil, err
		}
		r.Period = p
		r.RecipientID = engine.DistributorID(recipient)
		r.Type = commission.Type(typ)
		r.Source = commission.SourceType(source)
		r.Amount = engine.Cents(amount)
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &r.Meta); err != nil {
				return nil, err
			}
		}
		r.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYOUT BATCH STORE
// =============================================================================

func (s *Store) CreateBatch(ctx context.Context, b payout.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payout_batches
		(id, period, state, total_cents, record_count, revenue_cents, ratio,
		 safeguard, reviewed_by, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.Period.String(),
		string(b.State),
		b.Total.Cents(),
		b.RecordCount,
		b.Revenue.Cents(),
		b.Ratio.String(),
		b.Safeguard,
		nullString(b.ReviewedBy),
		nullString(b.FailureReason),
		b.CreatedAt.UTC().Format(time.RFC3339),
		b.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrRunExists
		}
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, period engine.Period) (payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, batchSelect+` WHERE period = ?`, period.String())
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return payout.Batch{}, engine.ErrNotFound
	}
	if err != nil {
		return payout.Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b payout.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_batches
		SET state = ?, reviewed_by = ?, failure_reason = ?, updated_at = ?
		WHERE period = ?
	`,
		string(b.State),
		nullString(b.ReviewedBy),
		nullString(b.FailureReason),
		b.UpdatedAt.UTC().Format(time.RFC3339),
		b.Period.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) ListBatches(ctx context.Context) ([]payout.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, batchSelect+` ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []payout.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBatch(ctx context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM payout_batches WHERE period = ?`, period.String())
	var state string
	if err := row.Scan(&state); err == sql.ErrNoRows {
		return engine.ErrNotFound
	} else if err != nil {
		return err
	}
	if payout.State(state).Immutable() {
		return engine.ErrBatchImmutable
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM payout_batches WHERE period = ?`, period.String())
	return err
}

const batchSelect = `
	SELECT id, period, state, total_cents, record_count, revenue_cents, ratio,
	       safeguard, reviewed_by, failure_reason, created_at, updated_at
	FROM payout_batches`

func scanBatch(row rowScanner) (payout.Batch, error) {
	var (
		b                         payout.Batch
		period, state, ratio      string
		total, revenue            int64
		count                     int
		safeguard                 string
		reviewedBy, failureReason sql.NullString
		created, updated          string
	)
	err := row.Scan(&b.ID, &period, &state, &total, &count, &revenue, &ratio,
		&safeguard, &reviewedBy, &failureReason, &created, &updated)
	if err != nil {
		return payout.Batch{}, err
	}
	p, err := engine.ParsePeriod(period)
	if err != nil {
		return payout.Batch{}, err
	}
	b.Period = p
	b.State = payout.State(state)
	b.Total = engine.Cents(total)
	b.RecordCount = count
	b.Revenue = engine.Cents(revenue)
	b.Ratio, err = decimal.NewFromString(ratio)
	if err != nil {
		return payout.Batch{}, err
	}
	b.Safeguard = safeguard
	b.ReviewedBy = reviewedBy.String
	b.FailureReason = failureReason.String
	b.CreatedAt, err = time.Parse(time.RFC3339, created)
	if err != nil {
		return payout.Batch{}, err
	}
	b.UpdatedAt, err = time.Parse(time.RFC3339, updated)
	if err != nil {
		return payout.Batch{}, err
	}
	return b, nil
}

// =============================================================================
// RUN STORE
// =============================================================================

func (s *Store) CreateRun(ctx context.Context, r orchestrator.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, period, plan_version, stage, snapshot_count, advancements,
		 record_count, total_cents, failure_reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Period.String(),
		r.PlanVersion,
		string(r.Stage),
		r.SnapshotCount,
		r.Advancements,
		r.RecordCount,
		r.TotalCents,
		nullString(r.FailureReason),
		r.StartedAt.UTC().Format(time.RFC3339),
		nullTime(r.FinishedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrRunExists
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, period engine.Period) (orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, runSelect+` WHERE period = ?`, period.String())
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return orchestrator.Run{}, engine.ErrRunNotFound
	}
	if err != nil {
		return orchestrator.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRun(ctx context.Context, r orchestrator.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET stage = ?, snapshot_count = ?, advancements = ?, record_count = ?,
		    total_cents = ?, failure_reason = ?, finished_at = ?
		WHERE period = ?
	`,
		string(r.Stage),
		r.SnapshotCount,
		r.Advancements,
		r.RecordCount,
		r.TotalCents,
		nullString(r.FailureReason),
		nullTime(r.FinishedAt),
		r.Period.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrRunNotFound
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRun(ctx context.Context, period engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE period = ?`, period.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrRunNotFound
	}
	return nil
}

const runSelect = `
	SELECT id, period, plan_version, stage, snapshot_count, advancements,
	       record_count, total_cents, failure_reason, started_at, finished_at
	FROM runs`

func scanRun(row rowScanner) (orchestrator.Run, error) {
	var (
		r             orchestrator.Run
		period, stage string
		failureReason sql.NullString
		started       string
		finished      sql.NullString
	)
	err := row.Scan(&r.ID, &period, &r.PlanVersion, &stage, &r.SnapshotCount,
		&r.Advancements, &r.RecordCount, &r.TotalCents, &failureReason, &started, &finished)
	if err != nil {
		return orchestrator.Run{}, err
	}
	p, err := engine.ParsePeriod(period)
	if err != nil {
		return orchestrator.Run{}, err
	}
	r.Period = p
	r.Stage = orchestrator.Stage(stage)
	r.FailureReason = failureReason.String
	r.StartedAt, err = time.Parse(time.RFC3339, started)
	if err != nil {
		return orchestrator.Run{}, err
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339, finished.String)
		if err != nil {
			return orchestrator.Run{}, err
		}
		r.FinishedAt = &t
	}
	return r, nil
}

// =============================================================================
// PLAN STORE
// =============================================================================

// SavePlan persists a plan version. Versions are append-only: saving an
// existing (id, version) fails rather than silently rewriting history.
func (s *Store) SavePlan(ctx context.Context, plan *engine.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, version, name, effective_at, config_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		plan.ID,
		plan.Version,
		plan.Name,
		plan.EffectiveAt.UTC().Format(time.RFC3339),
		string(configJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan loads a specific plan version.
func (s *Store) GetPlan(ctx context.Context, id string, version int) (*engine.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_json FROM plans WHERE id = ? AND version = ?`, id, version).
		Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal([]byte(configJSON), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &plan, nil
}

// LatestPlan loads the highest version of a plan.
func (s *Store) LatestPlan(ctx context.Context, id string) (*engine.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT config_json FROM plans WHERE id = ?
		ORDER BY version DESC LIMIT 1
	`, id).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plan: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal([]byte(configJSON), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &plan, nil
}

// =============================================================================
// INTERFACE ADAPTERS
// =============================================================================

// The Store's method set carries prefixed names (SaveOrder, CreateRun)
// because several interfaces collide on Save/Create/Get. The adapters
// below present each interface view over the same Store.

type orderStore struct{ *Store }

func (o orderStore) Save(ctx context.Context, ord volume.Order) error { return o.SaveOrder(ctx, ord) }

// Orders returns the volume.OrderStore view.
func (s *Store) Orders() volume.OrderStore { return orderStore{s} }

type snapshotStore struct{ *Store }

func (v snapshotStore) Get(ctx context.Context, id engine.DistributorID, period engine.Period) (volume.Snapshot, error) {
	return v.GetSnapshot(ctx, id, period)
}

// Snapshots returns the volume.SnapshotStore view.
func (s *Store) Snapshots() volume.SnapshotStore { return snapshotStore{s} }

type recordStore struct{ *Store }

func (r recordStore) SaveBatch(ctx context.Context, records []commission.Record) error {
	return r.SaveRecords(ctx, records)
}
func (r recordStore) AllForPeriod(ctx context.Context, period engine.Period) ([]commission.Record, error) {
	return r.RecordsForPeriod(ctx, period)
}
func (r recordStore) ByRecipient(ctx context.Context, period engine.Period, id engine.DistributorID) ([]commission.Record, error) {
	return r.RecordsByRecipient(ctx, period, id)
}
func (r recordStore) DeleteForPeriod(ctx context.Context, period engine.Period) error {
	return r.DeleteRecordsForPeriod(ctx, period)
}

// Records returns the commission.RecordStore view.
func (s *Store) Records() commission.RecordStore { return recordStore{s} }

type batchStore struct{ *Store }

func (b batchStore) Create(ctx context.Context, batch payout.Batch) error {
	return b.CreateBatch(ctx, batch)
}
func (b batchStore) Get(ctx context.Context, period engine.Period) (payout.Batch, error) {
	return b.GetBatch(ctx, period)
}
func (b batchStore) Update(ctx context.Context, batch payout.Batch) error {
	return b.UpdateBatch(ctx, batch)
}
func (b batchStore) List(ctx context.Context) ([]payout.Batch, error) {
	return b.ListBatches(ctx)
}
func (b batchStore) Delete(ctx context.Context, period engine.Period) error {
	return b.DeleteBatch(ctx, period)
}

// Batches returns the payout.BatchStore view.
func (s *Store) Batches() payout.BatchStore { return batchStore{s} }

type runStore struct{ *Store }

func (r runStore) Create(ctx context.Context, run orchestrator.Run) error {
	return r.CreateRun(ctx, run)
}
func (r runStore) Get(ctx context.Context, period engine.Period) (orchestrator.Run, error) {
	return r.GetRun(ctx, period)
}
func (r runStore) Update(ctx context.Context, run orchestrator.Run) error {
	return r.UpdateRun(ctx, run)
}
func (r runStore) List(ctx context.Context) ([]orchestrator.Run, error) {
	return r.ListRuns(ctx)
}
func (r runStore) Delete(ctx context.Context, period engine.Period) error {
	return r.DeleteRun(ctx, period)
}

// Runs returns the orchestrator.RunStore view.
func (s *Store) Runs() orchestrator.RunStore { return runStore{s} }

var (
	_ network.GraphStore     = (*Store)(nil)
	_ volume.OrderStore      = orderStore{}
	_ volume.SnapshotStore   = snapshotStore{}
	_ commission.RecordStore = recordStore{}
	_ payout.BatchStore      = batchStore{}
	_ orchestrator.RunStore  = runStore{}
)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullID(id *engine.DistributorID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
