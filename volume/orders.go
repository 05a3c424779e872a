/*
Package volume derives business volume from orders and rolls it up into
per-period snapshots.

PURPOSE:
  Orders are the only inbound financial fact the engine consumes. BV is
  frozen on each line item at order time and never recomputed; this
  package only READS orders and decides which of them count for a period
  (paid AND fulfilled, created inside the period).

FLOW:
  orders -> personal BV per distributor -> group BV rollup over the matrix
  tree -> one immutable snapshot per (distributor, period).

SEE ALSO:
  - aggregator.go: personal BV derivation
  - snapshot.go: GBV rollup, active flags, period locking
*/
package volume

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// ORDER - Finalized, immutable transaction from the checkout subsystem
// =============================================================================

type OrderKind string

const (
	// OrderWholesale: a distributor's own purchase at wholesale price.
	OrderWholesale OrderKind = "wholesale"
	// OrderRetail: a retail customer's purchase at retail price,
	// attributed to the referring distributor.
	OrderRetail OrderKind = "retail"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentFulfilled FulfillmentStatus = "fulfilled"
	FulfillmentReturned  FulfillmentStatus = "returned"
)

type Order struct {
	ID   string
	Kind OrderKind

	// DistributorID: the purchasing distributor (wholesale orders).
	DistributorID *engine.DistributorID

	// CustomerID + ReferrerID: retail orders carry the customer and the
	// distributor who referred them.
	CustomerID *string
	ReferrerID *engine.DistributorID

	// IsPersonalPurchase: wholesale self-purchase flag. Volume policy may
	// exclude non-personal wholesale (e.g. resale inventory) from PBV.
	IsPersonalPurchase bool

	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	CreatedAt         time.Time

	Items []OrderItem
}

// OrderItem carries the frozen BV and both price points. BV never changes
// after order time.
type OrderItem struct {
	ID             string
	SKU            string
	Quantity       int
	BV             engine.BV    // per unit
	PriceCents     engine.Money // per unit, what was charged
	WholesaleCents engine.Money // per unit, distributor cost basis
}

// Qualifying reports whether the order contributes to any period's volume:
// only paid AND fulfilled orders count.
func (o *Order) Qualifying() bool {
	return o.PaymentStatus == PaymentPaid && o.FulfillmentStatus == FulfillmentFulfilled
}

// TotalBV sums item BV x quantity. Zero or negative quantities contribute
// nothing.
func (o *Order) TotalBV() engine.BV {
	total := engine.ZeroBV()
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			continue
		}
		line := engine.BV{Value: item.BV.Value.Mul(decimal.NewFromInt(int64(item.Quantity)))}
		total = total.Add(line)
	}
	return total
}

// TotalCents sums charged price x quantity. This is the revenue side of
// the payout ratio.
func (o *Order) TotalCents() engine.Money {
	var total engine.Money
	for _, item := range o.Items {
		total = total.Add(engine.Money(int64(item.PriceCents) * int64(item.Quantity)))
	}
	return total
}

// MarginCents sums (price - wholesale) x quantity. Basis for the retail
// commission.
func (o *Order) MarginCents() engine.Money {
	var total engine.Money
	for _, item := range o.Items {
		per := item.PriceCents.Sub(item.WholesaleCents)
		total = total.Add(engine.Money(int64(per) * int64(item.Quantity)))
	}
	return total
}

// =============================================================================
// ORDER STORE - Read contract against the order subsystem
// =============================================================================

type OrderStore interface {
	// Save persists an order with its items. Orders are written once by
	// the checkout subsystem and never updated by this engine.
	Save(ctx context.Context, o Order) error

	// InPeriod returns all orders created within the period, any status.
	// Callers filter with Qualifying().
	InPeriod(ctx context.Context, period engine.Period) ([]Order, error)

	// ByCustomerBefore returns a customer's orders created strictly
	// before the given instant, oldest first. Used by the customer
	// milestone and retention calculators.
	ByCustomerBefore(ctx context.Context, customerID string, before time.Time) ([]Order, error)
}
