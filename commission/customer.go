package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/volume"
)

// Customer loyalty bonuses reward the referring distributor for customer
// behavior: hitting an order-count milestone, and coming back quickly.
// Both look at the customer's full order history (before the triggering
// order), not just the run period.

// CustomerMilestoneCalculator pays a flat bonus when a customer places
// their Nth qualifying retail order, to the distributor who referred that
// order.
type CustomerMilestoneCalculator struct{}

func (c *CustomerMilestoneCalculator) Type() Type        { return TypeCustomerMilestone }
func (c *CustomerMilestoneCalculator) DependsOn() []Type { return nil }

func (c *CustomerMilestoneCalculator) Calculate(ctx context.Context, in *Inputs) ([]Record, error) {
	cfg := in.Plan.CustomerMilestone
	if cfg.OrderCount <= 0 || cfg.Bonus.IsZero() {
		return nil, nil
	}

	var out []Record
	for i := range in.Orders {
		o := &in.Orders[i]
		if !retailQualifying(o) {
			continue
		}
		if _, ok := in.distributor(*o.ReferrerID); !ok {
			continue
		}
		prior, err := in.CustomerOrders(ctx, *o.CustomerID, o.CreatedAt)
		if err != nil {
			return nil, err
		}
		if countQualifying(prior)+1 != cfg.OrderCount {
			continue
		}
		rec := in.newRecord(*o.ReferrerID, TypeCustomerMilestone, SourceOrder, o.ID, cfg.Bonus)
		rec.Meta = map[string]string{
			"customer":    *o.CustomerID,
			"order_count": strconv.Itoa(cfg.OrderCount),
		}
		out = append(out, rec)
	}
	return out, nil
}

// CustomerRetentionCalculator pays a percentage of a repeat retail order's
// value when the customer's previous qualifying order was recent enough.
type CustomerRetentionCalculator struct{}

func (c *CustomerRetentionCalculator) Type() Type        { return TypeCustomerRetention }
func (c *CustomerRetentionCalculator) DependsOn() []Type { return nil }

func (c *CustomerRetentionCalculator) Calculate(ctx context.Context, in *Inputs) ([]Record, error) {
	cfg := in.Plan.CustomerRetention
	if cfg.WindowDays <= 0 || cfg.Rate.IsZero() {
		return nil, nil
	}

	var out []Record
	for i := range in.Orders {
		o := &in.Orders[i]
		if !retailQualifying(o) {
			continue
		}
		if _, ok := in.distributor(*o.ReferrerID); !ok {
			continue
		}
		prior, err := in.CustomerOrders(ctx, *o.CustomerID, o.CreatedAt)
		if err != nil {
			return nil, err
		}
		last, ok := lastQualifying(prior)
		if !ok {
			continue
		}
		gap := o.CreatedAt.Sub(last.CreatedAt)
		if gap.Hours() > float64(cfg.WindowDays)*24 {
			continue
		}
		amount := o.TotalCents().MulRate(cfg.Rate)
		if amount.IsZero() {
			continue
		}
		rec := in.newRecord(*o.ReferrerID, TypeCustomerRetention, SourceOrder, o.ID, amount)
		rec.Meta = map[string]string{
			"customer": *o.CustomerID,
			"rate":     cfg.Rate.String(),
		}
		out = append(out, rec)
	}
	return out, nil
}

func retailQualifying(o *volume.Order) bool {
	return o.Kind == volume.OrderRetail && o.Qualifying() &&
		o.ReferrerID != nil && o.CustomerID != nil
}

func countQualifying(orders []volume.Order) int {
	n := 0
	for i := range orders {
		if orders[i].Qualifying() {
			n++
		}
	}
	return n
}

// lastQualifying returns the latest qualifying order. Input is oldest
// first, so scan from the back.
func lastQualifying(orders []volume.Order) (*volume.Order, bool) {
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Qualifying() {
			return &orders[i], true
		}
	}
	return nil, false
}

var (
	_ Calculator = (*CustomerMilestoneCalculator)(nil)
	_ Calculator = (*CustomerRetentionCalculator)(nil)
)
