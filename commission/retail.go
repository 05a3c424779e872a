package commission

import (
	"context"

	"github.com/warp/compensation-engine/volume"
)

// RetailCalculator pays the referring distributor a share of each retail
// order's margin (retail price minus wholesale cost). Margin-based, not
// BV-based: retail profit belongs to the referrer regardless of how the
// product is pointed.
type RetailCalculator struct{}

func (c *RetailCalculator) Type() Type        { return TypeRetail }
func (c *RetailCalculator) DependsOn() []Type { return nil }

func (c *RetailCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	var out []Record
	for i := range in.Orders {
		o := &in.Orders[i]
		if o.Kind != volume.OrderRetail || !o.Qualifying() || o.ReferrerID == nil {
			continue
		}
		if _, ok := in.distributor(*o.ReferrerID); !ok {
			continue
		}
		amount := o.MarginCents().MulRate(in.Plan.Retail.Rate)
		if amount.IsZero() || amount.IsNegative() {
			continue
		}
		rec := in.newRecord(*o.ReferrerID, TypeRetail, SourceOrder, o.ID, amount)
		rec.Meta = map[string]string{"rate": in.Plan.Retail.Rate.String()}
		out = append(out, rec)
	}
	return out, nil
}

var _ Calculator = (*RetailCalculator)(nil)
