package commission

import (
	"context"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/volume"
)

// FastStartCalculator rewards sponsors for getting new enrollees buying
// early: every qualifying wholesale order placed by a distributor still
// inside their fast-start window pays the SPONSOR an enhanced rate on the
// order's BV.
type FastStartCalculator struct{}

func (c *FastStartCalculator) Type() Type        { return TypeFastStart }
func (c *FastStartCalculator) DependsOn() []Type { return nil }

func (c *FastStartCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	cfg := in.Plan.FastStart
	if cfg.WindowDays <= 0 || cfg.Rate.IsZero() {
		return nil, nil
	}

	var out []Record
	for i := range in.Orders {
		o := &in.Orders[i]
		if o.Kind != volume.OrderWholesale || !o.Qualifying() || o.DistributorID == nil {
			continue
		}
		buyer, ok := in.Index.ByID[*o.DistributorID]
		if !ok || buyer.SponsorID == nil {
			continue
		}
		if !buyer.EnrolledWithin(cfg.WindowDays, o.CreatedAt) {
			continue
		}
		sponsor, ok := in.distributor(*buyer.SponsorID)
		if !ok {
			continue
		}
		amount := engine.MoneyFromBV(o.TotalBV(), cfg.Rate, in.Plan.Volume.CentsPerBV)
		if amount.IsZero() {
			continue
		}
		rec := in.newRecord(sponsor.ID, TypeFastStart, SourceOrder, o.ID, amount)
		rec.Meta = map[string]string{
			"enrollee": string(buyer.ID),
			"rate":     cfg.Rate.String(),
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Calculator = (*FastStartCalculator)(nil)
