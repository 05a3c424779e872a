package volume

import (
	"github.com/warp/compensation-engine/engine"
)

// =============================================================================
// PERSONAL BV AGGREGATION
// =============================================================================

// PersonalBV folds a period's qualifying orders into per-distributor PBV.
//
// Wholesale orders credit the purchasing distributor. Non-personal
// wholesale purchases (resale inventory) are excluded unless the plan's
// volume policy counts them. Retail orders credit the referrer only when
// the plan says retail volume counts as personal.
func PersonalBV(orders []Order, plan *engine.Plan) map[engine.DistributorID]engine.BV {
	out := make(map[engine.DistributorID]engine.BV)
	for i := range orders {
		o := &orders[i]
		if !o.Qualifying() {
			continue
		}
		switch o.Kind {
		case OrderWholesale:
			if o.DistributorID == nil {
				continue
			}
			if !o.IsPersonalPurchase {
				continue
			}
			id := *o.DistributorID
			out[id] = out[id].Add(o.TotalBV())
		case OrderRetail:
			if !plan.Volume.RetailCountsAsPersonal {
				continue
			}
			if o.ReferrerID == nil {
				continue
			}
			id := *o.ReferrerID
			out[id] = out[id].Add(o.TotalBV())
		}
	}
	return out
}
