package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// OverrideCalculator pays enrollment-lineage bonuses: a percentage of each
// sponsor-tree descendant's personal BV, by generation. This is the bonus
// that rewards RECRUITING regardless of where spillover placed anyone in
// the matrix.
type OverrideCalculator struct{}

func (c *OverrideCalculator) Type() Type        { return TypeOverride }
func (c *OverrideCalculator) DependsOn() []Type { return nil }

func (c *OverrideCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	gens := in.Plan.OverrideGens
	if len(gens) == 0 {
		return nil, nil
	}

	var out []Record
	for id := range in.Index.ByID {
		recipient, ok := in.distributor(id)
		if !ok || !in.Active(recipient.ID) {
			continue
		}
		var visitErr error
		in.Index.SponsorDescendants(recipient.ID, func(d network.Distributor, generation int) bool {
			if generation > len(gens) {
				return false
			}
			bv, err := in.downlineBV(d, "override commission")
			if err != nil {
				visitErr = err
				return false
			}
			if bv.IsZero() {
				return true
			}
			rate := gens[generation-1]
			amount := engine.MoneyFromBV(bv, rate, in.Plan.Volume.CentsPerBV)
			if amount.IsZero() {
				return true
			}
			rec := in.newRecord(recipient.ID, TypeOverride, SourceDistributor, string(d.ID), amount)
			rec.Meta = map[string]string{
				"generation": strconv.Itoa(generation),
				"rate":       rate.String(),
			}
			out = append(out, rec)
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
	}
	return out, nil
}

var _ Calculator = (*OverrideCalculator)(nil)
