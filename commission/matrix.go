package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// MatrixCalculator pays each active distributor a per-level percentage of
// the personal BV generated in their matrix subtree, down to the plan's
// paid depth (len(MatrixLevels)). One record per contributing downline
// member so statements show exactly where each cent came from.
type MatrixCalculator struct{}

func (c *MatrixCalculator) Type() Type        { return TypeMatrix }
func (c *MatrixCalculator) DependsOn() []Type { return nil }

func (c *MatrixCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	levels := in.Plan.MatrixLevels
	if len(levels) == 0 {
		return nil, nil
	}

	var out []Record
	for id := range in.Index.ByID {
		recipient, ok := in.distributor(id)
		if !ok || !in.Active(recipient.ID) {
			continue
		}
		var visitErr error
		in.Index.MatrixDescendants(recipient.ID, func(d network.Distributor, level int) bool {
			if level > len(levels) {
				return false
			}
			bv, err := in.downlineBV(d, "matrix commission")
			if err != nil {
				visitErr = err
				return false
			}
			if bv.IsZero() {
				return true
			}
			rate := levels[level-1]
			amount := engine.MoneyFromBV(bv, rate, in.Plan.Volume.CentsPerBV)
			if amount.IsZero() {
				return true
			}
			rec := in.newRecord(recipient.ID, TypeMatrix, SourceDistributor, string(d.ID), amount)
			rec.Meta = map[string]string{
				"level": strconv.Itoa(level),
				"rate":  rate.String(),
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

var _ Calculator = (*MatrixCalculator)(nil)
