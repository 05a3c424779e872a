package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// InfinityCalculator extends matrix earnings past the paid levels for the
// top of the ladder: distributors at or above the plan's infinity rank
// earn a flat rate on personal BV at every matrix level BEYOND
// len(MatrixLevels), with no depth cap.
type InfinityCalculator struct{}

func (c *InfinityCalculator) Type() Type        { return TypeInfinity }
func (c *InfinityCalculator) DependsOn() []Type { return nil }

func (c *InfinityCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	cfg := in.Plan.Infinity
	if cfg.Rate.IsZero() {
		return nil, nil
	}
	paidLevels := len(in.Plan.MatrixLevels)

	var out []Record
	for id := range in.Index.ByID {
		recipient, ok := in.distributor(id)
		if !ok || !in.Active(recipient.ID) {
			continue
		}
		if !recipient.Rank.AtLeast(cfg.MinRank) {
			continue
		}
		var visitErr error
		in.Index.MatrixDescendants(recipient.ID, func(d network.Distributor, level int) bool {
			if level <= paidLevels {
				return true
			}
			bv, err := in.downlineBV(d, "infinity commission")
			if err != nil {
				visitErr = err
				return false
			}
			if bv.IsZero() {
				return true
			}
			amount := engine.MoneyFromBV(bv, cfg.Rate, in.Plan.Volume.CentsPerBV)
			if amount.IsZero() {
				return true
			}
			rec := in.newRecord(recipient.ID, TypeInfinity, SourceDistributor, string(d.ID), amount)
			rec.Meta = map[string]string{
				"level": strconv.Itoa(level),
				"rate":  cfg.Rate.String(),
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

var _ Calculator = (*InfinityCalculator)(nil)
