package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
)

// MatchingCalculator pays sponsor-tree uplines a percentage of what their
// enrollees earned in MATRIX commission this period. The rate and how
// many generations deep the match reaches both come from the upline's OWN
// rank, so this is the bonus that makes rank advancement pay.
//
// Second-wave: consumes matrix records via Inputs.Earlier.
type MatchingCalculator struct{}

func (c *MatchingCalculator) Type() Type        { return TypeMatching }
func (c *MatchingCalculator) DependsOn() []Type { return []Type{TypeMatrix} }

func (c *MatchingCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	matrixRecords := in.Earlier[TypeMatrix]
	if len(matrixRecords) == 0 {
		return nil, nil
	}
	earned := TotalByRecipient(matrixRecords)
	maxDepth := maxMatchDepth(in.Plan)

	var out []Record
	for earnerID, total := range earned {
		if total.IsZero() {
			continue
		}
		in.Index.SponsorAncestors(earnerID, func(upline network.Distributor, generation int) bool {
			if generation > maxDepth {
				return false
			}
			rule, ok := in.Plan.Matching[upline.Rank]
			if !ok {
				// An upline below matching rank blocks nothing; higher
				// generations may still qualify on their own rank.
				return true
			}
			if generation > rule.Depth {
				// Out of reach for THIS upline's rank only.
				return true
			}
			if upline.Status != network.StatusActive || !in.Active(upline.ID) {
				return true
			}
			amount := total.MulRate(rule.Rate)
			if amount.IsZero() {
				return true
			}
			rec := in.newRecord(upline.ID, TypeMatching, SourceDistributor, string(earnerID), amount)
			rec.Meta = map[string]string{
				"generation": strconv.Itoa(generation),
				"rate":       rule.Rate.String(),
				"matched":    strconv.FormatInt(total.Cents(), 10),
			}
			out = append(out, rec)
			return true
		})
	}
	return out, nil
}

var _ Calculator = (*MatchingCalculator)(nil)

// maxMatchDepth returns the deepest generation any rank's rule reaches.
func maxMatchDepth(plan *engine.Plan) int {
	max := 0
	for _, rule := range plan.Matching {
		if rule.Depth > max {
			max = rule.Depth
		}
	}
	return max
}
