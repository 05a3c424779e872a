package commission

import (
	"context"
)

// RankAdvancementCalculator pays a one-time bonus for each rank
// advancement event emitted by this run. One event per distributor per
// run means a multi-rank jump pays only the bonus of the rank landed on.
type RankAdvancementCalculator struct{}

func (c *RankAdvancementCalculator) Type() Type        { return TypeRankAdvancement }
func (c *RankAdvancementCalculator) DependsOn() []Type { return nil }

func (c *RankAdvancementCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	var out []Record
	for _, ev := range in.Events {
		bonus, ok := in.Plan.RankBonuses[ev.To]
		if !ok || bonus.IsZero() {
			continue
		}
		if _, payable := in.distributor(ev.DistributorID); !payable {
			continue
		}
		rec := in.newRecord(ev.DistributorID, TypeRankAdvancement, SourceRankEvent, string(ev.DistributorID), bonus)
		rec.Meta = map[string]string{
			"from": string(ev.From),
			"to":   string(ev.To),
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Calculator = (*RankAdvancementCalculator)(nil)
