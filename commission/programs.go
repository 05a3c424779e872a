package commission

import (
	"context"
	"strconv"

	"github.com/warp/compensation-engine/engine"
)

// Car and vacation programs share one shape: a flat monthly amount for
// holding a minimum rank AND sustaining a minimum group BV over K
// consecutive periods ending with this one. A single miss resets the
// streak, so the shared check walks snapshot history newest-first and
// requires every period to be present and over the floor.

type CarCalculator struct{}

func (c *CarCalculator) Type() Type        { return TypeCar }
func (c *CarCalculator) DependsOn() []Type { return nil }

func (c *CarCalculator) Calculate(ctx context.Context, in *Inputs) ([]Record, error) {
	return programRecords(ctx, in, TypeCar, in.Plan.Car)
}

type VacationCalculator struct{}

func (c *VacationCalculator) Type() Type        { return TypeVacation }
func (c *VacationCalculator) DependsOn() []Type { return nil }

func (c *VacationCalculator) Calculate(ctx context.Context, in *Inputs) ([]Record, error) {
	return programRecords(ctx, in, TypeVacation, in.Plan.Vacation)
}

func programRecords(ctx context.Context, in *Inputs, t Type, cfg engine.ProgramConfig) ([]Record, error) {
	if cfg.ConsecutivePeriods <= 0 || cfg.MonthlyAmount.IsZero() {
		return nil, nil
	}

	var out []Record
	for id := range in.Index.ByID {
		recipient, ok := in.distributor(id)
		if !ok || !in.Active(recipient.ID) {
			continue
		}
		if !recipient.Rank.AtLeast(cfg.MinRank) {
			continue
		}
		history, err := in.History(ctx, recipient.ID, cfg.ConsecutivePeriods)
		if err != nil {
			return nil, err
		}
		// History skips absent periods, so a short slice means a gap.
		if len(history) < cfg.ConsecutivePeriods {
			continue
		}
		qualified := true
		for _, snap := range history {
			if !snap.GroupBV.AtLeast(cfg.MinGBV) {
				qualified = false
				break
			}
		}
		if !qualified {
			continue
		}
		rec := in.newRecord(recipient.ID, t, SourceDistributor, string(recipient.ID), cfg.MonthlyAmount)
		rec.Meta = map[string]string{
			"consecutive_periods": strconv.Itoa(cfg.ConsecutivePeriods),
			"min_gbv":             cfg.MinGBV.String(),
		}
		out = append(out, rec)
	}
	return out, nil
}

var (
	_ Calculator = (*CarCalculator)(nil)
	_ Calculator = (*VacationCalculator)(nil)
)
