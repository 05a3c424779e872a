package commission

import (
	"context"
	"sort"
	"strconv"

	"github.com/warp/compensation-engine/engine"
)

// InfinityPoolCalculator funds a company-wide pool from period revenue
// and splits it equally among qualified leaders (active, at or above the
// pool's minimum rank). Integer floor division; the remainder cents stay
// with the company rather than being assigned by arbitrary ordering.
type InfinityPoolCalculator struct{}

func (c *InfinityPoolCalculator) Type() Type        { return TypeInfinityPool }
func (c *InfinityPoolCalculator) DependsOn() []Type { return nil }

func (c *InfinityPoolCalculator) Calculate(_ context.Context, in *Inputs) ([]Record, error) {
	cfg := in.Plan.InfinityPool
	if cfg.RevenueRate.IsZero() {
		return nil, nil
	}

	var revenue engine.Money
	for i := range in.Orders {
		if in.Orders[i].Qualifying() {
			revenue = revenue.Add(in.Orders[i].TotalCents())
		}
	}
	pool := revenue.MulRate(cfg.RevenueRate)
	if pool.IsZero() {
		return nil, nil
	}

	var qualified []engine.DistributorID
	for id := range in.Index.ByID {
		d, ok := in.distributor(id)
		if !ok || !in.Active(d.ID) {
			continue
		}
		if !d.Rank.AtLeast(cfg.MinRank) {
			continue
		}
		qualified = append(qualified, d.ID)
	}
	if len(qualified) == 0 {
		return nil, nil
	}
	sort.Slice(qualified, func(i, j int) bool { return qualified[i] < qualified[j] })

	share := engine.Money(pool.Cents() / int64(len(qualified)))
	if share.IsZero() {
		return nil, nil
	}

	poolID := "infinity_pool:" + in.Period.String()
	out := make([]Record, 0, len(qualified))
	for _, id := range qualified {
		rec := in.newRecord(id, TypeInfinityPool, SourcePool, poolID, share)
		rec.Meta = map[string]string{
			"pool_cents": strconv.FormatInt(pool.Cents(), 10),
			"shares":     strconv.Itoa(len(qualified)),
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Calculator = (*InfinityPoolCalculator)(nil)
