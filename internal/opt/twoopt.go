package opt

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"cvrptw/internal/vrp"
)

// TwoOpt improves each route independently by segment reversal.
// Routes never interact, so they are processed concurrently.
type TwoOpt struct {
	// Workers bounds concurrent routes; 0 means one goroutine per route.
	Workers int
}

// Improve returns a new solution whose routes are 2-opt local optima.
// sol is not modified.
func (t TwoOpt) Improve(ctx context.Context, sol *vrp.Solution) (*vrp.Solution, error) {
	out := sol.Clone()
	g, gctx := errgroup.WithContext(ctx)
	if t.Workers > 0 {
		g.SetLimit(t.Workers)
	}
	for i, r := range out.Routes {
		g.Go(func() error {
			best, err := ImproveRoute(gctx, r)
			if err != nil {
				return err
			}
			out.Routes[i] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("two-opt: %w", err)
	}
	return out, nil
}

// ImproveRoute repeatedly applies the reversal reversed(i, j+1) with the
// lowest resulting cost among those whose schedule stays within every time
// window, until no reversal strictly lowers the cost.
func ImproveRoute(ctx context.Context, r *vrp.Route) (*vrp.Route, error) {
	cur := r
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best := cur
		n := cur.Len()
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				if cur.Cost()+reversalDelta(cur, i, j+1) >= best.Cost() {
					continue
				}
				cand := cur.Reversed(i, j+1)
				if cand.Time() != vrp.InfTime {
					best = cand
				}
			}
		}
		if best == cur {
			return cur, nil
		}
		cur = best
	}
}

// reversalDelta is the cost change of reversing [i, j) in r.
func reversalDelta(r *vrp.Route, i, j int) int {
	inst := r.Instance()
	prev, next := 0, 0
	if i > 0 {
		prev = r.At(i - 1)
	}
	if j < r.Len() {
		next = r.At(j)
	}
	first, last := r.At(i), r.At(j-1)
	return inst.Dist(prev, last) + inst.Dist(first, next) - inst.Dist(prev, first) - inst.Dist(last, next)
}
