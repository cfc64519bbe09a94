package opt

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/vrp"
)

// SavingsOptions tunes the Clarke-Wright constructor.
type SavingsOptions struct {
	// TimeWindows rejects merges whose merged route misses a due date.
	TimeWindows bool
	// Reduce redistributes small routes until the target vehicle count is met.
	Reduce bool
}

// SavingsConstructor merges singleton routes in order of decreasing saving.
type SavingsConstructor struct {
	opts SavingsOptions
}

func NewSavingsConstructor(opts SavingsOptions) *SavingsConstructor {
	return &SavingsConstructor{opts: opts}
}

// Saving is the distance saved by serving I and J on one route instead of two.
type Saving struct {
	Value int
	I, J  int
}

// Savings lists D[0,i] + D[0,j] - D[i,j] for every customer pair i < j,
// largest first. Equal savings keep (i, j) order.
func Savings(inst *vrp.Instance) []Saving {
	n := inst.Size()
	out := make([]Saving, 0, (n-1)*(n-2)/2)
	for i := 1; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, Saving{Value: inst.Dist(0, i) + inst.Dist(0, j) - inst.Dist(i, j), I: i, J: j})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	return out
}

// Construct merges routes along positive savings. With Reduce set and more
// routes than vehicles (or the instance minimum when vehicles <= 0), it runs
// ReduceRoutes; if that fails the merged solution is returned together with
// an error wrapping ErrRouteReductionFailed.
func (s *SavingsConstructor) Construct(ctx context.Context, inst *vrp.Instance, vehicles int) (*vrp.Solution, error) {
	sol, err := s.merge(ctx, inst)
	if err != nil {
		return nil, err
	}
	if !s.opts.Reduce {
		return sol, nil
	}
	target := vehicles
	if target <= 0 {
		target = inst.MinVehicles()
	}
	if len(sol.Routes) <= target {
		return sol, nil
	}
	reduced, err := ReduceRoutes(inst, sol, target, s.opts.TimeWindows)
	if err != nil {
		return sol, err
	}
	return reduced, nil
}

func (s *SavingsConstructor) merge(ctx context.Context, inst *vrp.Instance) (*vrp.Solution, error) {
	n := inst.Size()
	owner := make([]*vrp.Route, n)
	seedOf := make(map[*vrp.Route]int, n)
	for c := 1; c < n; c++ {
		r := vrp.NewRoute(inst, c)
		owner[c] = r
		seedOf[r] = c
	}

	merges := 0
	for k, sv := range Savings(inst) {
		if sv.Value <= 0 {
			break
		}
		if k%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ri, rj := owner[sv.I], owner[sv.J]
		if ri == rj {
			continue
		}
		if !isEndpoint(ri, sv.I) || !isEndpoint(rj, sv.J) {
			continue
		}
		if ri.Demand()+rj.Demand() > inst.Capacity() {
			continue
		}
		// orient so that i is the tail of one route and j the head of the other
		if ri.First() == sv.I {
			ri = ri.Reversed(0, ri.Len())
		}
		if rj.Last() == sv.J {
			rj = rj.Reversed(0, rj.Len())
		}
		merged := ri.Concat(rj)
		if s.opts.TimeWindows && merged.Time() == vrp.InfTime {
			continue
		}
		seed := min(seedOf[owner[sv.I]], seedOf[owner[sv.J]])
		delete(seedOf, owner[sv.I])
		delete(seedOf, owner[sv.J])
		seedOf[merged] = seed
		for i := 0; i < merged.Len(); i++ {
			owner[merged.At(i)] = merged
		}
		merges++
	}

	routes := make([]*vrp.Route, 0, len(seedOf))
	for r := range seedOf {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(a, b int) bool { return seedOf[routes[a]] < seedOf[routes[b]] })
	log.WithFields(log.Fields{"instance": inst.Name(), "merges": merges, "routes": len(routes)}).Debug("savings: merged")
	return vrp.NewSolution(routes...), nil
}

func isEndpoint(r *vrp.Route, c int) bool {
	return r.First() == c || r.Last() == c
}

// ReduceRoutes empties routes until at most target remain. Candidate routes
// are tried shortest first; each of their customers is appended to the least
// loaded remaining route that has capacity for it. Ties go to the lowest
// route index. sol is not modified.
func ReduceRoutes(inst *vrp.Instance, sol *vrp.Solution, target int, timeWindows bool) (*vrp.Solution, error) {
	routes := sol.Clone().Routes
	for len(routes) > target {
		order := indexes(len(routes))
		sort.SliceStable(order, func(a, b int) bool { return routes[order[a]].Len() < routes[order[b]].Len() })

		removed := false
		for _, victim := range order {
			if trial, ok := redistribute(inst, routes, victim, timeWindows); ok {
				routes = trial
				removed = true
				break
			}
		}
		if !removed {
			return nil, fmt.Errorf("reduce routes to %d: %d remain: %w", target, len(routes), ErrRouteReductionFailed)
		}
	}
	return vrp.NewSolution(routes...), nil
}

// redistribute moves every customer of routes[victim] into the other routes.
func redistribute(inst *vrp.Instance, routes []*vrp.Route, victim int, timeWindows bool) ([]*vrp.Route, bool) {
	trial := make([]*vrp.Route, 0, len(routes)-1)
	for i, r := range routes {
		if i != victim {
			trial = append(trial, r.Clone())
		}
	}
	for _, c := range routes[victim].Customers() {
		d := inst.Customer(c).Demand
		order := indexes(len(trial))
		sort.SliceStable(order, func(a, b int) bool { return trial[order[a]].Demand() < trial[order[b]].Demand() })
		placed := false
		for _, k := range order {
			r := trial[k]
			if r.Demand()+d > inst.Capacity() {
				continue
			}
			if timeWindows {
				cand := r.Clone()
				cand.Append(c)
				if cand.Time() == vrp.InfTime {
					continue
				}
			}
			r.Append(c)
			placed = true
			break
		}
		if !placed {
			return nil, false
		}
	}
	return trial, true
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
