package pbo

import (
	"errors"
	"fmt"

	"cvrptw/internal/vrp"
)

// ErrMalformedAssignment is returned when the true arcs of a vehicle do not
// form a single depot-to-depot walk.
var ErrMalformedAssignment = errors.New("malformed assignment")

// Decode rebuilds one route per source route by walking each vehicle's true
// arcs from the depot. Vehicles without a depot arc and routes that were not
// encoded come back empty.
func (e *Encoding) Decode(inst *vrp.Instance, trueVars []int) (*vrp.Solution, error) {
	succ := make([]map[int]int, e.routes)
	for _, id := range trueVars {
		a, ok := e.arcs[id]
		if !ok {
			continue
		}
		if succ[a.Vehicle] == nil {
			succ[a.Vehicle] = map[int]int{}
		}
		if prev, dup := succ[a.Vehicle][a.From]; dup && prev != a.To {
			return nil, fmt.Errorf("decode: vehicle %d leaves %d twice: %w", a.Vehicle, a.From, ErrMalformedAssignment)
		}
		succ[a.Vehicle][a.From] = a.To
	}

	routes := make([]*vrp.Route, e.routes)
	for v := range routes {
		r := vrp.NewRoute(inst)
		next, ok := succ[v][0]
		for steps := 0; ok && next != 0; steps++ {
			if steps >= e.size || r.Contains(next) {
				return nil, fmt.Errorf("decode: vehicle %d revisits %d: %w", v, next, ErrMalformedAssignment)
			}
			r.Append(next)
			if next, ok = succ[v][next]; !ok {
				return nil, fmt.Errorf("decode: vehicle %d stops after %d: %w", v, r.Last(), ErrMalformedAssignment)
			}
		}
		routes[v] = r
	}
	return vrp.NewSolution(routes...), nil
}
