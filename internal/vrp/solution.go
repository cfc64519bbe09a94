package vrp

import (
	"errors"
	"fmt"

	"github.com/yourbasic/bit"
)

// ErrPartition is returned when a solution does not visit every customer exactly once.
var ErrPartition = errors.New("routes do not partition the customers")

// ErrInfeasible is returned when a route breaks capacity or a time window.
var ErrInfeasible = errors.New("route is infeasible")

// Solution is a set of routes owned by one pipeline stage.
type Solution struct {
	Routes []*Route
}

// NewSolution wraps routes without copying them.
func NewSolution(routes ...*Route) *Solution {
	return &Solution{Routes: routes}
}

// Cost sums route costs.
func (s *Solution) Cost() int {
	total := 0
	for _, r := range s.Routes {
		total += r.Cost()
	}
	return total
}

// Feasible reports whether every route is feasible.
func (s *Solution) Feasible() bool {
	for _, r := range s.Routes {
		if !r.Feasible() {
			return false
		}
	}
	return true
}

// NonEmpty counts routes that visit at least one customer.
func (s *Solution) NonEmpty() int {
	n := 0
	for _, r := range s.Routes {
		if !r.Empty() {
			n++
		}
	}
	return n
}

// Clone deep-copies every route so stages never share mutable state.
func (s *Solution) Clone() *Solution {
	out := &Solution{Routes: make([]*Route, len(s.Routes))}
	for i, r := range s.Routes {
		out.Routes[i] = r.Clone()
	}
	return out
}

// Sequences returns the visiting order of every route.
func (s *Solution) Sequences() [][]int {
	out := make([][]int, len(s.Routes))
	for i, r := range s.Routes {
		out[i] = r.Customers()
	}
	return out
}

// Validate checks that every non-depot customer of inst appears in exactly one
// route exactly once and that nothing else does.
func (s *Solution) Validate(inst *Instance) error {
	seen := new(bit.Set)
	for ri, r := range s.Routes {
		for _, c := range r.seq {
			if c <= 0 || c >= inst.Size() {
				return fmt.Errorf("%w: route %d visits unknown customer %d", ErrPartition, ri, c)
			}
			if seen.Contains(c) {
				return fmt.Errorf("%w: customer %d visited twice", ErrPartition, c)
			}
			seen.Add(c)
		}
	}
	if got, want := seen.Size(), inst.Size()-1; got != want {
		return fmt.Errorf("%w: %d of %d customers visited", ErrPartition, got, want)
	}
	return nil
}

// CheckFeasible reports the first infeasible route.
func (s *Solution) CheckFeasible() error {
	for i, r := range s.Routes {
		if d := r.Demand(); d > r.inst.Capacity() {
			return fmt.Errorf("%w: route %d demand %d exceeds capacity %d", ErrInfeasible, i, d, r.inst.Capacity())
		}
		if r.Time() == InfTime {
			return fmt.Errorf("%w: route %d misses a due date", ErrInfeasible, i)
		}
	}
	return nil
}
