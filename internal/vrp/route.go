package vrp

import (
	"fmt"
	"math"
	"strings"
)

// InfTime marks a route whose schedule violates a due date.
const InfTime = math.MaxInt

// aggregate is a cached value that is either fresh or stale.
type aggregate struct {
	val   int
	fresh bool
}

func (a *aggregate) set(v int) { a.val, a.fresh = v, true }
func (a *aggregate) invalidate() { a.fresh = false }

// Route is an ordered customer sequence starting and ending at the depot.
// Cost, demand and completion time are cached and kept equal to a full
// recomputation over the current sequence after every mutation.
type Route struct {
	inst     *Instance
	seq      []int
	cost     aggregate
	demand   aggregate
	time     aggregate
	centroid *Point
}

// NewRoute builds a route over a copy of customers.
func NewRoute(inst *Instance, customers ...int) *Route {
	return &Route{inst: inst, seq: append([]int(nil), customers...)}
}

func (r *Route) Instance() *Instance { return r.inst }
func (r *Route) Len() int { return len(r.seq) }
func (r *Route) Empty() bool { return len(r.seq) == 0 }
func (r *Route) At(i int) int { return r.seq[i] }

// Customers returns a copy of the visiting order.
func (r *Route) Customers() []int { return append([]int(nil), r.seq...) }

// First returns the first customer, or the depot id for an empty route.
func (r *Route) First() int {
	if len(r.seq) == 0 {
		return 0
	}
	return r.seq[0]
}

// Last returns the last customer, or the depot id for an empty route.
func (r *Route) Last() int {
	if len(r.seq) == 0 {
		return 0
	}
	return r.seq[len(r.seq)-1]
}

// Index returns the position of customer c, or -1.
func (r *Route) Index(c int) int {
	for i, v := range r.seq {
		if v == c {
			return i
		}
	}
	return -1
}

func (r *Route) Contains(c int) bool { return r.Index(c) >= 0 }

// Centroid returns the clustering position attached to the route, if any.
func (r *Route) Centroid() (Point, bool) {
	if r.centroid == nil {
		return Point{}, false
	}
	return *r.centroid, true
}

func (r *Route) SetCentroid(p Point) { r.centroid = &p }

// Cost is the depot to depot round-trip distance.
func (r *Route) Cost() int {
	if !r.cost.fresh {
		r.cost.set(ComputeCost(r.inst, r.seq))
	}
	return r.cost.val
}

// Demand is the total demand of the members.
func (r *Route) Demand() int {
	if !r.demand.fresh {
		r.demand.set(ComputeDemand(r.inst, r.seq))
	}
	return r.demand.val
}

// Time is the completion instant back at the depot when leaving at 0,
// or InfTime when a due date is missed.
func (r *Route) Time() int {
	if !r.time.fresh {
		r.time.set(ComputeTime(r.inst, r.seq))
	}
	return r.time.val
}

// Departure is the instant the vehicle leaves its last stop.
func (r *Route) Departure() int {
	t := r.Time()
	if t == InfTime {
		return InfTime
	}
	return t - r.inst.Dist(r.Last(), 0)
}

// Feasible reports whether capacity and all time windows hold.
func (r *Route) Feasible() bool {
	return r.Demand() <= r.inst.Capacity() && r.Time() != InfTime
}

// Append adds c after the last stop.
func (r *Route) Append(c int) {
	last := r.Last()
	if r.cost.fresh {
		r.cost.val += r.inst.Dist(last, c) + r.inst.Dist(c, 0) - r.inst.Dist(last, 0)
	}
	if r.demand.fresh {
		r.demand.val += r.inst.Customer(c).Demand
	}
	if r.time.fresh && r.time.val != InfTime {
		dep, ok := visit(r.inst, last, c, r.time.val-r.inst.Dist(last, 0))
		r.time.set(finish(r.inst, c, dep, ok))
	} else {
		r.time.invalidate()
	}
	r.seq = append(r.seq, c)
}

// Insert places c at position idx, shifting later stops back.
// It panics if idx is out of [0, Len()].
func (r *Route) Insert(idx int, c int) {
	if idx < 0 || idx > len(r.seq) {
		panic(fmt.Sprintf("vrp: insert index %d out of range [0,%d]", idx, len(r.seq)))
	}
	if idx == len(r.seq) {
		r.Append(c)
		return
	}
	prev, next := 0, r.seq[idx]
	if idx > 0 {
		prev = r.seq[idx-1]
	}
	if r.cost.fresh {
		r.cost.val += r.inst.Dist(prev, c) + r.inst.Dist(c, next) - r.inst.Dist(prev, next)
	}
	if r.demand.fresh {
		r.demand.val += r.inst.Customer(c).Demand
	}
	r.time.invalidate()
	r.seq = append(r.seq, 0)
	copy(r.seq[idx+1:], r.seq[idx:])
	r.seq[idx] = c
}

// Remove deletes customer c and reports whether it was present.
func (r *Route) Remove(c int) bool {
	idx := r.Index(c)
	if idx < 0 {
		return false
	}
	prev, next := 0, 0
	if idx > 0 {
		prev = r.seq[idx-1]
	}
	if idx < len(r.seq)-1 {
		next = r.seq[idx+1]
	}
	if r.cost.fresh {
		r.cost.val -= r.inst.Dist(prev, c) + r.inst.Dist(c, next) - r.inst.Dist(prev, next)
	}
	if r.demand.fresh {
		r.demand.val -= r.inst.Customer(c).Demand
	}
	r.time.invalidate()
	r.seq = append(r.seq[:idx], r.seq[idx+1:]...)
	return true
}

// Reversed returns a new route with the segment [i, j) reversed.
// It panics unless 0 <= i <= j <= Len().
func (r *Route) Reversed(i, j int) *Route {
	if i < 0 || j > len(r.seq) || i > j {
		panic(fmt.Sprintf("vrp: reversal [%d,%d) out of range for length %d", i, j, len(r.seq)))
	}
	out := r.Clone()
	if j-i < 2 {
		return out
	}
	for a, b := i, j-1; a < b; a, b = a+1, b-1 {
		out.seq[a], out.seq[b] = out.seq[b], out.seq[a]
	}
	if r.cost.fresh {
		prev, next := 0, 0
		if i > 0 {
			prev = r.seq[i-1]
		}
		if j < len(r.seq) {
			next = r.seq[j]
		}
		first, last := r.seq[i], r.seq[j-1]
		out.cost.val += r.inst.Dist(prev, last) + r.inst.Dist(first, next) -
			r.inst.Dist(prev, first) - r.inst.Dist(last, next)
	}
	out.time.invalidate()
	return out
}

// Concat returns a new route visiting r's stops followed by other's stops.
func (r *Route) Concat(other *Route) *Route {
	seq := make([]int, 0, len(r.seq)+len(other.seq))
	seq = append(append(seq, r.seq...), other.seq...)
	out := &Route{inst: r.inst, seq: seq}
	if r.cost.fresh && other.cost.fresh {
		switch {
		case len(r.seq) == 0:
			out.cost.set(other.cost.val)
		case len(other.seq) == 0:
			out.cost.set(r.cost.val)
		default:
			a, b := r.Last(), other.First()
			out.cost.set(r.cost.val + other.cost.val -
				r.inst.Dist(a, 0) - r.inst.Dist(0, b) + r.inst.Dist(a, b))
		}
	}
	if r.demand.fresh && other.demand.fresh {
		out.demand.set(r.demand.val + other.demand.val)
	}
	return out
}

// Clear empties the route and parks it at centroid p.
func (r *Route) Clear(p Point) {
	r.seq = r.seq[:0]
	r.cost.set(0)
	r.demand.set(0)
	r.time.set(0)
	r.SetCentroid(p)
}

// Clone returns an independent copy.
func (r *Route) Clone() *Route {
	out := *r
	out.seq = append([]int(nil), r.seq...)
	if r.centroid != nil {
		c := *r.centroid
		out.centroid = &c
	}
	return &out
}

func (r *Route) String() string {
	var b strings.Builder
	b.WriteString("0")
	for _, c := range r.seq {
		fmt.Fprintf(&b, " %d", c)
	}
	b.WriteString(" 0")
	return b.String()
}

// ComputeCost recomputes the round-trip distance of seq from scratch.
func ComputeCost(inst *Instance, seq []int) int {
	total, prev := 0, 0
	for _, c := range seq {
		total += inst.Dist(prev, c)
		prev = c
	}
	return total + inst.Dist(prev, 0)
}

// ComputeDemand recomputes the demand of seq from scratch.
func ComputeDemand(inst *Instance, seq []int) int {
	total := 0
	for _, c := range seq {
		total += inst.Customer(c).Demand
	}
	return total
}

// ComputeTime simulates seq from a depot departure at time 0.
func ComputeTime(inst *Instance, seq []int) int {
	dep, prev := 0, 0
	for _, c := range seq {
		var ok bool
		if dep, ok = visit(inst, prev, c, dep); !ok {
			return InfTime
		}
		prev = c
	}
	return finish(inst, prev, dep, true)
}

// visit travels from prev (left at dep) to cur and returns the departure
// from cur, or false when cur's due date is missed.
func visit(inst *Instance, prev, cur, dep int) (int, bool) {
	c := inst.Customer(cur)
	arrival := dep + inst.Dist(prev, cur)
	if arrival > c.DueDate {
		return 0, false
	}
	return max(arrival, c.ReadyTime) + c.ServiceTime, true
}

// finish adds the return leg from last and checks the depot deadline.
func finish(inst *Instance, last, dep int, ok bool) int {
	if !ok {
		return InfTime
	}
	back := dep + inst.Dist(last, 0)
	if back > inst.Depot().DueDate {
		return InfTime
	}
	return back
}
