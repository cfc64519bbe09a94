package vrp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineInstance puts customers on the x axis at 10, 20, 30, ... with wide windows.
func lineInstance(t *testing.T, n int) *Instance {
	t.Helper()
	cs := []Customer{{ID: 0, DueDate: 10000}}
	for i := 1; i <= n; i++ {
		cs = append(cs, Customer{ID: i, Pos: Point{X: float64(10 * i)}, Demand: i, DueDate: 10000, ServiceTime: 1})
	}
	inst, err := NewInstance("line", n, 100, cs)
	require.NoError(t, err)
	return inst
}

func randomInstance(t *testing.T, rng *rand.Rand, n int) *Instance {
	t.Helper()
	cs := []Customer{{ID: 0, Pos: Point{X: 50, Y: 50}, DueDate: 400}}
	for i := 1; i <= n; i++ {
		ready := rng.Intn(200)
		cs = append(cs, Customer{
			ID:          i,
			Pos:         Point{X: float64(rng.Intn(100)), Y: float64(rng.Intn(100))},
			Demand:      1 + rng.Intn(10),
			ReadyTime:   ready,
			DueDate:     ready + 20 + rng.Intn(200),
			ServiceTime: rng.Intn(10),
		})
	}
	inst, err := NewInstance("random", n, 50, cs)
	require.NoError(t, err)
	return inst
}

func assertAggregates(t *testing.T, r *Route, step int) {
	t.Helper()
	seq := r.Customers()
	require.Equal(t, ComputeCost(r.inst, seq), r.Cost(), "cost after step %d (%s)", step, r)
	require.Equal(t, ComputeDemand(r.inst, seq), r.Demand(), "demand after step %d (%s)", step, r)
	require.Equal(t, ComputeTime(r.inst, seq), r.Time(), "time after step %d (%s)", step, r)
}

func TestRouteEmptyAndSingleton(t *testing.T) {
	inst := lineInstance(t, 3)
	r := NewRoute(inst)
	assert.Equal(t, 0, r.Cost())
	assert.Equal(t, 0, r.Demand())
	assert.Equal(t, 0, r.Time())
	assert.True(t, r.Feasible())

	r.Append(2)
	assert.Equal(t, 2*inst.Dist(0, 2), r.Cost())
	assert.Equal(t, 2, r.Demand())
	// travel 20, serve 1, travel back 20
	assert.Equal(t, 41, r.Time())
	assert.Equal(t, 21, r.Departure())
}

func TestRouteTimeShortCircuitsOnDueDate(t *testing.T) {
	cs := []Customer{
		{ID: 0, DueDate: 1000},
		{ID: 1, Pos: Point{X: 10}, DueDate: 100},
		{ID: 2, Pos: Point{X: 500}, DueDate: 100},
	}
	inst, err := NewInstance("late", 2, 10, cs)
	require.NoError(t, err)
	r := NewRoute(inst, 1, 2)
	assert.Equal(t, InfTime, r.Time())
	assert.False(t, r.Feasible())
	assert.Equal(t, InfTime, r.Departure())
}

func TestRouteDepotDeadline(t *testing.T) {
	cs := []Customer{
		{ID: 0, DueDate: 25},
		{ID: 1, Pos: Point{X: 10}, DueDate: 100, ServiceTime: 10},
	}
	inst, err := NewInstance("deadline", 1, 10, cs)
	require.NoError(t, err)
	r := NewRoute(inst)
	r.Append(1)
	// arrive 10, leave 20, back 30 > 25
	assert.Equal(t, InfTime, r.Time())
}

func TestRouteWaitsForReadyTime(t *testing.T) {
	cs := []Customer{
		{ID: 0, DueDate: 1000},
		{ID: 1, Pos: Point{X: 10}, ReadyTime: 50, DueDate: 100, ServiceTime: 5},
	}
	inst, err := NewInstance("wait", 1, 10, cs)
	require.NoError(t, err)
	r := NewRoute(inst, 1)
	assert.Equal(t, 65, r.Time())
}

func TestRouteReversedCost(t *testing.T) {
	inst := lineInstance(t, 5)
	r := NewRoute(inst, 1, 4, 3, 2, 5)
	base := r.Cost()
	for i := 0; i <= r.Len(); i++ {
		for j := i; j <= r.Len(); j++ {
			rev := r.Reversed(i, j)
			assertAggregates(t, rev, i*10+j)
		}
	}
	assert.Equal(t, base, r.Cost(), "parent route must be untouched")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, r.Reversed(1, 4).Customers())
}

func TestRouteConcat(t *testing.T) {
	inst := lineInstance(t, 4)
	a := NewRoute(inst, 1, 2)
	b := NewRoute(inst, 3, 4)
	_, _ = a.Cost(), b.Cost()
	_, _ = a.Demand(), b.Demand()
	ab := a.Concat(b)
	assert.Equal(t, []int{1, 2, 3, 4}, ab.Customers())
	assertAggregates(t, ab, 0)
	assert.Equal(t, 80, ab.Cost())

	empty := NewRoute(inst)
	assert.Equal(t, a.Cost(), a.Concat(empty).Cost())
	assert.Equal(t, b.Cost(), empty.Concat(b).Cost())
}

func TestRouteRemoveAndInsertBoundaries(t *testing.T) {
	inst := lineInstance(t, 4)
	r := NewRoute(inst, 1, 2, 3)
	_ = r.Cost()
	require.True(t, r.Remove(1))
	assertAggregates(t, r, 1)
	require.True(t, r.Remove(3))
	assertAggregates(t, r, 2)
	require.False(t, r.Remove(4))
	r.Insert(0, 4)
	assertAggregates(t, r, 3)
	r.Insert(1, 1)
	assertAggregates(t, r, 4)
	require.True(t, r.Remove(2))
	require.True(t, r.Remove(1))
	require.True(t, r.Remove(4))
	assert.Equal(t, 0, r.Cost())
	assert.Panics(t, func() { r.Insert(3, 1) })
}

func TestRouteCloneIsIndependent(t *testing.T) {
	inst := lineInstance(t, 3)
	r := NewRoute(inst, 1, 2)
	r.SetCentroid(Point{X: 1, Y: 2})
	c := r.Clone()
	c.Append(3)
	c.SetCentroid(Point{X: 9})
	assert.Equal(t, []int{1, 2}, r.Customers())
	p, ok := r.Centroid()
	require.True(t, ok)
	assert.Equal(t, Point{X: 1, Y: 2}, p)
}

// Random mutation sequences must keep every cached aggregate equal to a
// from-scratch recomputation.
func TestRouteAggregatesMatchRecomputation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 30; trial++ {
		inst := randomInstance(t, rng, 12)
		r := NewRoute(inst)
		pool := rng.Perm(12)
		for i := range pool {
			pool[i]++
		}
		for step := 0; step < 60; step++ {
			// read some aggregates so both fresh and stale paths are used
			if rng.Intn(2) == 0 {
				_, _, _ = r.Cost(), r.Demand(), r.Time()
			}
			switch op := rng.Intn(5); {
			case op == 0 && len(pool) > 0:
				r.Append(pool[0])
				pool = pool[1:]
			case op == 1 && len(pool) > 0:
				r.Insert(rng.Intn(r.Len()+1), pool[0])
				pool = pool[1:]
			case op == 2 && r.Len() > 0:
				c := r.At(rng.Intn(r.Len()))
				require.True(t, r.Remove(c))
				pool = append(pool, c)
			case op == 3 && r.Len() > 0:
				i := rng.Intn(r.Len() + 1)
				j := i + rng.Intn(r.Len()-i+1)
				r = r.Reversed(i, j)
			case op == 4 && len(pool) > 1:
				other := NewRoute(inst, pool[0], pool[1])
				pool = pool[2:]
				if rng.Intn(2) == 0 {
					r = r.Concat(other)
				} else {
					r = other.Concat(r)
				}
			}
			assertAggregates(t, r, step)
		}
	}
}
