package opt

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/pbo"
	"cvrptw/internal/solver"
	"cvrptw/internal/vrp"
)

type stubSolver struct {
	res *solver.Result
	err error
}

func (s stubSolver) Solve(context.Context, *pbo.Model, time.Duration) (*solver.Result, error) {
	return s.res, s.err
}

func allArcs(t *testing.T, inst *vrp.Instance, sol *vrp.Solution) []*vrp.ArcMatrix {
	t.Helper()
	ms, err := Reducer{K: inst.Size() - 1}.Reduce(context.Background(), inst, sol)
	require.NoError(t, err)
	return ms
}

func TestRefineFindsToyOptimum(t *testing.T) {
	inst := toyInstance(t)
	// the start mixes the arms; with k = n-1 every arc is open anyway
	start := vrp.NewSolution(vrp.NewRoute(inst, 1, 3), vrp.NewRoute(inst, 2, 4))
	matrices := allArcs(t, inst, start)

	for _, strategy := range []pbo.Strategy{pbo.MTZ, pbo.Induction} {
		t.Run(string(strategy), func(t *testing.T) {
			r := &Refiner{Solver: &solver.Gophersat{}, Budget: time.Minute, Encode: pbo.EncodeOptions{Strategy: strategy}}
			sol, stats, err := r.Refine(context.Background(), inst, matrices)
			require.NoError(t, err)
			require.NoError(t, sol.Validate(inst))
			require.NoError(t, sol.CheckFeasible())
			assert.Equal(t, toyOptimum, sol.Cost())
			assert.Equal(t, toyOptimum, stats.Objective)
			assert.Equal(t, "optimal", stats.Status)
			assert.Equal(t, 2, stats.Vehicles)
			assert.Positive(t, stats.Vars)
		})
	}
}

func TestRefineReportsInfeasible(t *testing.T) {
	toy := toyInstance(t)
	inst, err := vrp.NewInstance("toy", 2, 3, toy.Customers())
	require.NoError(t, err)
	start := vrp.NewSolution(vrp.NewRoute(inst, 1, 2), vrp.NewRoute(inst, 3, 4))

	r := &Refiner{Solver: &solver.Gophersat{}, Budget: time.Minute}
	_, _, err = r.Refine(context.Background(), inst, allArcs(t, inst, start))
	assert.ErrorIs(t, err, solver.ErrNoFeasibleSolution)
}

func TestRefinePropagatesSolverErrors(t *testing.T) {
	inst := toyInstance(t)
	start := vrp.NewSolution(vrp.NewRoute(inst, 1, 2), vrp.NewRoute(inst, 3, 4))
	matrices := allArcs(t, inst, start)

	r := &Refiner{Solver: stubSolver{err: solver.ErrSolverTimeout}, Budget: time.Second}
	_, _, err := r.Refine(context.Background(), inst, matrices)
	assert.ErrorIs(t, err, solver.ErrSolverTimeout)

	// an assignment that leaves customers out is not a solution
	r = &Refiner{Solver: stubSolver{res: &solver.Result{Status: pbo.StatusSatisfiable}}, Budget: time.Second}
	_, _, err = r.Refine(context.Background(), inst, matrices)
	assert.ErrorIs(t, err, vrp.ErrPartition)
}

// windowInstance has five customers with windows tight enough to bind.
func windowInstance(t *testing.T, rng *rand.Rand) *vrp.Instance {
	t.Helper()
	cs := []vrp.Customer{{ID: 0, Pos: vrp.Point{X: 50, Y: 50}, DueDate: 400}}
	for i := 1; i <= 5; i++ {
		ready := rng.Intn(150)
		cs = append(cs, vrp.Customer{
			ID:          i,
			Pos:         vrp.Point{X: float64(rng.Intn(100)), Y: float64(rng.Intn(100))},
			Demand:      1 + rng.Intn(10),
			ReadyTime:   ready,
			DueDate:     ready + 40 + rng.Intn(150),
			ServiceTime: rng.Intn(10),
		})
	}
	inst, err := vrp.NewInstance("window", 2, 25, cs)
	require.NoError(t, err)
	return inst
}

// bestInUniverse enumerates every assignment of customers to vehicles and
// every visiting order over the permitted arcs of each vehicle. Vehicles
// with a depot arc must be used; the others stay empty. It returns -1 when
// nothing is feasible.
func bestInUniverse(inst *vrp.Instance, matrices []*vrp.ArcMatrix) int {
	n, v := inst.Size()-1, len(matrices)
	best := -1
	owner := make([]int, n+1)
	var assign func(c int)
	assign = func(c int) {
		if c > n {
			total := 0
			for k, mat := range matrices {
				var members []int
				for i := 1; i <= n; i++ {
					if owner[i] == k {
						members = append(members, i)
					}
				}
				if (len(members) > 0) != mat.DepotLinked() {
					return
				}
				if len(members) == 0 {
					continue
				}
				cost := bestOrder(inst, mat, members)
				if cost < 0 {
					return
				}
				total += cost
			}
			if best < 0 || total < best {
				best = total
			}
			return
		}
		for k := 0; k < v; k++ {
			owner[c] = k
			assign(c + 1)
		}
	}
	assign(1)
	return best
}

// bestOrder is the cheapest feasible route over members using only arcs
// the matrix permits, or -1.
func bestOrder(inst *vrp.Instance, mat *vrp.ArcMatrix, members []int) int {
	best := -1
	seq := make([]int, 0, len(members))
	used := make([]bool, len(members))
	var walk func(prev int)
	walk = func(prev int) {
		if len(seq) == len(members) {
			if !mat.Permitted(prev, 0) {
				return
			}
			r := vrp.NewRoute(inst, seq...)
			if r.Feasible() && (best < 0 || r.Cost() < best) {
				best = r.Cost()
			}
			return
		}
		for i, c := range members {
			if used[i] || !mat.Permitted(prev, c) {
				continue
			}
			used[i] = true
			seq = append(seq, c)
			walk(c)
			seq = seq[:len(seq)-1]
			used[i] = false
		}
	}
	walk(0)
	return best
}

func TestRefineMatchesBruteForce(t *testing.T) {
	trials := 25
	if testing.Short() {
		trials = 5
	}
	rng := rand.New(rand.NewSource(13))
	for trial := 0; trial < trials; trial++ {
		inst := windowInstance(t, rng)
		start := vrp.NewSolution(vrp.NewRoute(inst, 1, 2, 3), vrp.NewRoute(inst, 4, 5))
		matrices := allArcs(t, inst, start)
		want := bestInUniverse(inst, matrices)

		for _, strategy := range []pbo.Strategy{pbo.MTZ, pbo.Induction} {
			r := &Refiner{Solver: solver.NewGophersat(2), Budget: time.Minute, Encode: pbo.EncodeOptions{Strategy: strategy}}
			sol, stats, err := r.Refine(context.Background(), inst, matrices)
			if want < 0 {
				assert.ErrorIs(t, err, solver.ErrNoFeasibleSolution, "trial %d %s", trial, strategy)
				continue
			}
			require.NoError(t, err, "trial %d %s", trial, strategy)
			assert.Equal(t, want, sol.Cost(), "trial %d %s", trial, strategy)
			assert.Equal(t, want, stats.Objective, "trial %d %s", trial, strategy)
			assert.Equal(t, pbo.StatusOptimal.String(), stats.Status, "trial %d %s", trial, strategy)
		}
	}
}
