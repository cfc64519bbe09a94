package solver

import (
	"context"
	"fmt"
	"time"

	gsat "github.com/crillab/gophersat/solver"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"cvrptw/internal/pbo"
)

// Gophersat solves in-process. Optimisation is a descent: after each model
// the objective is bounded below the best cost and the problem is solved
// again until it becomes unsatisfiable or the budget runs out.
//
// Searches, when set, caps the searches running at once across every Solve
// sharing this value. An abandoned search keeps its slot until it finishes.
type Gophersat struct {
	Searches *semaphore.Weighted
}

// NewGophersat returns a backend running at most searches searches at once.
func NewGophersat(searches int) *Gophersat {
	if searches < 1 {
		searches = 1
	}
	return &Gophersat{Searches: semaphore.NewWeighted(int64(searches))}
}

type gsatOutcome struct {
	sat   bool
	model []bool
}

func (g *Gophersat) Solve(ctx context.Context, m *pbo.Model, budget time.Duration) (*Result, error) {
	if m.Contradiction() {
		return nil, fmt.Errorf("gophersat: %w", ErrNoFeasibleSolution)
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	started := time.Now()
	var best *Result
	for round := 0; ; round++ {
		cs := m.Constraints()
		if best != nil {
			cs = append(cs[:len(cs):len(cs)], pbo.Constraint{Terms: m.Objective(), Op: pbo.LE, Bound: best.Objective - 1})
		}
		// gophersat sorts the weights of the constraints it is handed, so
		// every round gets freshly built ones
		constrs, feasible := constraints(cs)
		if !feasible {
			if best == nil {
				return nil, fmt.Errorf("gophersat: %w", ErrNoFeasibleSolution)
			}
			best.Status = pbo.StatusOptimal
			break
		}
		outcome, err := g.solveOnce(ctx, constrs)
		if err != nil {
			if best != nil {
				log.WithFields(log.Fields{"rounds": round, "objective": best.Objective}).Warn("gophersat: budget exhausted, keeping best model")
				break
			}
			return nil, fmt.Errorf("gophersat: after %s: %w", time.Since(started).Round(time.Millisecond), ErrSolverTimeout)
		}
		if !outcome.sat {
			if best == nil {
				return nil, fmt.Errorf("gophersat: %w", ErrNoFeasibleSolution)
			}
			best.Status = pbo.StatusOptimal
			break
		}
		res := &Result{Status: pbo.StatusSatisfiable, TrueVars: trueVars(outcome.model, m.NumVars())}
		res.Objective = m.Cost(res.TrueVars)
		best = res
		log.WithFields(log.Fields{"round": round, "objective": res.Objective}).Debug("gophersat: improved")
		if len(m.Objective()) == 0 {
			best.Status = pbo.StatusOptimal
			break
		}
	}
	best.Elapsed = time.Since(started)
	return best, nil
}

// solveOnce runs one decision problem. gophersat cannot be interrupted, so a
// cancelled call leaves the search goroutine to finish on its own, holding
// its slot until then.
func (g *Gophersat) solveOnce(ctx context.Context, constrs []gsat.PBConstr) (gsatOutcome, error) {
	if len(constrs) == 0 {
		// every constraint was dropped as always true
		return gsatOutcome{sat: true}, nil
	}
	if g.Searches != nil {
		if err := g.Searches.Acquire(ctx, 1); err != nil {
			return gsatOutcome{}, err
		}
	}
	done := make(chan gsatOutcome, 1)
	go func() {
		if g.Searches != nil {
			defer g.Searches.Release(1)
		}
		s := gsat.New(gsat.ParsePBConstrs(constrs))
		if s.Solve() != gsat.Sat {
			done <- gsatOutcome{}
			return
		}
		done <- gsatOutcome{sat: true, model: s.Model()}
	}()
	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return gsatOutcome{}, ctx.Err()
	}
}

// constraints converts to gophersat's >= form with positive weights.
// Constraints that always hold are dropped; ok is false when one can never hold.
func constraints(cs []pbo.Constraint) (out []gsat.PBConstr, ok bool) {
	for _, c := range cs {
		switch c.Op {
		case pbo.GE:
			if pb, keep, sat := atLeast(c.Terms, 1, c.Bound); !sat {
				return nil, false
			} else if keep {
				out = append(out, pb)
			}
		case pbo.LE:
			if pb, keep, sat := atLeast(c.Terms, -1, -c.Bound); !sat {
				return nil, false
			} else if keep {
				out = append(out, pb)
			}
		case pbo.EQ:
			for _, sign := range []int{1, -1} {
				pb, keep, sat := atLeast(c.Terms, sign, sign*c.Bound)
				if !sat {
					return nil, false
				}
				if keep {
					out = append(out, pb)
				}
			}
		}
	}
	return out, true
}

// atLeast builds sign*sum(terms) >= bound with every weight made positive by
// negating its literal.
func atLeast(terms []pbo.Term, sign, bound int) (pb gsat.PBConstr, keep, sat bool) {
	lits := make([]int, 0, len(terms))
	weights := make([]int, 0, len(terms))
	total := 0
	for _, t := range terms {
		w, lit := sign*t.Coef, int(t.Lit)
		if w == 0 {
			continue
		}
		if w < 0 {
			w, lit = -w, -lit
			bound += w
		}
		lits = append(lits, lit)
		weights = append(weights, w)
		total += w
	}
	if bound <= 0 {
		return pb, false, true
	}
	if total < bound {
		return pb, false, false
	}
	return gsat.GtEq(lits, weights, bound), true, true
}

// trueVars maps gophersat's 0-based model onto model ids. Variables that no
// constraint mentions are absent from the model and read as false.
func trueVars(model []bool, n int) []int {
	var out []int
	for id := 1; id <= n && id <= len(model); id++ {
		if model[id-1] {
			out = append(out, id)
		}
	}
	return out
}
