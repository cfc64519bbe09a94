package opt

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/pbo"
	"cvrptw/internal/solver"
	"cvrptw/internal/vrp"
)

// Refiner re-optimises a solution exactly inside per-route arc universes.
type Refiner struct {
	Solver solver.Solver
	Budget time.Duration
	Encode pbo.EncodeOptions
}

// ModelStats describes the model a refinement solved.
type ModelStats struct {
	Vars        int    `json:"vars"`
	Constraints int    `json:"constraints"`
	Vehicles    int    `json:"vehicles"`
	Status      string `json:"status"`
	Objective   int    `json:"objective"`
}

// Refine encodes one vehicle per matrix, solves and decodes. The result has
// one route per matrix. It never returns an infeasible solution: a decoded
// assignment that breaks a window or the capacity is reported as
// solver.ErrNoFeasibleSolution.
func (r *Refiner) Refine(ctx context.Context, inst *vrp.Instance, matrices []*vrp.ArcMatrix) (*vrp.Solution, ModelStats, error) {
	var stats ModelStats
	enc, err := pbo.Encode(inst, matrices, r.Encode)
	if err != nil {
		return nil, stats, fmt.Errorf("refine: %w", err)
	}
	stats.Vars = enc.Model.NumVars()
	stats.Constraints = enc.Model.NumConstraints()
	stats.Vehicles = len(enc.Encoded)
	log.WithFields(log.Fields{"instance": inst.Name(), "vars": stats.Vars, "constraints": stats.Constraints, "vehicles": stats.Vehicles}).
		Info("refine: model built")

	res, err := r.Solver.Solve(ctx, enc.Model, r.Budget)
	if err != nil {
		return nil, stats, fmt.Errorf("refine: %w", err)
	}
	stats.Status = res.Status.String()
	stats.Objective = res.Objective

	sol, err := enc.Decode(inst, res.TrueVars)
	if err != nil {
		return nil, stats, fmt.Errorf("refine: %w", err)
	}
	if err := sol.Validate(inst); err != nil {
		return nil, stats, fmt.Errorf("refine: %w", err)
	}
	if err := sol.CheckFeasible(); err != nil {
		return nil, stats, fmt.Errorf("refine: %w: %w", solver.ErrNoFeasibleSolution, err)
	}
	return sol, stats, nil
}
