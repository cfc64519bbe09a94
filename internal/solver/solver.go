// Package solver runs pseudo-Boolean models through an exact backend.
//
// Two backends are provided: Exec drives an external OPB solver process
// (clasp, roundingsat, ...) through files and its competition-format answer
// stream, and Gophersat solves in-process.
package solver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"cvrptw/internal/pbo"
)

var (
	// ErrNoFeasibleSolution means the backend proved the model unsatisfiable.
	ErrNoFeasibleSolution = errors.New("no feasible solution")
	// ErrSolverTimeout means the budget ran out before any assignment was found.
	ErrSolverTimeout = errors.New("solver timed out")
)

// Result is a satisfying assignment. Status is StatusOptimal when the
// backend proved optimality and StatusSatisfiable for a best-so-far answer.
type Result struct {
	Status    pbo.Status
	Objective int
	TrueVars  []int
	Elapsed   time.Duration
}

// Solver solves a model within a wall-clock budget. Implementations return
// ErrNoFeasibleSolution or ErrSolverTimeout (wrapped) when there is no
// assignment to report.
type Solver interface {
	Solve(ctx context.Context, m *pbo.Model, budget time.Duration) (*Result, error)
}

// Backend names accepted by New.
const (
	BackendGophersat = "gophersat"
	BackendExec      = "exec"
)

// New returns the named backend. path is the solver binary for BackendExec.
// The gophersat backend runs at most one search per CPU.
func New(backend, path string) (Solver, error) {
	switch strings.ToLower(backend) {
	case "", BackendGophersat:
		return NewGophersat(runtime.NumCPU()), nil
	case BackendExec:
		if path == "" {
			return nil, errors.New("solver: exec backend needs a solver path")
		}
		return &Exec{Path: path}, nil
	default:
		return nil, fmt.Errorf("solver: unknown backend %q", backend)
	}
}
