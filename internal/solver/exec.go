package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/pbo"
)

// Exec runs an external OPB solver on a temporary model file.
type Exec struct {
	Path string
	// Args are passed before the time limit flag and the model path.
	Args []string
	// TimeFlag formats the budget in whole seconds; default "--time-limit=%d".
	TimeFlag string
	// Dir holds the temporary model files; empty means os.TempDir.
	Dir string
	// Grace is how long the process may overrun its own limit before it is killed.
	Grace time.Duration
}

func (e *Exec) Solve(ctx context.Context, m *pbo.Model, budget time.Duration) (*Result, error) {
	if m.Contradiction() {
		return nil, fmt.Errorf("exec solver: %w", ErrNoFeasibleSolution)
	}
	f, err := os.CreateTemp(e.Dir, "cvrptw-*.opb")
	if err != nil {
		return nil, fmt.Errorf("exec solver: %w", err)
	}
	defer os.Remove(f.Name())
	if err := m.WriteOPB(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("exec solver: write model: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("exec solver: %w", err)
	}

	flag := e.TimeFlag
	if flag == "" {
		flag = "--time-limit=%d"
	}
	grace := e.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	secs := max(int(budget/time.Second), 1)
	args := append(append([]string(nil), e.Args...), fmt.Sprintf(flag, secs), f.Name())

	cctx, cancel := context.WithTimeout(ctx, budget+grace)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, e.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = grace
	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	out, perr := pbo.ParseOutput(&stdout)
	if perr != nil {
		return nil, fmt.Errorf("exec solver: %w", perr)
	}
	killed := cctx.Err() != nil
	var exitErr *exec.ExitError
	if runErr != nil && !killed && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("exec solver: %w", runErr)
	}
	fields := log.Fields{"solver": e.Path, "status": out.Status, "elapsed": elapsed, "vars": m.NumVars(), "constraints": m.NumConstraints()}
	if runErr != nil {
		fields["exit"] = runErr.Error()
	}
	log.WithFields(fields).Debug("exec solver: finished")

	switch {
	case out.Status == pbo.StatusUnsatisfiable:
		return nil, fmt.Errorf("exec solver: %w", ErrNoFeasibleSolution)
	case len(out.Values) > 0:
		status := out.Status
		if status == pbo.StatusUnknown {
			status = pbo.StatusSatisfiable
		}
		res := &Result{Status: status, TrueVars: out.TrueVars(), Elapsed: elapsed}
		res.Objective = m.Cost(res.TrueVars)
		return res, nil
	case killed:
		return nil, fmt.Errorf("exec solver: after %s: %w", elapsed.Round(time.Millisecond), ErrSolverTimeout)
	case out.Status == pbo.StatusUnknown:
		// clasp reports UNKNOWN when its own time limit expires first
		log.WithField("stderr", stderr.String()).Debug("exec solver: no verdict")
		return nil, fmt.Errorf("exec solver: status unknown after %s: %w", elapsed.Round(time.Millisecond), ErrSolverTimeout)
	default:
		return nil, fmt.Errorf("exec solver: status %s without an assignment", out.Status)
	}
}
