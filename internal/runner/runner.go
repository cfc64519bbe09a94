// Package runner executes pipeline runs in the background on a bounded
// pool of workers and reports their progress.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cvrptw/internal/metrics"
	"cvrptw/internal/model"
	"cvrptw/internal/opt"
	"cvrptw/internal/solver"
	"cvrptw/internal/store"
	"cvrptw/internal/webhooks"
)

var (
	ErrQueueFull     = errors.New("run queue is full")
	ErrInvalidConfig = errors.New("invalid run config")
	errInterrupted   = errors.New("interrupted by a restart")
)

// Publisher streams run events to live listeners.
type Publisher interface {
	Publish(evt model.Event)
}

type Runner struct {
	Store    store.Store
	Solver   solver.Solver
	Backend  string
	Webhooks *webhooks.Publisher
	Events   Publisher

	queue   chan string
	workers int
}

// New returns a runner with the given pool size and queue capacity. The
// Webhooks and Events fields are optional.
func New(s store.Store, sv solver.Solver, backend string, workers, queue int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	return &Runner{Store: s, Solver: sv, Backend: backend, queue: make(chan string, queue), workers: workers}
}

// Submit validates cfg, records a queued run and hands it to the pool.
func (r *Runner) Submit(ctx context.Context, instanceID string, cfg opt.Config) (model.Run, error) {
	if err := cfg.Validate(); err != nil {
		return model.Run{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	run, err := r.Store.CreateRun(ctx, instanceID, cfg)
	if err != nil {
		return model.Run{}, err
	}
	select {
	case r.queue <- run.ID:
		log.WithFields(log.Fields{"run": run.ID, "instance": instanceID}).Info("runner: queued")
		return run, nil
	default:
		failed, ferr := r.Store.FinishRun(ctx, run.ID, nil, ErrQueueFull)
		if ferr != nil {
			return run, errors.Join(ErrQueueFull, ferr)
		}
		metrics.Runs.WithLabelValues(failed.Status).Inc()
		return failed, ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled. Runs still in
// the queue stay queued in the store.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-r.queue:
					if err := r.Execute(ctx, id); err != nil {
						log.WithError(err).WithField("run", id).Warn("runner: run failed")
					}
				}
			}
		})
	}
	return g.Wait()
}

// Resume picks up runs left behind by a previous process: queued runs are
// enqueued again and running ones are marked failed.
func (r *Runner) Resume(ctx context.Context) error {
	for _, status := range []string{model.RunRunning, model.RunQueued} {
		cursor := ""
		for {
			runs, next, err := r.Store.ListRuns(ctx, status, cursor, 100)
			if err != nil {
				return fmt.Errorf("runner: resume: %w", err)
			}
			for _, run := range runs {
				if status == model.RunRunning {
					if _, err := r.Store.FinishRun(ctx, run.ID, nil, errInterrupted); err != nil {
						return fmt.Errorf("runner: resume %s: %w", run.ID, err)
					}
					continue
				}
				select {
				case r.queue <- run.ID:
				default:
					log.WithField("run", run.ID).Warn("runner: queue full, run stays queued")
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return nil
}

// Execute runs one queued run to completion and returns the pipeline error.
func (r *Runner) Execute(ctx context.Context, id string) error {
	run, err := r.Store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	inst, _, err := r.Store.GetInstance(ctx, run.InstanceID)
	if err != nil {
		return r.finish(ctx, run, nil, err)
	}
	if err := r.Store.StartRun(ctx, id); err != nil {
		return err
	}
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()
	logger := log.WithFields(log.Fields{"run": id, "instance": inst.Name()})
	logger.Info("runner: started")

	p, err := opt.NewPipeline(run.Config, r.Solver, func(st opt.StageReport) { r.stageDone(ctx, run, st) })
	if err != nil {
		return r.finish(ctx, run, nil, err)
	}
	rep, runErr := p.Run(ctx, inst)
	r.recordSolver(run.Config, rep, runErr)
	if runErr != nil {
		return r.finish(ctx, run, nil, runErr)
	}
	return r.finish(ctx, run, rep, nil)
}

func (r *Runner) stageDone(ctx context.Context, run model.Run, st opt.StageReport) {
	metrics.StageDuration.WithLabelValues(run.Config.Constructor, st.Stage).Observe(float64(st.DurationMS) / 1000)
	metrics.StageCost.WithLabelValues(run.Config.Constructor, st.Stage).Set(float64(st.Cost))
	if st.Model != nil {
		metrics.ModelSize.WithLabelValues("vars").Observe(float64(st.Model.Vars))
		metrics.ModelSize.WithLabelValues("constraints").Observe(float64(st.Model.Constraints))
	}
	if err := r.Store.AddRunStage(context.WithoutCancel(ctx), run.ID, st); err != nil {
		log.WithError(err).WithField("run", run.ID).Warn("runner: record stage")
	}
	r.emit(ctx, model.EventStageCompleted, run.ID, st)
}

// finish records the outcome even when ctx was cancelled mid-run.
func (r *Runner) finish(ctx context.Context, run model.Run, rep *opt.Report, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	final, err := r.Store.FinishRun(ctx, run.ID, rep, runErr)
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("runner: finish %s: %w", run.ID, err))
	}
	metrics.Runs.WithLabelValues(final.Status).Inc()
	logger := log.WithFields(log.Fields{"run": run.ID, "status": final.Status})
	if runErr != nil {
		logger.WithError(runErr).Warn("runner: finished")
		r.emit(ctx, model.EventRunFailed, run.ID, map[string]any{"error": runErr.Error(), "stages": final.Stages})
		return runErr
	}
	logger.WithFields(log.Fields{"cost": rep.Cost, "vehicles": rep.Vehicles}).Info("runner: finished")
	r.emit(ctx, model.EventRunCompleted, run.ID, rep)
	return nil
}

func (r *Runner) emit(ctx context.Context, typ, runID string, data any) {
	evt := model.Event{ID: "evt_" + uuid.New().String(), Type: typ, RunID: runID, TS: time.Now().UTC(), Data: data}
	if r.Events != nil {
		r.Events.Publish(evt)
	}
	if r.Webhooks != nil {
		if _, err := r.Webhooks.Emit(ctx, evt); err != nil {
			log.WithError(err).WithField("run", runID).Warn("runner: webhook emit")
		}
	}
}

// recordSolver counts the exact refinement outcome of a run.
func (r *Runner) recordSolver(cfg opt.Config, rep *opt.Report, runErr error) {
	if !cfg.Refine {
		return
	}
	outcome := ""
	switch {
	case errors.Is(runErr, solver.ErrSolverTimeout):
		outcome = "timeout"
	case errors.Is(runErr, solver.ErrNoFeasibleSolution):
		outcome = "infeasible"
	case rep != nil:
		for _, st := range rep.Stages {
			if st.Stage == opt.StageRefine && st.Model != nil {
				outcome = st.Model.Status
			}
		}
		if outcome == "" && runErr != nil && len(rep.Stages) > 0 && rep.Stages[len(rep.Stages)-1].Stage == opt.StageReduce {
			outcome = "error"
		}
	}
	if outcome != "" {
		metrics.SolverOutcomes.WithLabelValues(r.Backend, outcome).Inc()
	}
}
