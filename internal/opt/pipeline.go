package opt

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"cvrptw/internal/obs"
	"cvrptw/internal/pbo"
	"cvrptw/internal/solver"
	"cvrptw/internal/vrp"
)

// Constructor names.
const (
	ConstructorCluster = "cluster"
	ConstructorSavings = "savings"
)

// Stage names.
const (
	StageConstruct = "construct"
	StageImprove   = "improve"
	StageReduce    = "reduce"
	StageRefine    = "refine"
)

// Config selects and tunes the pipeline stages.
type Config struct {
	Constructor string `json:"constructor" yaml:"constructor"`
	// Vehicles is the starting vehicle count; 0 uses the instance minimum.
	Vehicles int    `json:"vehicles,omitempty" yaml:"vehicles"`
	MaxIter  int    `json:"maxIter,omitempty" yaml:"max_iter"`
	Seed     *int64 `json:"seed,omitempty" yaml:"seed"`
	// TimeWindows and ReduceRoutes apply to the savings constructor.
	TimeWindows   bool         `json:"timeWindows,omitempty" yaml:"time_windows"`
	ReduceRoutes  bool         `json:"reduceRoutes,omitempty" yaml:"reduce_routes"`
	Improve       bool         `json:"improve" yaml:"improve"`
	K             int          `json:"k" yaml:"k"`
	Refine        bool         `json:"refine" yaml:"refine"`
	Strategy      pbo.Strategy `json:"strategy" yaml:"strategy"`
	Dense         bool         `json:"dense,omitempty" yaml:"dense"`
	BudgetSeconds int          `json:"budgetSeconds" yaml:"budget_seconds"`
	Workers       int          `json:"workers,omitempty" yaml:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Constructor:   ConstructorCluster,
		MaxIter:       100,
		Improve:       true,
		K:             5,
		Refine:        true,
		Strategy:      pbo.MTZ,
		BudgetSeconds: 100,
	}
}

func (c Config) Budget() time.Duration { return time.Duration(c.BudgetSeconds) * time.Second }

func (c Config) Validate() error {
	switch c.Constructor {
	case ConstructorCluster, ConstructorSavings:
	default:
		return fmt.Errorf("constructor %q: want %s or %s", c.Constructor, ConstructorCluster, ConstructorSavings)
	}
	if c.Vehicles < 0 || c.MaxIter < 0 || c.Workers < 0 {
		return errors.New("vehicles, maxIter and workers must not be negative")
	}
	if !c.Refine {
		return nil
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("strategy %q: want %s or %s", c.Strategy, pbo.MTZ, pbo.Induction)
	}
	if c.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", c.K)
	}
	if c.BudgetSeconds <= 0 {
		return fmt.Errorf("budgetSeconds must be positive, got %d", c.BudgetSeconds)
	}
	return nil
}

// StageReport summarises the solution a stage handed on.
type StageReport struct {
	Stage      string      `json:"stage"`
	Cost       int         `json:"cost"`
	Routes     int         `json:"routes"`
	Feasible   bool        `json:"feasible"`
	DurationMS int64       `json:"durationMs"`
	Arcs       int         `json:"arcs,omitempty"`
	Model      *ModelStats `json:"model,omitempty"`
	Warning    string      `json:"warning,omitempty"`
}

// Report is the outcome of one pipeline run.
type Report struct {
	Instance    string        `json:"instance"`
	Constructor string        `json:"constructor"`
	Stages      []StageReport `json:"stages"`
	Warnings    []string      `json:"warnings,omitempty"`
	Cost        int           `json:"cost"`
	Vehicles    int           `json:"vehicles"`
	Feasible    bool          `json:"feasible"`
	Routes      [][]int       `json:"routes"`
	Solution    *vrp.Solution `json:"-"`
}

// Observer is called after every completed stage.
type Observer func(StageReport)

// Pipeline chains construct, improve, reduce and refine. Every stage works
// on its own copy of the solution.
type Pipeline struct {
	cfg      Config
	solver   solver.Solver
	observer Observer
}

// NewPipeline validates cfg. s may be nil when refinement is disabled.
func NewPipeline(cfg Config, s solver.Solver, observer Observer) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Refine && s == nil {
		return nil, errors.New("pipeline: refine needs a solver")
	}
	return &Pipeline{cfg: cfg, solver: s, observer: observer}, nil
}

func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) constructor() Constructor {
	if p.cfg.Constructor == ConstructorSavings {
		return NewSavingsConstructor(SavingsOptions{TimeWindows: p.cfg.TimeWindows, Reduce: p.cfg.ReduceRoutes})
	}
	opts := ClusterOptions{MaxIter: p.cfg.MaxIter}
	if p.cfg.Seed != nil {
		opts.Seed, opts.Seeded = *p.cfg.Seed, true
	}
	return NewClusterConstructor(opts)
}

// Run executes the enabled stages. On failure the report holds the stages
// that completed.
func (p *Pipeline) Run(ctx context.Context, inst *vrp.Instance) (rep *Report, err error) {
	ctx, done := obs.Start(ctx, "opt.pipeline", attribute.String("instance", inst.Name()))
	defer func() { done(&err) }()

	rep = &Report{Instance: inst.Name(), Constructor: p.cfg.Constructor}
	sol, err := p.stage(ctx, inst, rep, StageConstruct, func(ctx context.Context, st *StageReport) (*vrp.Solution, error) {
		sol, err := p.constructor().Construct(ctx, inst, p.cfg.Vehicles)
		if errors.Is(err, ErrRouteReductionFailed) && sol != nil {
			st.Warning = err.Error()
			return sol, nil
		}
		return sol, err
	})
	if err != nil {
		return rep, err
	}

	if p.cfg.Improve {
		sol, err = p.stage(ctx, inst, rep, StageImprove, func(ctx context.Context, _ *StageReport) (*vrp.Solution, error) {
			return TwoOpt{Workers: p.cfg.Workers}.Improve(ctx, sol)
		})
		if err != nil {
			return rep, err
		}
	}

	if p.cfg.Refine {
		var matrices []*vrp.ArcMatrix
		if _, err = p.stage(ctx, inst, rep, StageReduce, func(ctx context.Context, st *StageReport) (*vrp.Solution, error) {
			ms, err := Reducer{K: p.cfg.K, Workers: p.cfg.Workers}.Reduce(ctx, inst, sol)
			if err != nil {
				return nil, err
			}
			for _, m := range ms {
				st.Arcs += m.Arcs()
			}
			matrices = ms
			return sol, nil
		}); err != nil {
			return rep, err
		}

		prev := sol
		sol, err = p.stage(ctx, inst, rep, StageRefine, func(ctx context.Context, st *StageReport) (*vrp.Solution, error) {
			r := &Refiner{Solver: p.solver, Budget: p.cfg.Budget(), Encode: pbo.EncodeOptions{Strategy: p.cfg.Strategy, Dense: p.cfg.Dense}}
			refined, stats, err := r.Refine(ctx, inst, matrices)
			st.Model = &stats
			if err != nil {
				return nil, err
			}
			if refined.Cost() > prev.Cost() {
				st.Warning = fmt.Sprintf("refined cost %d exceeds %d; kept the previous routes", refined.Cost(), prev.Cost())
				return prev, nil
			}
			return refined, nil
		})
		if err != nil {
			return rep, err
		}
	}

	rep.Solution = sol
	rep.Cost = sol.Cost()
	rep.Vehicles = sol.NonEmpty()
	rep.Feasible = sol.Feasible()
	for _, r := range sol.Routes {
		if !r.Empty() {
			rep.Routes = append(rep.Routes, r.Customers())
		}
	}
	log.WithFields(log.Fields{"instance": rep.Instance, "cost": rep.Cost, "vehicles": rep.Vehicles, "feasible": rep.Feasible}).
		Info("pipeline: done")
	return rep, nil
}

// stage times run, checks the partition invariant and records the report.
func (p *Pipeline) stage(ctx context.Context, inst *vrp.Instance, rep *Report, name string, run func(context.Context, *StageReport) (*vrp.Solution, error)) (sol *vrp.Solution, err error) {
	ctx, done := obs.Start(ctx, "opt."+name, attribute.String("instance", rep.Instance))
	defer func() { done(&err) }()

	st := StageReport{Stage: name}
	started := time.Now()
	sol, err = run(ctx, &st)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := sol.Validate(inst); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	st.DurationMS = time.Since(started).Milliseconds()
	st.Cost = sol.Cost()
	st.Routes = sol.NonEmpty()
	st.Feasible = sol.Feasible()
	if st.Warning != "" {
		rep.Warnings = append(rep.Warnings, name+": "+st.Warning)
	}
	rep.Stages = append(rep.Stages, st)
	RecordStage(rep.Instance, rep.Constructor, st)
	if p.observer != nil {
		p.observer(st)
	}
	return sol, nil
}
