// Command cvrptw runs the optimization pipeline over one instance file and
// prints the routes found.
//
//	cvrptw [flags] <instance_file> [<vehicles>]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/buildinfo"
	"cvrptw/internal/config"
	"cvrptw/internal/instance"
	"cvrptw/internal/obs"
	"cvrptw/internal/opt"
	"cvrptw/internal/pbo"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	p := cfg.Pipeline

	fs := flag.NewFlagSet("cvrptw", flag.ContinueOnError)
	fs.StringVar(&p.Constructor, "constructor", p.Constructor, "initial solution: cluster or savings")
	fs.IntVar(&p.MaxIter, "max-iter", p.MaxIter, "clustering iterations")
	seed := fs.Int64("seed", 0, "clustering seed (0 draws one)")
	fs.BoolVar(&p.TimeWindows, "time-windows", p.TimeWindows, "savings: reject merges that break time windows")
	fs.BoolVar(&p.ReduceRoutes, "reduce-routes", p.ReduceRoutes, "savings: relocate customers down to the vehicle count")
	fs.BoolVar(&p.Improve, "improve", p.Improve, "run 2-opt")
	fs.IntVar(&p.K, "k", p.K, "neighbors kept per customer before refinement")
	fs.BoolVar(&p.Refine, "refine", p.Refine, "refine with the exact solver")
	strategy := fs.String("strategy", string(p.Strategy), "subtour elimination: mtz or induction")
	fs.BoolVar(&p.Dense, "dense", p.Dense, "create variables for forbidden arcs too")
	fs.IntVar(&p.BudgetSeconds, "budget", p.BudgetSeconds, "exact solver time budget in seconds")
	fs.IntVar(&p.Workers, "workers", p.Workers, "parallel route workers (0 = GOMAXPROCS)")
	fs.StringVar(&cfg.Solver.Backend, "solver", cfg.Solver.Backend, "solver backend: gophersat or exec")
	fs.StringVar(&cfg.Solver.Path, "solver-path", cfg.Solver.Path, "OPB solver binary for the exec backend")
	format := fs.String("format", "text", "output format: text or json")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: cvrptw [flags] <instance_file> [<vehicles>]")
	}
	if fs.NArg() == 2 {
		if p.Vehicles, err = strconv.Atoi(fs.Arg(1)); err != nil {
			return fmt.Errorf("vehicles: %w", err)
		}
	}
	if *seed != 0 {
		p.Seed = seed
	}
	p.Strategy = pbo.Strategy(*strategy)
	cfg.Pipeline = p
	if err := obs.SetupLogging(*logLevel, cfg.Log.Format); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inst, err := instance.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	sv, err := cfg.NewSolver()
	if err != nil {
		return err
	}
	pl, err := opt.NewPipeline(p, sv, nil)
	if err != nil {
		return err
	}
	rep, err := pl.Run(ctx, inst)
	if err != nil {
		// print what completed before the failure
		if rep != nil && len(rep.Stages) > 0 {
			_ = writeText(out, rep, buildinfo.Host(ctx))
		}
		return err
	}

	if strings.EqualFold(*format, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return writeText(out, rep, buildinfo.Host(ctx))
}

func writeText(w io.Writer, rep *opt.Report, sys buildinfo.System) error {
	fmt.Fprintf(w, "instance %s on %s\n", rep.Instance, sys)
	prev := -1
	for _, st := range rep.Stages {
		delta := ""
		if prev >= 0 {
			delta = fmt.Sprintf(" (%+d)", st.Cost-prev)
		}
		fmt.Fprintf(w, "%-9s cost %d%s, %d routes, %d ms", st.Stage, st.Cost, delta, st.Routes, st.DurationMS)
		if st.Model != nil {
			fmt.Fprintf(w, ", %d vars, %d constraints, %s", st.Model.Vars, st.Model.Constraints, st.Model.Status)
		}
		fmt.Fprintln(w)
		prev = st.Cost
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for i, r := range rep.Routes {
		parts := make([]string, 0, len(r)+2)
		parts = append(parts, "0")
		for _, c := range r {
			parts = append(parts, strconv.Itoa(c))
		}
		parts = append(parts, "0")
		fmt.Fprintf(w, "Route #%d: %s\n", i+1, strings.Join(parts, " "))
	}
	_, err := fmt.Fprintf(w, "Cost: %d (%d vehicles, feasible=%t)\n", rep.Cost, rep.Vehicles, rep.Feasible)
	return err
}
