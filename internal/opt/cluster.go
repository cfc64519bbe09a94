package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrptw/internal/vrp"
)

// Constructor builds an initial solution for an instance. vehicles <= 0
// selects the instance's minimum vehicle count.
type Constructor interface {
	Construct(ctx context.Context, inst *vrp.Instance, vehicles int) (*vrp.Solution, error)
}

// ClusterOptions tunes the constrained k-means constructor.
type ClusterOptions struct {
	MaxIter   int
	Tolerance float64
	// Seed makes runs reproducible when Seeded is set.
	Seed   int64
	Seeded bool
}

// ClusterConstructor groups customers into routes by iterative constrained
// clustering. Each pass places customers in due-date order into the cheapest
// route that still satisfies capacity and time windows.
type ClusterConstructor struct {
	opts ClusterOptions
}

func NewClusterConstructor(opts ClusterOptions) *ClusterConstructor {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}
	return &ClusterConstructor{opts: opts}
}

// Construct clusters with the requested vehicle count and retries with one
// more vehicle each time the customers do not fit, up to the fleet maximum.
func (c *ClusterConstructor) Construct(ctx context.Context, inst *vrp.Instance, vehicles int) (*vrp.Solution, error) {
	n := vehicles
	if n <= 0 {
		n = inst.MinVehicles()
	}
	limit := inst.MaxVehicles()
	rng := c.rng()
	for start := n; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sol, err := c.Cluster(inst, n, rng)
		if err == nil {
			return sol, nil
		}
		if !errors.Is(err, ErrInfeasibleClusterCount) {
			return nil, err
		}
		log.WithFields(log.Fields{"instance": inst.Name(), "vehicles": n, "start": start}).
			Debug("cluster: retrying with one more vehicle")
	}
	return nil, fmt.Errorf("cluster construct: up to %d vehicles: %w", limit, ErrNoFeasibleVehicleCount)
}

func (c *ClusterConstructor) rng() *rand.Rand {
	seed := time.Now().UnixNano()
	if c.opts.Seeded {
		seed = c.opts.Seed
	}
	return rand.New(rand.NewSource(seed))
}

// Cluster runs one configuration with exactly n routes.
func (c *ClusterConstructor) Cluster(inst *vrp.Instance, n int, rng *rand.Rand) (*vrp.Solution, error) {
	customers := make([]int, 0, inst.Size()-1)
	for i := 1; i < inst.Size(); i++ {
		customers = append(customers, i)
	}
	if n <= 0 || n > len(customers) {
		return nil, fmt.Errorf("cluster: %d routes for %d customers: %w", n, len(customers), ErrInfeasibleClusterCount)
	}

	routes := make([]*vrp.Route, n)
	centroids := make([]vrp.Point, n)
	for i, idx := range rng.Perm(len(customers))[:n] {
		routes[i] = vrp.NewRoute(inst)
		centroids[i] = inst.Customer(customers[idx]).Pos
	}
	sort.SliceStable(customers, func(a, b int) bool {
		return inst.Customer(customers[a]).DueDate < inst.Customer(customers[b]).DueDate
	})

	for it := 0; it < c.opts.MaxIter; it++ {
		for i, r := range routes {
			r.Clear(centroids[i])
		}
		for _, cust := range customers {
			best := c.bestRoute(inst, routes, cust)
			if best < 0 {
				return nil, fmt.Errorf("cluster: customer %d fits none of %d routes: %w", cust, n, ErrInfeasibleClusterCount)
			}
			routes[best].Append(cust)
		}

		moved := false
		for i, r := range routes {
			next := centroidOf(inst, r)
			if r.Empty() {
				next = inst.Customer(customers[rng.Intn(len(customers))]).Pos
			}
			if math.Abs(next.X-centroids[i].X) > c.opts.Tolerance || math.Abs(next.Y-centroids[i].Y) > c.opts.Tolerance {
				moved = true
			}
			centroids[i] = next
			r.SetCentroid(next)
		}
		if !moved {
			break
		}
	}
	return vrp.NewSolution(routes...), nil
}

// bestRoute returns the index of the cheapest admissible route for cust, or -1.
// Ties keep the earliest route.
func (c *ClusterConstructor) bestRoute(inst *vrp.Instance, routes []*vrp.Route, cust int) int {
	cc := inst.Customer(cust)
	depotDue := inst.Depot().DueDate
	best, bestCost := -1, math.Inf(1)
	for i, r := range routes {
		if r.Demand()+cc.Demand > inst.Capacity() {
			continue
		}
		var cost float64
		if r.Empty() {
			p, _ := r.Centroid()
			cost = p.Euclid(cc.Pos)
		} else {
			dep := r.Departure()
			if dep == vrp.InfTime {
				continue
			}
			leg := inst.Dist(r.Last(), cust)
			arrival := dep + leg
			if arrival > cc.DueDate {
				continue
			}
			if max(arrival, cc.ReadyTime)+cc.ServiceTime+inst.Dist(cust, 0) > depotDue {
				continue
			}
			cost = float64(leg)
		}
		if cost < bestCost {
			best, bestCost = i, cost
		}
	}
	return best
}

func centroidOf(inst *vrp.Instance, r *vrp.Route) vrp.Point {
	var p vrp.Point
	if r.Empty() {
		return p
	}
	for i := 0; i < r.Len(); i++ {
		q := inst.Customer(r.At(i)).Pos
		p.X += q.X
		p.Y += q.Y
	}
	p.X /= float64(r.Len())
	p.Y /= float64(r.Len())
	return p
}
