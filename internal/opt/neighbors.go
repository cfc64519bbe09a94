package opt

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/yourbasic/bit"
	"golang.org/x/sync/errgroup"

	"cvrptw/internal/vrp"
)

// NeighborGraph holds exactly k candidate neighbours for every node,
// depot included. It is read-only once built.
type NeighborGraph struct {
	k     int
	lists [][]int
}

func (g *NeighborGraph) K() int { return g.k }

// Neighbors returns the candidates of node c, MST neighbours first.
func (g *NeighborGraph) Neighbors(c int) []int {
	return append([]int(nil), g.lists[c]...)
}

// BuildNeighborGraph unions each node's minimum spanning tree adjacency,
// ordered by edge weight, with its nearest nodes, and keeps the first k.
func BuildNeighborGraph(inst *vrp.Instance, k int) (*NeighborGraph, error) {
	n := inst.Size()
	if k <= 0 || k >= n {
		return nil, fmt.Errorf("neighbor graph: k=%d with %d nodes: %w", k, n, ErrInsufficientNeighbors)
	}
	tree := SpanningTree(inst)
	g := &NeighborGraph{k: k, lists: make([][]int, n)}
	for c := 0; c < n; c++ {
		seen := new(bit.Set)
		list := make([]int, 0, k)
		for _, v := range tree[c] {
			if len(list) == k {
				break
			}
			list = append(list, v)
			seen.Add(v)
		}
		for _, v := range Nearest(inst, c) {
			if len(list) == k {
				break
			}
			if !seen.Contains(v) {
				list = append(list, v)
				seen.Add(v)
			}
		}
		if len(list) < k {
			return nil, fmt.Errorf("neighbor graph: node %d has %d of %d candidates: %w", c, len(list), k, ErrInsufficientNeighbors)
		}
		g.lists[c] = list
	}
	return g, nil
}

// SpanningTree returns the adjacency of a minimum spanning tree over the
// complete distance graph, each list sorted by edge weight then node id.
// Prim's algorithm on the dense matrix; ties pick the lowest node id.
func SpanningTree(inst *vrp.Instance) [][]int {
	n := inst.Size()
	adj := make([][]int, n)
	inTree := make([]bool, n)
	best := make([]int, n)
	parent := make([]int, n)
	for i := range best {
		best[i] = math.MaxInt
		parent[i] = -1
	}
	best[0] = 0
	for step := 0; step < n; step++ {
		u := -1
		for v := 0; v < n; v++ {
			if !inTree[v] && (u < 0 || best[v] < best[u]) {
				u = v
			}
		}
		inTree[u] = true
		if p := parent[u]; p >= 0 {
			adj[u] = append(adj[u], p)
			adj[p] = append(adj[p], u)
		}
		for v := 0; v < n; v++ {
			if !inTree[v] && inst.Dist(u, v) < best[v] {
				best[v] = inst.Dist(u, v)
				parent[v] = u
			}
		}
	}
	for u := range adj {
		sortByDistance(inst, u, adj[u])
	}
	return adj
}

// Nearest returns every other node ordered by distance from c, then id.
func Nearest(inst *vrp.Instance, c int) []int {
	out := make([]int, 0, inst.Size()-1)
	for v := 0; v < inst.Size(); v++ {
		if v != c {
			out = append(out, v)
		}
	}
	sortByDistance(inst, c, out)
	return out
}

func sortByDistance(inst *vrp.Instance, from int, nodes []int) {
	sort.Slice(nodes, func(a, b int) bool {
		da, db := inst.Dist(from, nodes[a]), inst.Dist(from, nodes[b])
		if da != db {
			return da < db
		}
		return nodes[a] < nodes[b]
	})
}

// Reducer prunes the arc universe of every route before exact refinement.
type Reducer struct {
	K       int
	Workers int
}

// Reduce builds one shared neighbor graph and then one pruned matrix per route.
func (r Reducer) Reduce(ctx context.Context, inst *vrp.Instance, sol *vrp.Solution) ([]*vrp.ArcMatrix, error) {
	g, err := BuildNeighborGraph(inst, r.K)
	if err != nil {
		return nil, err
	}
	out := make([]*vrp.ArcMatrix, len(sol.Routes))
	eg, ectx := errgroup.WithContext(ctx)
	if r.Workers > 0 {
		eg.SetLimit(r.Workers)
	}
	for i, route := range sol.Routes {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			out[i] = RouteMatrix(inst, route, g)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	return out, nil
}

// RouteMatrix opens the depot arcs at the route's endpoints, the route's own
// consecutive arcs and every arc from a member to its neighbor candidates.
// An empty route yields a matrix with only the zero diagonal.
func RouteMatrix(inst *vrp.Instance, route *vrp.Route, g *NeighborGraph) *vrp.ArcMatrix {
	m := vrp.NewArcMatrix(inst.Size())
	if route.Empty() {
		return m
	}
	first, last := route.First(), route.Last()
	m.Permit(0, first, inst.Dist(0, first))
	m.Permit(0, last, inst.Dist(0, last))
	for i := 0; i+1 < route.Len(); i++ {
		a, b := route.At(i), route.At(i+1)
		m.Permit(a, b, inst.Dist(a, b))
	}
	for i := 0; i < route.Len(); i++ {
		c := route.At(i)
		for _, nb := range g.lists[c] {
			m.Permit(c, nb, inst.Dist(c, nb))
		}
	}
	return m
}
