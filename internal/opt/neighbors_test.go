package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/vrp"
)

func TestSpanningTreeOnLine(t *testing.T) {
	inst := lineInstance(t, 4, 100)
	tree := SpanningTree(inst)
	assert.Equal(t, [][]int{{1}, {0, 2}, {1, 3}, {2, 4}, {3}}, tree)
}

func TestSpanningTreeEdgeCount(t *testing.T) {
	inst := scatterInstance(t, 5, 40)
	edges := 0
	for _, adj := range SpanningTree(inst) {
		edges += len(adj)
	}
	assert.Equal(t, 2*(inst.Size()-1), edges)
}

func TestNeighborGraphExactlyK(t *testing.T) {
	inst := scatterInstance(t, 9, 20)
	for _, k := range []int{1, 3, 5, inst.Size() - 1} {
		g, err := BuildNeighborGraph(inst, k)
		require.NoError(t, err)
		assert.Equal(t, k, g.K())
		for c := 0; c < inst.Size(); c++ {
			nb := g.Neighbors(c)
			require.Len(t, nb, k, "node %d k=%d", c, k)
			seen := map[int]bool{}
			for _, v := range nb {
				assert.NotEqual(t, c, v)
				assert.False(t, seen[v], "duplicate %d", v)
				seen[v] = true
			}
		}
	}
}

func TestNeighborGraphMSTFirst(t *testing.T) {
	inst := lineInstance(t, 4, 100)
	g, err := BuildNeighborGraph(inst, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, g.Neighbors(2))
	assert.Equal(t, []int{1, 2}, g.Neighbors(0))
	assert.Equal(t, []int{3, 2}, g.Neighbors(4))
}

func TestNeighborGraphInsufficient(t *testing.T) {
	inst := lineInstance(t, 4, 100)
	for _, k := range []int{0, -1, inst.Size(), inst.Size() + 3} {
		_, err := BuildNeighborGraph(inst, k)
		assert.ErrorIs(t, err, ErrInsufficientNeighbors, "k=%d", k)
	}
}

func TestRouteMatrix(t *testing.T) {
	inst := lineInstance(t, 6, 100)
	g, err := BuildNeighborGraph(inst, 1)
	require.NoError(t, err)

	m := RouteMatrix(inst, vrp.NewRoute(inst, 2, 5, 3), g)
	for _, arc := range [][2]int{{0, 2}, {3, 0}, {2, 5}, {5, 3}, {2, 1}, {5, 4}, {3, 2}} {
		assert.True(t, m.Permitted(arc[0], arc[1]), "arc %v", arc)
		assert.Equal(t, inst.Dist(arc[0], arc[1]), m.At(arc[0], arc[1]))
	}
	assert.False(t, m.Permitted(0, 5))
	assert.False(t, m.Permitted(6, 1))
	assert.Equal(t, vrp.Forbidden, m.At(1, 6))
	for i := 0; i < inst.Size(); i++ {
		assert.Equal(t, 0, m.At(i, i))
	}

	empty := RouteMatrix(inst, vrp.NewRoute(inst), g)
	assert.Equal(t, 0, empty.Arcs())
	assert.False(t, empty.DepotLinked())
}

func TestReducerOneMatrixPerRoute(t *testing.T) {
	inst := lineInstance(t, 6, 100)
	sol := vrp.NewSolution(vrp.NewRoute(inst, 1, 2, 3), vrp.NewRoute(inst, 4, 5, 6), vrp.NewRoute(inst))
	ms, err := Reducer{K: 2, Workers: 2}.Reduce(context.Background(), inst, sol)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.True(t, ms[0].Permitted(3, 4), "neighbor arc across routes")
	assert.True(t, ms[1].Permitted(0, 6))
	assert.False(t, ms[2].DepotLinked())

	_, err = Reducer{K: 7}.Reduce(context.Background(), inst, sol)
	assert.ErrorIs(t, err, ErrInsufficientNeighbors)
}
