package opt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrptw/internal/vrp"
)

func TestSavingsOrder(t *testing.T) {
	inst := lineInstance(t, 3, 100)
	got := Savings(inst)
	want := []Saving{
		{Value: 40, I: 2, J: 3},
		{Value: 20, I: 1, J: 2},
		{Value: 20, I: 1, J: 3},
	}
	assert.Equal(t, want, got)
}

func TestSavingsMergesCollinearCustomers(t *testing.T) {
	inst := lineInstance(t, 3, 100)
	sol, err := NewSavingsConstructor(SavingsOptions{}).Construct(context.Background(), inst, 0)
	require.NoError(t, err)
	require.Len(t, sol.Routes, 1)
	assert.Equal(t, []int{1, 2, 3}, sol.Routes[0].Customers())
	assert.Equal(t, 60, sol.Cost())
}

func TestSavingsRespectsCapacity(t *testing.T) {
	// demands 1, 2, 3 with capacity 4: 2+3 and 1+3 overflow, only 1+2 merges
	inst := lineInstance(t, 3, 4)
	sol, err := NewSavingsConstructor(SavingsOptions{}).Construct(context.Background(), inst, 0)
	require.NoError(t, err)
	require.NoError(t, sol.Validate(inst))
	assert.Equal(t, [][]int{{1, 2}, {3}}, sol.Sequences())
	require.NoError(t, sol.CheckFeasible())
}

func TestSavingsTimeWindowGuard(t *testing.T) {
	inst := toyInstance(t)
	wide, err := vrp.NewInstance("toy", 4, 100, inst.Customers())
	require.NoError(t, err)

	guarded, err := NewSavingsConstructor(SavingsOptions{TimeWindows: true}).Construct(context.Background(), wide, 0)
	require.NoError(t, err)
	require.NoError(t, guarded.Validate(wide))
	require.NoError(t, guarded.CheckFeasible())

	unguarded, err := NewSavingsConstructor(SavingsOptions{}).Construct(context.Background(), wide, 0)
	require.NoError(t, err)
	require.NoError(t, unguarded.Validate(wide))
	assert.Less(t, len(unguarded.Routes), len(guarded.Routes))
}

func TestReduceRoutes(t *testing.T) {
	inst := lineInstance(t, 4, 100)
	sol := vrp.NewSolution(vrp.NewRoute(inst, 1), vrp.NewRoute(inst, 2), vrp.NewRoute(inst, 3, 4))

	got, err := ReduceRoutes(inst, sol, 1, false)
	require.NoError(t, err)
	require.NoError(t, got.Validate(inst))
	assert.Equal(t, [][]int{{3, 4, 2, 1}}, got.Sequences())
	assert.Len(t, sol.Routes, 3, "input must not change")

	tight := lineInstance(t, 4, 5)
	split := vrp.NewSolution(vrp.NewRoute(tight, 1, 4), vrp.NewRoute(tight, 2, 3))
	_, err = ReduceRoutes(tight, split, 1, false)
	assert.ErrorIs(t, err, ErrRouteReductionFailed)
}

func TestSavingsReductionFailureKeepsRoutes(t *testing.T) {
	inst := lineInstance(t, 4, 5)
	sol, err := NewSavingsConstructor(SavingsOptions{Reduce: true}).Construct(context.Background(), inst, 1)
	assert.ErrorIs(t, err, ErrRouteReductionFailed)
	require.NotNil(t, sol)
	require.NoError(t, sol.Validate(inst))
	require.NoError(t, sol.CheckFeasible())
}
