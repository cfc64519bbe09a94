package vrp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolutionValidate(t *testing.T) {
	inst := lineInstance(t, 4)
	ok := NewSolution(NewRoute(inst, 1, 2), NewRoute(inst, 4, 3))
	require.NoError(t, ok.Validate(inst))
	assert.Equal(t, 2, ok.NonEmpty())

	missing := NewSolution(NewRoute(inst, 1, 2), NewRoute(inst, 3))
	assert.ErrorIs(t, missing.Validate(inst), ErrPartition)

	dup := NewSolution(NewRoute(inst, 1, 2), NewRoute(inst, 3, 4, 1))
	assert.ErrorIs(t, dup.Validate(inst), ErrPartition)

	depot := NewSolution(NewRoute(inst, 0, 1, 2, 3, 4))
	assert.ErrorIs(t, depot.Validate(inst), ErrPartition)
}

func TestSolutionCloneAndFeasibility(t *testing.T) {
	inst := lineInstance(t, 4)
	s := NewSolution(NewRoute(inst, 1, 2, 3, 4))
	require.NoError(t, s.CheckFeasible())
	c := s.Clone()
	c.Routes[0].Remove(4)
	assert.Equal(t, 4, s.Routes[0].Len())
	assert.Equal(t, s.Cost(), ComputeCost(inst, []int{1, 2, 3, 4}))

	small, err := NewInstance("cap", 1, 3, inst.Customers())
	require.NoError(t, err)
	over := NewSolution(NewRoute(small, 1, 2, 3))
	assert.ErrorIs(t, over.CheckFeasible(), ErrInfeasible)
	assert.False(t, over.Feasible())
}

func TestInstanceVehicleBounds(t *testing.T) {
	inst := lineInstance(t, 4) // demand 1+2+3+4 = 10, capacity 100
	assert.Equal(t, 1, inst.MinVehicles())
	assert.Equal(t, 4, inst.MaxVehicles())

	_, err := NewInstance("bad", 1, 10, []Customer{{ID: 0}, {ID: 2}})
	assert.ErrorIs(t, err, ErrInvalidInstance)
}
