// Package vrp holds the CVRPTW data model shared by every optimization stage:
// customers, the distance matrix, routes with cached aggregates and solutions.
package vrp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInstance is returned when instance data violates the model rules.
var ErrInvalidInstance = errors.New("invalid instance")

// Point is a position on the plane.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Euclid returns the straight-line distance between p and q.
func (p Point) Euclid(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Customer is a stop with demand and a hard time window. ID 0 is the depot.
type Customer struct {
	ID          int   `json:"id"`
	Pos         Point `json:"pos"`
	Demand      int   `json:"demand"`
	ReadyTime   int   `json:"readyTime"`
	DueDate     int   `json:"dueDate"`
	ServiceTime int   `json:"serviceTime"`
}

// Instance is an immutable CVRPTW problem.
type Instance struct {
	name      string
	vehicles  int
	capacity  int
	customers []Customer
	dist      *DistanceMatrix
}

// NewInstance validates the data and builds the distance matrix once.
// customers[0] must be the depot and customers[i].ID must equal i.
func NewInstance(name string, vehicles, capacity int, customers []Customer) (*Instance, error) {
	if vehicles <= 0 {
		return nil, fmt.Errorf("%w: vehicle count %d must be positive", ErrInvalidInstance, vehicles)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d must be positive", ErrInvalidInstance, capacity)
	}
	if len(customers) < 2 {
		return nil, fmt.Errorf("%w: need a depot and at least one customer", ErrInvalidInstance)
	}
	for i, c := range customers {
		if c.ID != i {
			return nil, fmt.Errorf("%w: row %d has id %d", ErrInvalidInstance, i, c.ID)
		}
		if c.Demand < 0 || c.ServiceTime < 0 {
			return nil, fmt.Errorf("%w: customer %d has negative demand or service time", ErrInvalidInstance, i)
		}
		if c.ReadyTime > c.DueDate {
			return nil, fmt.Errorf("%w: customer %d window [%d,%d] is empty", ErrInvalidInstance, i, c.ReadyTime, c.DueDate)
		}
	}
	if customers[0].Demand != 0 {
		return nil, fmt.Errorf("%w: depot demand must be 0", ErrInvalidInstance)
	}
	cs := append([]Customer(nil), customers...)
	pos := make([]Point, len(cs))
	for i, c := range cs {
		pos[i] = c.Pos
	}
	return &Instance{
		name:      name,
		vehicles:  vehicles,
		capacity:  capacity,
		customers: cs,
		dist:      NewDistanceMatrix(pos),
	}, nil
}

func (in *Instance) Name() string { return in.name }
func (in *Instance) Vehicles() int { return in.vehicles }
func (in *Instance) Capacity() int { return in.capacity }
func (in *Instance) Depot() Customer { return in.customers[0] }
func (in *Instance) Size() int { return len(in.customers) }
func (in *Instance) Customer(i int) Customer { return in.customers[i] }

// Customers returns a copy of all rows, depot included.
func (in *Instance) Customers() []Customer {
	return append([]Customer(nil), in.customers...)
}

// Dist is the canonical integer distance used by every stage.
func (in *Instance) Dist(i, j int) int { return in.dist.At(i, j) }

// Matrix exposes the shared distance matrix.
func (in *Instance) Matrix() *DistanceMatrix { return in.dist }

// TotalDemand sums the demand of all customers.
func (in *Instance) TotalDemand() int {
	total := 0
	for _, c := range in.customers {
		total += c.Demand
	}
	return total
}

// MinVehicles is ceil(total demand / capacity), at least one.
func (in *Instance) MinVehicles() int {
	n := (in.TotalDemand() + in.capacity - 1) / in.capacity
	if n < 1 {
		n = 1
	}
	return n
}

// MaxVehicles caps the fleet size at the number of non-depot customers.
func (in *Instance) MaxVehicles() int {
	if n := len(in.customers) - 1; n < in.vehicles {
		return n
	}
	return in.vehicles
}

// DistanceMatrix stores Euclidean distances and their rounded integer form.
// Both views come from the same positions so stages cannot drift apart.
type DistanceMatrix struct {
	n       int
	raw     []float64
	rounded []int
}

// NewDistanceMatrix computes all pairwise distances between positions.
func NewDistanceMatrix(pos []Point) *DistanceMatrix {
	n := len(pos)
	m := &DistanceMatrix{n: n, raw: make([]float64, n*n), rounded: make([]int, n*n)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := pos[i].Euclid(pos[j])
			r := int(math.RoundToEven(d))
			m.raw[i*n+j], m.raw[j*n+i] = d, d
			m.rounded[i*n+j], m.rounded[j*n+i] = r, r
		}
	}
	return m
}

func (m *DistanceMatrix) Size() int { return m.n }

// At returns the rounded distance between i and j.
func (m *DistanceMatrix) At(i, j int) int { return m.rounded[i*m.n+j] }

// Raw returns the unrounded Euclidean distance between i and j.
func (m *DistanceMatrix) Raw(i, j int) float64 { return m.raw[i*m.n+j] }
