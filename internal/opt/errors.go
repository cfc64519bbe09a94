package opt

import "errors"

var (
	// ErrInfeasibleClusterCount means clustering could not place every
	// customer with the current number of routes.
	ErrInfeasibleClusterCount = errors.New("customers do not fit the cluster count")
	// ErrNoFeasibleVehicleCount means every vehicle count up to the fleet
	// maximum failed to cluster.
	ErrNoFeasibleVehicleCount = errors.New("no feasible vehicle count")
	// ErrRouteReductionFailed means the savings post-pass could not relocate
	// the customers of any route; the pre-reduction routes remain valid.
	ErrRouteReductionFailed = errors.New("route reduction failed")
	// ErrInsufficientNeighbors means fewer than k distinct candidates exist.
	ErrInsufficientNeighbors = errors.New("insufficient neighbors")
)
