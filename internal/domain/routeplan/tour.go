package routeplan

import (
	"context"
	"math"
	"time"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// TourLeg is one hop of an optimized tour: the full route plan to reach the
// next stop, plus the stop symbol itself for convenience.
type TourLeg struct {
	Stop string
	Plan *Plan
}

// Tour is the result of OptimizeTour: an ordering of stops and the
// concatenated plan to visit them in that order, starting from the ship's
// current position.
type Tour struct {
	Legs             []TourLeg
	TotalTimeSeconds int
	TotalFuelCost    int
}

// defaultTourTimeout bounds the tour-optimization search so a degenerate instance cannot stall a container;
// single-ship tours must resolve in low seconds even for a few dozen stops.
const defaultTourTimeout = 5 * time.Second

// OptimizeTour orders `stops` to minimize total travel time starting from
// start, refueling along the way as FindOptimalPath determines necessary,
// and returns the concatenated per-leg plan. Stops are visited in the order
// chosen; this is a heuristic TSP (nearest-neighbour plus 2-opt improvement)
// bounded by ctx's deadline or defaultTourTimeout, whichever is tighter -
// it is not guaranteed optimal for large stop counts, only feasible and fast.
func OptimizeTour(
	ctx context.Context,
	waypoints map[string]*shared.Waypoint,
	start string,
	stops []string,
	currentFuel, fuelCapacity, engineSpeed int,
	preferCruise bool,
) (*Tour, error) {
	if len(stops) == 0 {
		return &Tour{}, nil
	}

	deadline := time.Now().Add(defaultTourTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	order := nearestNeighbourOrder(waypoints, start, stops)
	order = twoOptImprove(waypoints, start, order, deadline)

	return buildTour(waypoints, start, order, currentFuel, fuelCapacity, engineSpeed, preferCruise)
}

// nearestNeighbourOrder builds an initial visiting order by always moving to
// the closest unvisited stop, by straight-line distance. This is the
// standard cheap starting tour for 2-opt refinement.
func nearestNeighbourOrder(waypoints map[string]*shared.Waypoint, start string, stops []string) []string {
	remaining := append([]string(nil), stops...)
	order := make([]string, 0, len(stops))
	current := start

	for len(remaining) > 0 {
		bestIdx := -1
		bestDist := math.MaxFloat64
		currentWp := waypoints[current]
		for i, s := range remaining {
			d := currentWp.DistanceTo(waypoints[s])
			if d < bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		order = append(order, remaining[bestIdx])
		current = remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return order
}

// twoOptImprove repeatedly swaps pairs of edges in the tour when doing so
// shortens total distance, until no improving swap remains or the deadline
// passes. Distance (not time/fuel) is used as the optimization proxy since
// it is cheap to recompute on every candidate swap.
func twoOptImprove(waypoints map[string]*shared.Waypoint, start string, order []string, deadline time.Time) []string {
	full := append([]string{start}, order...)

	tourLength := func(path []string) float64 {
		total := 0.0
		for i := 0; i < len(path)-1; i++ {
			total += waypoints[path[i]].DistanceTo(waypoints[path[i+1]])
		}
		return total
	}

	improved := true
	for improved {
		if time.Now().After(deadline) {
			break
		}
		improved = false
		for i := 1; i < len(full)-1; i++ {
			for j := i + 1; j < len(full); j++ {
				if time.Now().After(deadline) {
					break
				}
				candidate := append([]string(nil), full...)
				reverse(candidate, i, j)
				if tourLength(candidate) < tourLength(full) {
					full = candidate
					improved = true
				}
			}
		}
	}

	return full[1:]
}

func reverse(s []string, i, j int) {
	for i < j {
		s[i], s[j] = s[j], s[i]
		i++
		j--
	}
}

// buildTour concatenates FindOptimalPath results leg by leg along order,
// threading fuel state from one leg's end to the next leg's start.
func buildTour(
	waypoints map[string]*shared.Waypoint,
	start string,
	order []string,
	currentFuel, fuelCapacity, engineSpeed int,
	preferCruise bool,
) (*Tour, error) {
	tour := &Tour{Legs: make([]TourLeg, 0, len(order))}
	at := start
	fuel := currentFuel

	for _, stop := range order {
		plan, err := FindOptimalPath(waypoints, at, stop, fuel, fuelCapacity, engineSpeed, preferCruise)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, nil
		}
		tour.Legs = append(tour.Legs, TourLeg{Stop: stop, Plan: plan})
		tour.TotalTimeSeconds += plan.TotalTimeSeconds
		tour.TotalFuelCost += plan.TotalFuelCost
		fuel = fuelAfterPlan(plan, fuel, fuelCapacity)
		at = stop
	}

	return tour, nil
}

// fuelAfterPlan replays a plan's actions to determine the fuel remaining
// once it completes, so a multi-leg tour can thread fuel state between legs.
func fuelAfterPlan(plan *Plan, startFuel, fuelCapacity int) int {
	fuel := startFuel
	for _, a := range plan.Actions {
		switch a.Kind {
		case ActionTravel:
			fuel -= a.FuelCost
		case ActionRefuel:
			fuel = fuelCapacity
		}
	}
	return fuel
}

// FleetShip describes one ship's planning-relevant state for fleet tour
// partitioning.
type FleetShip struct {
	ShipSymbol   string
	Location     string
	Fuel         int
	FuelCapacity int
	EngineSpeed  int
}

// FleetAssignment is one ship's share of a partitioned fleet tour.
type FleetAssignment struct {
	ShipSymbol string
	Tour       *Tour
}

// defaultFleetTimeout bounds VRP-style fleet partitioning. Substantially
// more time than single-ship tours since the search space is
// combinatorially larger.
const defaultFleetTimeout = 30 * time.Second

// OptimizeFleetTour assigns each stop to exactly one ship, the ship whose
// start location is nearest by straight-line distance, then orders each
// ship's assigned stops with OptimizeTour. The partition is not refined
// afterwards: no stop is moved between ships to shorten any ship's tour or
// the fleet's total travel time. This is a heuristic, not an exact solver.
func OptimizeFleetTour(
	ctx context.Context,
	waypoints map[string]*shared.Waypoint,
	fleet []FleetShip,
	stops []string,
	preferCruise bool,
) ([]FleetAssignment, error) {
	if len(fleet) == 0 {
		return nil, nil
	}
	if len(stops) == 0 {
		result := make([]FleetAssignment, len(fleet))
		for i, s := range fleet {
			result[i] = FleetAssignment{ShipSymbol: s.ShipSymbol, Tour: &Tour{}}
		}
		return result, nil
	}

	deadline := time.Now().Add(defaultFleetTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buckets := make([][]string, len(fleet))
	for _, stop := range stops {
		best := 0
		bestDist := math.MaxFloat64
		for i, s := range fleet {
			d := waypoints[s.Location].DistanceTo(waypoints[stop])
			if d < bestDist {
				bestDist = d
				best = i
			}
		}
		buckets[best] = append(buckets[best], stop)
	}

	result := make([]FleetAssignment, len(fleet))
	for i, s := range fleet {
		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		subCtx, cancel := context.WithDeadline(ctx, deadline)
		tour, err := OptimizeTour(subCtx, waypoints, s.Location, buckets[i], s.Fuel, s.FuelCapacity, s.EngineSpeed, preferCruise)
		cancel()
		if err != nil {
			return nil, err
		}
		result[i] = FleetAssignment{ShipSymbol: s.ShipSymbol, Tour: tour}
	}

	return result, nil
}
