// Package routeplan implements the fuel-aware route planner (RP): a pure,
// in-process shortest-path and tour-optimization algorithm over a waypoint
// dictionary. It has no network or storage dependency - every operation is a
// deterministic function of its inputs. The search runs over the full
// waypoint graph: every non-orbital pair is a candidate edge, not just fuel
// stations.
package routeplan

import (
	"fmt"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// DefaultSafetyMargin is the minimum fuel that must remain after a leg for a
// flight mode to be considered usable.
const DefaultSafetyMargin = 4

// OpportunisticRefuelThreshold is the fraction of fuel capacity below which
// arriving at a fuel-capable waypoint triggers an opportunistic refuel.
const OpportunisticRefuelThreshold = 0.9

// ActionKind distinguishes the two action types a Plan is built from.
type ActionKind int

const (
	ActionTravel ActionKind = iota
	ActionRefuel
)

// Action is one step of a Plan: either a TRAVEL leg or a REFUEL stop.
type Action struct {
	Kind        ActionKind
	At          string // waypoint symbol the action occurs at (TRAVEL: destination)
	Distance    float64
	Mode        shared.FlightMode
	FuelCost    int
	FuelGained  int
	TimeSeconds int
}

// Plan is the planner's output: an ordered action list plus totals. A Plan
// with zero actions represents "already at destination" (S1), not failure.
type Plan struct {
	Actions          []Action
	TotalFuelCost    int
	TotalTimeSeconds int
	TotalDistance    float64
}

// refuelTimeSeconds is the fixed time cost of a REFUEL action. Kept small
// relative to travel times so a refuel detour is never priced out against a
// drift leg an order of magnitude slower.
const refuelTimeSeconds = 5

// FindOptimalPath computes the fastest feasible path from start to goal
// given the ship's current fuel, capacity, and engine speed. Returns a nil
// Plan (no error) when no feasible route exists - an ordinary outcome for
// callers to branch on, not an exceptional condition.
func FindOptimalPath(
	waypoints map[string]*shared.Waypoint,
	start, goal string,
	currentFuel, fuelCapacity, engineSpeed int,
	preferCruise bool,
) (*Plan, error) {
	startWp, ok := waypoints[start]
	if !ok {
		return nil, nil
	}
	goalWp, ok := waypoints[goal]
	if !ok {
		return nil, nil
	}

	if start == goal {
		return &Plan{Actions: []Action{}}, nil
	}

	selector := shared.NewFlightModeSelector(preferCruise)

	states, ok := dijkstra(waypoints, startWp, goalWp, currentFuel, fuelCapacity, engineSpeed, selector)
	if !ok {
		return nil, nil
	}

	actions := buildActions(states, waypoints, currentFuel, fuelCapacity)
	plan := &Plan{Actions: actions}
	for _, a := range actions {
		plan.TotalTimeSeconds += a.TimeSeconds
		if a.Kind == ActionTravel {
			plan.TotalFuelCost += a.FuelCost
			plan.TotalDistance += a.Distance
		}
	}
	return plan, nil
}

// pathState is one node of the reconstructed Dijkstra path: the waypoint
// reached, whether a refuel happened here before continuing, and the leg
// that arrived here (nil for the start node).
type pathState struct {
	symbol       string
	refueledHere bool
	arrivingLeg  *leg
}

type leg struct {
	from, to    string
	distance    float64
	mode        shared.FlightMode
	fuelCost    int
	timeSeconds int
}

// searchNode is a Dijkstra state: (waypoint, fuel-on-arrival). Two routes
// reaching the same waypoint with different remaining fuel are genuinely
// different states, since the feasible onward moves differ.
type searchNode struct {
	symbol string
	fuel   int
}

// dijkstra runs a fuel-aware shortest-path search over the implicit complete
// graph: every non-orbital pair of waypoints is a candidate edge at the
// Euclidean distance between them, and orbital pairs are zero-cost,
// zero-fuel edges. A state is (waypoint, fuel); transitions are "travel to a
// reachable neighbour in the fastest usable mode" and "refuel here, if
// has_fuel". Cost is total travel time, tie-broken by fuel consumed.
func dijkstra(
	waypoints map[string]*shared.Waypoint,
	start, goal *shared.Waypoint,
	startFuel, fuelCapacity, engineSpeed int,
	selector *shared.FlightModeSelector,
) ([]pathState, bool) {
	type dist struct {
		time int
		fuel int // cumulative fuel consumed, for tie-breaking only
	}

	startNode := searchNode{symbol: start.Symbol, fuel: startFuel}
	dists := map[searchNode]dist{startNode: {0, 0}}
	prev := map[searchNode]struct {
		node    searchNode
		l       *leg
		refuel  bool
	}{}
	visited := map[searchNode]bool{}

	better := func(a, b dist) bool {
		if a.time != b.time {
			return a.time < b.time
		}
		return a.fuel < b.fuel
	}

	for {
		current, curDist, ok := closestUnvisited(dists, visited, better)
		if !ok {
			break
		}
		visited[current] = true

		fromWp := waypoints[current.symbol]

		// A fuel-capable stop below the opportunistic threshold refuels
		// before moving on - topping up is mandatory, not a time trade-off
		// the search gets to decline.
		mustRefuel := fromWp.HasFuel && float64(current.fuel) < OpportunisticRefuelThreshold*float64(fuelCapacity)

		// Refuel transition: resets fuel to capacity at a fuel-capable waypoint.
		if fromWp.HasFuel && current.fuel < fuelCapacity {
			next := searchNode{symbol: current.symbol, fuel: fuelCapacity}
			nd := dist{time: curDist.time + refuelTimeSeconds, fuel: curDist.fuel}
			if existing, seen := dists[next]; !seen || better(nd, existing) {
				dists[next] = nd
				prev[next] = struct {
					node   searchNode
					l      *leg
					refuel bool
				}{current, nil, true}
			}
		}

		if mustRefuel {
			continue
		}

		// Travel transitions to every other waypoint.
		for symbol, toWp := range waypoints {
			if symbol == current.symbol {
				continue
			}

			distance, isOrbital := edgeDistance(fromWp, toWp)
			var mode shared.FlightMode
			var fuelCost, timeSeconds int
			if isOrbital {
				mode = shared.FlightModeCruise
				fuelCost = 0
				timeSeconds = 1
			} else {
				mode = selector.SelectOptimalMode(current.fuel, distance, DefaultSafetyMargin)
				fuelCost = mode.FuelCost(distance)
				timeSeconds = mode.TravelTime(distance, engineSpeed)
			}

			if current.fuel-fuelCost < 0 {
				continue
			}

			next := searchNode{symbol: symbol, fuel: current.fuel - fuelCost}
			nd := dist{time: curDist.time + timeSeconds, fuel: curDist.fuel + fuelCost}
			if existing, seen := dists[next]; !seen || better(nd, existing) {
				dists[next] = nd
				prev[next] = struct {
					node   searchNode
					l      *leg
					refuel bool
				}{current, &leg{current.symbol, symbol, distance, mode, fuelCost, timeSeconds}, false}
			}
		}
	}

	// Find the best-reached state at the goal waypoint, across any fuel level.
	var best searchNode
	found := false
	for node, d := range dists {
		if node.symbol != goal.Symbol {
			continue
		}
		if !found || better(d, dists[best]) {
			best = node
			found = true
		}
	}
	if !found {
		return nil, false
	}

	// Reconstruct the path.
	var states []pathState
	for node := best; ; {
		states = append([]pathState{{symbol: node.symbol}}, states...)
		p, ok := prev[node]
		if !ok {
			break
		}
		states[0].arrivingLeg = p.l
		states[0].refueledHere = p.refuel
		node = p.node
	}
	return states, true
}

func closestUnvisited[K comparable, D any](
	dists map[K]D,
	visited map[K]bool,
	better func(a, b D) bool,
) (K, D, bool) {
	var best K
	var bestDist D
	found := false
	for k, d := range dists {
		if visited[k] {
			continue
		}
		if !found || better(d, bestDist) {
			best = k
			bestDist = d
			found = true
		}
	}
	return best, bestDist, found
}

// edgeDistance returns the travel distance between two waypoints and whether
// they are orbitally linked (distance 0, fuel 0).
func edgeDistance(a, b *shared.Waypoint) (float64, bool) {
	if a.IsOrbitalOf(b) {
		return 0, true
	}
	return a.DistanceTo(b), false
}

// buildActions converts the reconstructed path states into the public
// Action list. The search already refuels at every fuel-capable stop below
// the opportunistic threshold along the way; the one case it cannot cover is
// the final waypoint (refueling there never improves arrival time, so no
// search state elects it), which gets the same below-90% treatment here -
// the last stop is not exempt.
func buildActions(states []pathState, waypoints map[string]*shared.Waypoint, startFuel, fuelCapacity int) []Action {
	actions := make([]Action, 0, len(states))
	fuel := startFuel
	for _, s := range states {
		if s.arrivingLeg != nil {
			l := s.arrivingLeg
			fuel -= l.fuelCost
			actions = append(actions, Action{
				Kind:        ActionTravel,
				At:          l.to,
				Distance:    l.distance,
				Mode:        l.mode,
				FuelCost:    l.fuelCost,
				TimeSeconds: l.timeSeconds,
			})
		}
		if s.refueledHere {
			fuel = fuelCapacity
			actions = append(actions, Action{
				Kind:        ActionRefuel,
				At:          s.symbol,
				FuelGained:  fuelCapacity,
				TimeSeconds: refuelTimeSeconds,
			})
		}
	}

	if len(states) > 0 {
		last := states[len(states)-1]
		if wp, ok := waypoints[last.symbol]; ok && wp.HasFuel && !last.refueledHere &&
			float64(fuel) < OpportunisticRefuelThreshold*float64(fuelCapacity) {
			actions = append(actions, Action{
				Kind:        ActionRefuel,
				At:          last.symbol,
				FuelGained:  fuelCapacity,
				TimeSeconds: refuelTimeSeconds,
			})
		}
	}
	return actions
}

// ErrNoFeasiblePath is the sentinel the route-planning layer wraps a "no
// plan" outcome in. FindOptimalPath itself reports no-plan as a nil Plan;
// callers that must return an error (the application-level planner) wrap
// this one so orchestrators can errors.Is it apart from genuine failures.
var ErrNoFeasiblePath = fmt.Errorf("no feasible route found")
