package ship

import (
	"context"
	"fmt"

	domainNavigation "github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/routeplan"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// RoutePlanner adapts the pure domain/routeplan package (the fuel-aware
// Dijkstra planner, generalized over the full waypoint graph) into the
// *domainNavigation.Route shape the executor drives segment by segment.
type RoutePlanner struct{}

// NewRoutePlanner creates a RoutePlanner.
func NewRoutePlanner() *RoutePlanner {
	return &RoutePlanner{}
}

// PlanRoute finds the fastest feasible path from the ship's current location
// to destination. When no feasible path exists the error wraps
// routeplan.ErrNoFeasiblePath, so callers can recognize the outcome and
// build a detailed "no route found" message with context the planner
// doesn't have (waypoint cache stats, etc).
func (p *RoutePlanner) PlanRoute(
	ctx context.Context,
	ship *domainNavigation.Ship,
	destination string,
	waypoints map[string]*shared.Waypoint,
	preferCruise bool,
) (*domainNavigation.Route, error) {
	origin := ship.CurrentLocation()

	plan, err := routeplan.FindOptimalPath(
		waypoints, origin.Symbol, destination,
		ship.Fuel().Current, ship.FuelCapacity(), ship.EngineSpeed(), preferCruise,
	)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: %s -> %s", routeplan.ErrNoFeasiblePath, origin.Symbol, destination)
	}

	segments, refuelAtStart, err := buildRouteSegments(waypoints, origin.Symbol, plan)
	if err != nil {
		return nil, err
	}

	routeID := fmt.Sprintf("%s_%s_%s", ship.ShipSymbol(), origin.Symbol, destination)
	return domainNavigation.NewRoute(routeID, ship.ShipSymbol(), ship.PlayerID().Value(), segments, ship.FuelCapacity(), refuelAtStart)
}

// buildRouteSegments converts a routeplan.Plan's flat action list into
// RouteSegments: a REFUEL action marks the following TRAVEL segment's
// RequiresRefuel flag (or, if it's the very first action, refuelAtStart).
func buildRouteSegments(waypoints map[string]*shared.Waypoint, start string, plan *routeplan.Plan) ([]*domainNavigation.RouteSegment, bool, error) {
	segments := make([]*domainNavigation.RouteSegment, 0, len(plan.Actions))
	refuelAtStart := false
	pendingRefuel := false
	from := start

	for i, action := range plan.Actions {
		switch action.Kind {
		case routeplan.ActionRefuel:
			if i == 0 {
				refuelAtStart = true
			} else {
				pendingRefuel = true
			}
		case routeplan.ActionTravel:
			fromWp, ok := waypoints[from]
			if !ok {
				return nil, false, fmt.Errorf("internal error: waypoint %s not resolved during route construction", from)
			}
			toWp, ok := waypoints[action.At]
			if !ok {
				return nil, false, fmt.Errorf("internal error: waypoint %s not resolved during route construction", action.At)
			}
			segments = append(segments, domainNavigation.NewRouteSegment(
				fromWp, toWp, action.Distance, action.FuelCost, action.TimeSeconds, action.Mode, pendingRefuel,
			))
			pendingRefuel = false
			from = action.At
		}
	}

	return segments, refuelAtStart, nil
}
