package navigation

import (
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ShipFuelService holds the stateless fuel decisions shared by the Ship
// entity and the navigation executor: what a leg costs, whether a tank can
// cover it, and when a stop should turn into a refuel.
type ShipFuelService struct{}

// NewShipFuelService creates a new fuel service instance
func NewShipFuelService() *ShipFuelService {
	return &ShipFuelService{}
}

// CalculateFuelRequired returns the fuel a leg between two waypoints costs
// in the given flight mode.
func (s *ShipFuelService) CalculateFuelRequired(
	from *shared.Waypoint,
	to *shared.Waypoint,
	mode shared.FlightMode,
) int {
	distance := from.DistanceTo(to)
	return mode.FuelCost(distance)
}

// CanShipNavigateTo reports whether currentFuel covers the leg in at least
// one mode. DRIFT is the floor: if even its fixed cost does not fit, no
// mode does.
func (s *ShipFuelService) CanShipNavigateTo(
	currentFuel int,
	from *shared.Waypoint,
	to *shared.Waypoint,
) bool {
	distance := from.DistanceTo(to)
	minFuelRequired := shared.FlightModeDrift.FuelCost(distance)
	return currentFuel >= minFuelRequired
}

// ShouldRefuelForJourney reports whether the upcoming leg would cut into the
// tank's reserve: true when current fuel cannot cover the CRUISE cost plus
// the safetyMargin fraction on top (0.1 = keep 10% spare).
func (s *ShipFuelService) ShouldRefuelForJourney(
	fuel *shared.Fuel,
	from *shared.Waypoint,
	to *shared.Waypoint,
	safetyMargin float64,
) bool {
	distance := from.DistanceTo(to)
	fuelRequired := shared.FlightModeCruise.FuelCost(distance)
	return !fuel.CanTravel(fuelRequired, safetyMargin)
}

// SelectOptimalFlightMode picks the fastest mode whose fuel cost leaves at
// least safetyMargin in the tank over the given distance.
func (s *ShipFuelService) SelectOptimalFlightMode(
	currentFuel int,
	distance float64,
	safetyMargin int,
) shared.FlightMode {
	return shared.SelectOptimalFlightMode(currentFuel, distance, safetyMargin, false)
}

// ShouldRefuelOpportunistically reports whether a stop warrants topping up:
// the waypoint sells fuel and the tank sits below the threshold fraction of
// capacity (0.9 = refuel under 90%).
func (s *ShipFuelService) ShouldRefuelOpportunistically(
	fuel *shared.Fuel,
	fuelCapacity int,
	waypoint *shared.Waypoint,
	safetyThreshold float64,
) bool {
	if fuelCapacity == 0 {
		return false
	}

	if !waypoint.HasFuel {
		return false
	}

	fuelPercentage := float64(fuel.Current) / float64(fuelCapacity)
	return fuelPercentage < safetyThreshold
}

// CalculateFuelNeededToFull returns how much fuel brings the tank to capacity.
func (s *ShipFuelService) CalculateFuelNeededToFull(currentFuel int, fuelCapacity int) int {
	fuelNeeded := fuelCapacity - currentFuel
	if fuelNeeded < 0 {
		return 0
	}
	return fuelNeeded
}
