package navigation

import (
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ShipNavigationCalculator holds the stateless position arithmetic the Ship
// entity delegates to: distances, travel times, and same-location checks.
type ShipNavigationCalculator struct{}

// NewShipNavigationCalculator creates a new navigation calculator instance
func NewShipNavigationCalculator() *ShipNavigationCalculator {
	return &ShipNavigationCalculator{}
}

// CalculateTravelTime returns the travel time in seconds between two
// waypoints for a flight mode and engine speed.
func (c *ShipNavigationCalculator) CalculateTravelTime(
	from *shared.Waypoint,
	to *shared.Waypoint,
	mode shared.FlightMode,
	engineSpeed int,
) int {
	distance := from.DistanceTo(to)
	return mode.TravelTime(distance, engineSpeed)
}

// CalculateDistance returns the Euclidean distance between two waypoints.
func (c *ShipNavigationCalculator) CalculateDistance(
	from *shared.Waypoint,
	to *shared.Waypoint,
) float64 {
	return from.DistanceTo(to)
}

// IsAtLocation reports whether two waypoints name the same location.
func (c *ShipNavigationCalculator) IsAtLocation(
	current *shared.Waypoint,
	target *shared.Waypoint,
) bool {
	return current.Symbol == target.Symbol
}
