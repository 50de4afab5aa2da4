package shared

import "math"

// FlightMode represents flight mode with time/fuel characteristics.
//
// Fuel and time formulas are fixed by the three supported modes:
//   - BURN:   fuel = ceil(2*distance),  time = ceil(baseTime * 0.5)
//   - CRUISE: fuel = ceil(distance),    time = baseTime
//   - DRIFT:  fuel = 1,                 time = baseTime * 10
//
// baseTime = ceil(distance / max(engineSpeed, 1)), floored at 1 second.
type FlightMode int

const (
	FlightModeCruise FlightMode = iota
	FlightModeBurn
	FlightModeDrift
)

// Name returns the mode name.
func (f FlightMode) Name() string {
	switch f {
	case FlightModeBurn:
		return "BURN"
	case FlightModeCruise:
		return "CRUISE"
	case FlightModeDrift:
		return "DRIFT"
	default:
		return "UNKNOWN"
	}
}

func (f FlightMode) String() string {
	return f.Name()
}

// FlightModeFromName maps a mode name back to its FlightMode. Unknown names
// fall back to CRUISE, the standard mode.
func FlightModeFromName(name string) FlightMode {
	switch name {
	case "BURN":
		return FlightModeBurn
	case "DRIFT":
		return FlightModeDrift
	default:
		return FlightModeCruise
	}
}

// baseTravelTime computes the unmodified travel time in seconds for a leg,
// floored at 1 second.
func baseTravelTime(distance float64, engineSpeed int) int {
	if engineSpeed < 1 {
		engineSpeed = 1
	}
	t := int(math.Ceil(distance / float64(engineSpeed)))
	if t < 1 {
		return 1
	}
	return t
}

// FuelCost calculates the fuel cost for this mode over the given distance.
func (f FlightMode) FuelCost(distance float64) int {
	switch f {
	case FlightModeBurn:
		return int(math.Ceil(2 * distance))
	case FlightModeDrift:
		return 1
	default: // CRUISE
		return int(math.Ceil(distance))
	}
}

// TravelTime calculates travel time in seconds for this mode, given the
// ship's engine speed.
func (f FlightMode) TravelTime(distance float64, engineSpeed int) int {
	base := baseTravelTime(distance, engineSpeed)
	switch f {
	case FlightModeBurn:
		t := int(math.Ceil(float64(base) * 0.5))
		if t < 1 {
			return 1
		}
		return t
	case FlightModeDrift:
		return base * 10
	default: // CRUISE
		return base
	}
}

// SelectOptimalFlightMode picks the fastest mode whose fuel cost leaves at
// least safetyMargin fuel remaining.
// DRIFT is returned only when neither BURN nor CRUISE fits — it always fits
// since its fuel cost is fixed at 1.
func SelectOptimalFlightMode(currentFuel int, distance float64, safetyMargin int, preferCruise bool) FlightMode {
	burnCost := FlightModeBurn.FuelCost(distance)
	cruiseCost := FlightModeCruise.FuelCost(distance)

	if !preferCruise && currentFuel-burnCost >= safetyMargin {
		return FlightModeBurn
	}
	if currentFuel-cruiseCost >= safetyMargin {
		return FlightModeCruise
	}
	return FlightModeDrift
}
