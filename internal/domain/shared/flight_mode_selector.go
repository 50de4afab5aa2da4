package shared

import "sort"

// FlightModeStrategy determines whether a particular flight mode can be used
// given a distance, current fuel, and safety margin.
type FlightModeStrategy interface {
	CanUse(currentFuel int, distance float64, safetyMargin int) bool
	Priority() int
	Mode() FlightMode
}

// BurnModeStrategy is the fastest mode (2x cruise fuel cost).
type BurnModeStrategy struct{}

func NewBurnModeStrategy() *BurnModeStrategy { return &BurnModeStrategy{} }

func (s *BurnModeStrategy) CanUse(currentFuel int, distance float64, safetyMargin int) bool {
	return currentFuel-FlightModeBurn.FuelCost(distance) >= safetyMargin
}
func (s *BurnModeStrategy) Priority() int    { return 3 }
func (s *BurnModeStrategy) Mode() FlightMode { return FlightModeBurn }

// CruiseModeStrategy is the standard-speed mode.
type CruiseModeStrategy struct{}

func NewCruiseModeStrategy() *CruiseModeStrategy { return &CruiseModeStrategy{} }

func (s *CruiseModeStrategy) CanUse(currentFuel int, distance float64, safetyMargin int) bool {
	return currentFuel-FlightModeCruise.FuelCost(distance) >= safetyMargin
}
func (s *CruiseModeStrategy) Priority() int    { return 2 }
func (s *CruiseModeStrategy) Mode() FlightMode { return FlightModeCruise }

// DriftModeStrategy is the fuel-efficient fallback; its 1-fuel cost means it
// always fits, so it always returns true.
type DriftModeStrategy struct{}

func NewDriftModeStrategy() *DriftModeStrategy { return &DriftModeStrategy{} }

func (s *DriftModeStrategy) CanUse(currentFuel int, distance float64, safetyMargin int) bool {
	return true
}
func (s *DriftModeStrategy) Priority() int    { return 1 }
func (s *DriftModeStrategy) Mode() FlightMode { return FlightModeDrift }

// FlightModeSelector picks the fastest usable mode from an ordered list of
// strategies, demoting BURN to CRUISE when preferCruise is set.
type FlightModeSelector struct {
	strategies   []FlightModeStrategy
	preferCruise bool
}

// NewFlightModeSelector builds a selector. With no strategies given, the
// default BURN > CRUISE > DRIFT priority order is used.
func NewFlightModeSelector(preferCruise bool, strategies ...FlightModeStrategy) *FlightModeSelector {
	if len(strategies) == 0 {
		strategies = []FlightModeStrategy{
			NewBurnModeStrategy(),
			NewCruiseModeStrategy(),
			NewDriftModeStrategy(),
		}
	}
	sort.Slice(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})
	return &FlightModeSelector{strategies: strategies, preferCruise: preferCruise}
}

// SelectOptimalMode evaluates strategies in priority order and returns the
// first usable mode. When preferCruise is set, BURN is skipped in favor of
// CRUISE even if BURN would otherwise fit.
func (s *FlightModeSelector) SelectOptimalMode(currentFuel int, distance float64, safetyMargin int) FlightMode {
	for _, strategy := range s.strategies {
		if s.preferCruise && strategy.Mode() == FlightModeBurn {
			continue
		}
		if strategy.CanUse(currentFuel, distance, safetyMargin) {
			return strategy.Mode()
		}
	}
	return FlightModeDrift
}
