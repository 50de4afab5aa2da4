package navigation

import (
	"context"
	"fmt"
	"time"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ExecutorLogger is the minimal logging seam the executor needs; callers in
// the runtime supply their container-scoped logger so every log line this
// package emits carries the calling container's identity.
type ExecutorLogger interface {
	Log(level, message string, fields map[string]interface{})
}

type noopLogger struct{}

func (noopLogger) Log(string, string, map[string]interface{}) {}

// sleepChunk bounds how long a single cancellable sleep iteration waits
// before re-checking ctx.Done(), so cancellation during a long wait (transit,
// refuel cooldown) is observed promptly instead of only between waits.
const sleepChunk = 2 * time.Second

// Executor (NE) drives a planned Route to completion one segment at a time,
// issuing the orbit/refuel/flight-mode/navigate calls against the ship
// repository and waiting out travel time. Transient
// dock/orbit failures are retried once before failing the route, and every
// wait is genuinely cancellable rather than only checked between polls.
type Executor struct {
	shipRepo    ShipRepository
	fuelService *ShipFuelService
	clock       shared.Clock
}

// NewExecutor creates an Executor. Pass shared.NewRealClock() in production;
// tests may substitute a MockClock.
func NewExecutor(shipRepo ShipRepository, clock shared.Clock) *Executor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &Executor{shipRepo: shipRepo, fuelService: NewShipFuelService(), clock: clock}
}

// ExecuteRoute runs every remaining segment of route in order, returning
// when the route completes, fails, or ctx is cancelled. A route with no
// segments is already COMPLETED (NewRoute marks it so for start==goal) and
// this call only waits out any transit already in progress, per the "ship
// already under way" restart case.
func (e *Executor) ExecuteRoute(ctx context.Context, route *Route, ship *Ship, playerID shared.PlayerID, logger ExecutorLogger) error {
	if logger == nil {
		logger = noopLogger{}
	}

	if ship.NavStatus() == NavStatusInTransit {
		if err := e.waitForArrival(ctx, ship, playerID, logger); err != nil {
			return err
		}
	}

	if route.IsComplete() {
		return nil
	}

	if err := route.StartExecution(); err != nil {
		return fmt.Errorf("failed to start route execution: %w", err)
	}

	if route.HasRefuelAtStart() {
		if err := e.refuelFull(ctx, ship, playerID, logger); err != nil {
			route.FailRoute(err.Error())
			return err
		}
	}

	for _, segment := range route.RemainingSegments() {
		if err := ctxErr(ctx); err != nil {
			return err
		}

		if err := e.executeSegment(ctx, segment, ship, playerID, logger); err != nil {
			route.FailRoute(err.Error())
			return err
		}
		if err := route.CompleteSegment(); err != nil {
			return fmt.Errorf("failed to advance route: %w", err)
		}
	}

	return nil
}

// executeSegment runs the full per-segment procedure: ensure orbit, refuel
// if the plan called for one here (or this stop can top up a tank the next
// leg would run down), verify the tank actually covers the leg, set flight
// mode, navigate, wait for arrival, then opportunistically refuel again if
// arrival leaves the tank below the threshold - including on the route's
// final segment, since a ship parked low on fuel at its destination is a
// problem for whatever comes next.
func (e *Executor) executeSegment(
	ctx context.Context,
	segment *RouteSegment,
	ship *Ship,
	playerID shared.PlayerID,
	logger ExecutorLogger,
) error {
	if err := e.ensureOrbit(ctx, ship, playerID); err != nil {
		return fmt.Errorf("failed to orbit before departure: %w", err)
	}

	if segment.RequiresRefuel {
		if err := e.refuelFull(ctx, ship, playerID, logger); err != nil {
			return err
		}
	}

	// Pre-departure top-up: this stop can service the tank and the leg
	// ahead would cut into the reserve.
	if wp := ship.CurrentLocation(); wp != nil &&
		e.fuelService.ShouldRefuelOpportunistically(ship.Fuel(), ship.FuelCapacity(), wp, OpportunisticRefuelThreshold) &&
		e.fuelService.ShouldRefuelForJourney(ship.Fuel(), segment.FromWaypoint, segment.ToWaypoint, departureFuelReserve) {
		if err := e.refuelFull(ctx, ship, playerID, logger); err != nil {
			return err
		}
	}

	// A leg the tank cannot cover, with no refuel possible here, fails the
	// route rather than stranding the ship mid-segment.
	required := e.fuelService.CalculateFuelRequired(segment.FromWaypoint, segment.ToWaypoint, segment.FlightMode)
	if ship.Fuel().Current < required {
		return shared.NewInsufficientFuelError(required, ship.Fuel().Current)
	}

	modeName := segment.FlightMode.Name()
	if err := e.shipRepo.SetFlightMode(ctx, ship, playerID, modeName); err != nil {
		return fmt.Errorf("failed to set flight mode %s: %w", modeName, err)
	}
	ship.SetFlightMode(modeName)

	logger.Log("INFO", "navigating segment", map[string]interface{}{
		"ship_symbol": ship.ShipSymbol(),
		"from":        segment.FromWaypoint.Symbol,
		"to":          segment.ToWaypoint.Symbol,
		"flight_mode": modeName,
		"distance":    segment.Distance,
		"fuel_cost":   segment.FuelRequired,
	})

	result, err := e.shipRepo.Navigate(ctx, ship, segment.ToWaypoint, playerID)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", segment.ToWaypoint.Symbol, err)
	}

	ship.UpdateFuelFromAPI(result.FuelCurrent, result.FuelCapacity)
	if err := ship.StartTransit(segment.ToWaypoint); err != nil {
		return fmt.Errorf("failed to record transit start: %w", err)
	}

	if result.ArrivalTime > 0 {
		if err := e.cancellableSleep(ctx, time.Duration(result.ArrivalTime)*time.Second); err != nil {
			return err
		}
	}

	if err := e.waitForArrival(ctx, ship, playerID, logger); err != nil {
		return err
	}

	if arrived := ship.CurrentLocation(); arrived != nil && e.shipRepo != nil &&
		e.fuelService.ShouldRefuelOpportunistically(ship.Fuel(), ship.FuelCapacity(), arrived, OpportunisticRefuelThreshold) {
		data, err := e.shipRepo.GetShipData(ctx, ship.ShipSymbol(), playerID)
		if err == nil && data.NavStatus != string(NavStatusInTransit) {
			// best-effort: attempt refuel, ignore failure (no stock here)
			_ = e.tryOpportunisticRefuel(ctx, ship, playerID, logger)
		}
	}

	return nil
}

// tryOpportunisticRefuel attempts a refuel without treating failure (no
// market here, no fuel stock) as fatal to the route.
func (e *Executor) tryOpportunisticRefuel(ctx context.Context, ship *Ship, playerID shared.PlayerID, logger ExecutorLogger) error {
	return e.refuelFull(ctx, ship, playerID, logger)
}

// OpportunisticRefuelThreshold mirrors routeplan.OpportunisticRefuelThreshold;
// duplicated here rather than imported to avoid a domain/navigation ->
// domain/routeplan dependency for a single constant.
const OpportunisticRefuelThreshold = 0.9

// departureFuelReserve is the fraction of a leg's CRUISE cost kept spare
// when deciding whether to top up before departing a fuel-capable stop.
const departureFuelReserve = 0.1

// ensureOrbit retries once on failure before giving up, since a transient API
// error on a dock/orbit call should not immediately fail an otherwise healthy
// route.
func (e *Executor) ensureOrbit(ctx context.Context, ship *Ship, playerID shared.PlayerID) error {
	if !ship.IsDocked() {
		return nil
	}
	err := e.shipRepo.Orbit(ctx, ship, playerID)
	if err != nil {
		if retryErr := ctxErr(ctx); retryErr != nil {
			return retryErr
		}
		err = e.shipRepo.Orbit(ctx, ship, playerID)
	}
	if err != nil {
		return err
	}
	ship.SetNavStatus(NavStatusInOrbit)
	return nil
}

// waitForArrival polls the ship until it is no longer IN_TRANSIT, observing
// ctx cancellation between polls. The navigate call already sleeps the
// computed travel time, so in the common case this resolves on the first
// check.
func (e *Executor) waitForArrival(ctx context.Context, ship *Ship, playerID shared.PlayerID, logger ExecutorLogger) error {
	const pollInterval = 2 * time.Second

	for {
		if err := ctxErr(ctx); err != nil {
			return err
		}

		data, err := e.shipRepo.GetShipData(ctx, ship.ShipSymbol(), playerID)
		if err != nil {
			return fmt.Errorf("failed to poll ship status: %w", err)
		}

		if data.NavStatus != string(NavStatusInTransit) {
			ship.SetNavStatus(NavStatus(data.NavStatus))
			ship.UpdateFuelFromAPI(data.FuelCurrent, data.FuelCapacity)
			return nil
		}

		logger.Log("DEBUG", "ship still in transit, waiting", map[string]interface{}{
			"ship_symbol": ship.ShipSymbol(),
		})

		if err := e.cancellableSleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// refuelFull docks if necessary, refuels to capacity, then returns to orbit
// so the ship is ready for its next segment, retrying the dock/orbit calls
// once before surfacing a transient failure.
func (e *Executor) refuelFull(ctx context.Context, ship *Ship, playerID shared.PlayerID, logger ExecutorLogger) error {
	if ship.IsInOrbit() {
		err := e.shipRepo.Dock(ctx, ship, playerID)
		if err != nil {
			if retryErr := ctxErr(ctx); retryErr != nil {
				return retryErr
			}
			err = e.shipRepo.Dock(ctx, ship, playerID)
		}
		if err != nil {
			return fmt.Errorf("failed to dock for refuel: %w", err)
		}
		ship.SetNavStatus(NavStatusDocked)
	}

	result, err := e.shipRepo.Refuel(ctx, ship, playerID, nil)
	if err != nil {
		return fmt.Errorf("failed to refuel: %w", err)
	}
	ship.UpdateFuelFromAPI(result.FuelCurrent, result.FuelCapacity)

	logger.Log("INFO", "ship refueled", map[string]interface{}{
		"ship_symbol":  ship.ShipSymbol(),
		"fuel_added":   result.FuelAdded,
		"credits_cost": result.CreditsCost,
	})

	if err := e.ensureOrbitAfterRefuel(ctx, ship, playerID); err != nil {
		return err
	}
	return nil
}

func (e *Executor) ensureOrbitAfterRefuel(ctx context.Context, ship *Ship, playerID shared.PlayerID) error {
	err := e.shipRepo.Orbit(ctx, ship, playerID)
	if err != nil {
		if retryErr := ctxErr(ctx); retryErr != nil {
			return retryErr
		}
		err = e.shipRepo.Orbit(ctx, ship, playerID)
	}
	if err != nil {
		return fmt.Errorf("failed to orbit after refuel: %w", err)
	}
	ship.SetNavStatus(NavStatusInOrbit)
	return nil
}

// cancellableSleep waits out d in sleepChunk increments, checking ctx
// between each so a cancellation lands within one chunk instead of only at
// the end of the full duration. With a MockClock (non-blocking Sleep) this
// returns immediately once all chunks have been "slept", which is exactly
// what deterministic tests want.
func (e *Executor) cancellableSleep(ctx context.Context, d time.Duration) error {
	for remaining := d; remaining > 0; {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		chunk := sleepChunk
		if remaining < chunk {
			chunk = remaining
		}
		e.clock.Sleep(chunk)
		remaining -= chunk
	}
	return ctxErr(ctx)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
