package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// stubShipRepo is a scriptable ShipRepository recording the calls the
// executor makes. Unscripted methods behave as harmless no-ops.
type stubShipRepo struct {
	calls []string

	// navStatuses is consumed one per GetShipData call; the last entry
	// repeats once exhausted.
	navStatuses []string
	fuelCurrent int
	fuelMax     int

	navigateResult *Result
}

func (s *stubShipRepo) record(name string) {
	s.calls = append(s.calls, name)
}

func (s *stubShipRepo) count(name string) int {
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (s *stubShipRepo) FindBySymbol(ctx context.Context, symbol string, playerID shared.PlayerID) (*Ship, error) {
	s.record("FindBySymbol")
	return nil, nil
}

func (s *stubShipRepo) GetShipData(ctx context.Context, symbol string, playerID shared.PlayerID) (*ShipData, error) {
	s.record("GetShipData")
	status := "IN_ORBIT"
	if len(s.navStatuses) > 0 {
		status = s.navStatuses[0]
		if len(s.navStatuses) > 1 {
			s.navStatuses = s.navStatuses[1:]
		}
	}
	return &ShipData{
		Symbol:       symbol,
		NavStatus:    status,
		FuelCurrent:  s.fuelCurrent,
		FuelCapacity: s.fuelMax,
	}, nil
}

func (s *stubShipRepo) FindAllByPlayer(ctx context.Context, playerID shared.PlayerID) ([]*Ship, error) {
	return nil, nil
}

func (s *stubShipRepo) Navigate(ctx context.Context, ship *Ship, destination *shared.Waypoint, playerID shared.PlayerID) (*Result, error) {
	s.record("Navigate:" + destination.Symbol)
	if s.navigateResult != nil {
		return s.navigateResult, nil
	}
	return &Result{Destination: destination.Symbol, FuelCurrent: s.fuelCurrent, FuelCapacity: s.fuelMax}, nil
}

func (s *stubShipRepo) Dock(ctx context.Context, ship *Ship, playerID shared.PlayerID) error {
	s.record("Dock")
	return nil
}

func (s *stubShipRepo) Orbit(ctx context.Context, ship *Ship, playerID shared.PlayerID) error {
	s.record("Orbit")
	return nil
}

func (s *stubShipRepo) Refuel(ctx context.Context, ship *Ship, playerID shared.PlayerID, units *int) (*RefuelResult, error) {
	s.record("Refuel")
	s.fuelCurrent = s.fuelMax
	return &RefuelResult{FuelAdded: s.fuelMax, FuelCurrent: s.fuelMax, FuelCapacity: s.fuelMax}, nil
}

func (s *stubShipRepo) SetFlightMode(ctx context.Context, ship *Ship, playerID shared.PlayerID, mode string) error {
	s.record("SetFlightMode:" + mode)
	return nil
}

func (s *stubShipRepo) JettisonCargo(ctx context.Context, ship *Ship, playerID shared.PlayerID, goodSymbol string, units int) error {
	return nil
}

func (s *stubShipRepo) FindByContainer(ctx context.Context, containerID string, playerID shared.PlayerID) ([]*Ship, error) {
	return nil, nil
}
func (s *stubShipRepo) FindIdleByPlayer(ctx context.Context, playerID shared.PlayerID) ([]*Ship, error) {
	return nil, nil
}
func (s *stubShipRepo) FindActiveByPlayer(ctx context.Context, playerID shared.PlayerID) ([]*Ship, error) {
	return nil, nil
}
func (s *stubShipRepo) CountByContainerPrefix(ctx context.Context, prefix string, playerID shared.PlayerID) (int, error) {
	return 0, nil
}
func (s *stubShipRepo) Save(ctx context.Context, ship *Ship) error      { return nil }
func (s *stubShipRepo) SaveAll(ctx context.Context, ships []*Ship) error { return nil }
func (s *stubShipRepo) ReleaseAllActive(ctx context.Context, reason string) (int, error) {
	return 0, nil
}

func testWaypoint(t *testing.T, symbol string, x, y float64, hasFuel bool) *shared.Waypoint {
	t.Helper()
	w, err := shared.NewWaypoint(symbol, x, y)
	require.NoError(t, err)
	w.HasFuel = hasFuel
	return w
}

func testShip(t *testing.T, at *shared.Waypoint, fuel, capacity int, status NavStatus) *Ship {
	t.Helper()
	f, err := shared.NewFuel(fuel, capacity)
	require.NoError(t, err)
	cargo, err := shared.NewCargo(40, 0, nil)
	require.NoError(t, err)

	ship, err := NewShip("SHIP-1", shared.MustNewPlayerID(1), at, f, capacity, 40, cargo, 30, "FRAME_FRIGATE", "COMMAND", nil, status)
	require.NoError(t, err)
	return ship
}

func testRoute(t *testing.T, segments []*RouteSegment, capacity int, refuelAtStart bool) *Route {
	t.Helper()
	route, err := NewRoute("route-1", "SHIP-1", 1, segments, capacity, refuelAtStart)
	require.NoError(t, err)
	return route
}

func TestExecutor_EmptyRouteCompletesWithoutShipActions(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 400, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, false)
	ship := testShip(t, a, 400, 400, NavStatusInOrbit)
	route := testRoute(t, nil, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)
	assert.Equal(t, RouteStatusCompleted, route.Status())
	assert.Empty(t, repo.calls, "no ship actions for an empty route")
}

func TestExecutor_SingleSegmentHappyPath(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 300, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, false)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 400, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)

	assert.Equal(t, RouteStatusCompleted, route.Status())
	assert.Equal(t, 1, repo.count("SetFlightMode:CRUISE"))
	assert.Equal(t, 1, repo.count("Navigate:X1-B"))
}

func TestExecutor_RefuelBeforeDeparture(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 10, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, true)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 10, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, true)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)

	// Refuel means dock, refuel, back to orbit, all before navigating.
	require.GreaterOrEqual(t, repo.count("Refuel"), 1)
	refuelIdx, navigateIdx := -1, -1
	for i, call := range repo.calls {
		if call == "Refuel" && refuelIdx == -1 {
			refuelIdx = i
		}
		if call == "Navigate:X1-B" {
			navigateIdx = i
		}
	}
	assert.Less(t, refuelIdx, navigateIdx, "refuel must happen before departure")
	assert.Equal(t, RouteStatusCompleted, route.Status())
}

func TestExecutor_PlannedSegmentRefuel(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 350, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, true)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 350, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, true)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, repo.count("Refuel"), 1)
}

// A ship already under way must be waited out before any follow-on action;
// no navigate command may be issued while IN_TRANSIT.
func TestExecutor_WaitsOutInTransitBeforeActing(t *testing.T) {
	repo := &stubShipRepo{
		fuelCurrent: 400,
		fuelMax:     400,
		navStatuses: []string{"IN_TRANSIT", "IN_TRANSIT", "IN_TRANSIT", "IN_ORBIT"},
	}
	clock := &shared.MockClock{CurrentTime: time.Now()}
	exec := NewExecutor(repo, clock)

	a := testWaypoint(t, "X1-A", 0, 0, false)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 400, 400, NavStatusInTransit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)

	// The first Navigate call must come after the polls that still reported
	// IN_TRANSIT.
	firstNavigate := -1
	polls := 0
	for i, call := range repo.calls {
		if call == "Navigate:X1-B" && firstNavigate == -1 {
			firstNavigate = i
		}
		if call == "GetShipData" && firstNavigate == -1 {
			polls++
		}
	}
	require.NotEqual(t, -1, firstNavigate)
	assert.GreaterOrEqual(t, polls, 4, "executor must poll until arrival before navigating")
	assert.Equal(t, RouteStatusCompleted, route.Status())
}

func TestExecutor_CancellationAbortsBeforeActions(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 400, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, false)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 400, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.ExecuteRoute(ctx, route, ship, shared.MustNewPlayerID(1), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.count("Navigate:X1-B"), "no navigation after cancellation")
}

// A leg the tank cannot cover, departing a waypoint with no fuel to buy,
// must fail the route before any navigate call is issued.
func TestExecutor_InsufficientFuelFailsSegment(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 50, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, false)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 50, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.Error(t, err)

	var fuelErr *shared.InsufficientFuelError
	assert.ErrorAs(t, err, &fuelErr)
	assert.Equal(t, RouteStatusFailed, route.Status())
	assert.Zero(t, repo.count("Navigate:X1-B"), "must not depart on an empty tank")
}

// Departing a fuel-capable stop with a run-down tank tops up first even when
// the plan did not schedule a refuel here.
func TestExecutor_TopsUpBeforeDemandingLeg(t *testing.T) {
	repo := &stubShipRepo{fuelCurrent: 100, fuelMax: 400}
	exec := NewExecutor(repo, &shared.MockClock{CurrentTime: time.Now()})

	a := testWaypoint(t, "X1-A", 0, 0, true)
	b := testWaypoint(t, "X1-B", 100, 0, false)
	ship := testShip(t, a, 100, 400, NavStatusInOrbit)
	seg := NewRouteSegment(a, b, 100, 100, 4, shared.FlightModeCruise, false)
	route := testRoute(t, []*RouteSegment{seg}, 400, false)

	err := exec.ExecuteRoute(context.Background(), route, ship, shared.MustNewPlayerID(1), nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, repo.count("Refuel"), 1)
	assert.Equal(t, RouteStatusCompleted, route.Status())
}
