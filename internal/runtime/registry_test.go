package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/application/ship"
	scoutingCmd "github.com/acdtunes/fleetd/internal/application/scouting/commands"
	"github.com/acdtunes/fleetd/internal/domain/container"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := builtinRegistry(t)
	err := r.Register("navigate", container.KindCommand, navigateFactory)
	assert.Error(t, err)
}

func TestRegistry_KindLookup(t *testing.T) {
	r := builtinRegistry(t)

	kind, ok := r.Kind("navigate")
	require.True(t, ok)
	assert.Equal(t, container.KindCommand, kind)

	kind, ok = r.Kind("market-worker")
	require.True(t, ok)
	assert.Equal(t, container.KindWorker, kind)

	_, ok = r.Kind("nonsense")
	assert.False(t, ok)
}

func TestRegistry_BuildUnknownCommand(t *testing.T) {
	r := builtinRegistry(t)
	_, err := r.Build(container.Spec{Command: "nonsense"}, 1)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNavigateFactory_BuildsRequestFromJSONParams(t *testing.T) {
	r := builtinRegistry(t)

	// Params arrive as a JSON-decoded bag: strings and bools.
	runnable, err := r.Build(container.Spec{
		Command: "navigate",
		Params: map[string]interface{}{
			"ship_symbol":   "AGENT-SCOUT-1",
			"destination":   "X1-GZ7-B2",
			"prefer_cruise": true,
		},
	}, 7)
	require.NoError(t, err)

	request, ok, err := runnable.Next(0)
	require.NoError(t, err)
	require.True(t, ok)

	cmd, isNavigate := request.(*ship.NavigateShipCommand)
	require.True(t, isNavigate)
	assert.Equal(t, "AGENT-SCOUT-1", cmd.ShipSymbol)
	assert.Equal(t, "X1-GZ7-B2", cmd.Destination)
	assert.Equal(t, 7, cmd.PlayerID.Value())
	assert.True(t, cmd.PreferCruise)

	// Command runnables never drain; the iteration limit bounds them.
	_, ok, err = runnable.Next(5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNavigateFactory_MissingParams(t *testing.T) {
	r := builtinRegistry(t)

	_, err := r.Build(container.Spec{
		Command: "navigate",
		Params:  map[string]interface{}{"ship_symbol": "SHIP-1"},
	}, 1)
	assert.Error(t, err)
}

func TestMarketWorkerFactory_DrainsMarketsInOrder(t *testing.T) {
	r := builtinRegistry(t)

	runnable, err := r.Build(container.Spec{
		Command: "market-worker",
		Params: map[string]interface{}{
			"ship_symbol": "SHIP-1",
			"markets":     []interface{}{"X1-M1", "X1-M2"},
		},
	}, 1)
	require.NoError(t, err)

	for _, want := range []string{"X1-M1", "X1-M2"} {
		request, ok, err := runnable.Next(0)
		require.NoError(t, err)
		require.True(t, ok)
		cmd := request.(*scoutingCmd.ScanMarketCommand)
		assert.Equal(t, want, cmd.Waypoint)
		assert.Equal(t, "SHIP-1", cmd.ShipSymbol)
	}

	_, ok, err := runnable.Next(2)
	require.NoError(t, err)
	assert.False(t, ok, "queue must report drained")
}

func TestMarketWorkerFactory_SkipCompletedFastForwards(t *testing.T) {
	r := builtinRegistry(t)

	runnable, err := r.Build(container.Spec{
		Command: "market-worker",
		Params: map[string]interface{}{
			"ship_symbol": "SHIP-1",
			"markets":     []interface{}{"X1-M1", "X1-M2", "X1-M3"},
		},
	}, 1)
	require.NoError(t, err)

	skipper, ok := runnable.(interface{ SkipCompleted(int) })
	require.True(t, ok)
	skipper.SkipCompleted(2)

	request, ok, err := runnable.Next(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X1-M3", request.(*scoutingCmd.ScanMarketCommand).Waypoint)
}

func TestWorkQueue_FIFOAndSkipBounds(t *testing.T) {
	q := NewWorkQueue([]string{"a", "b", "c"})
	assert.Equal(t, 3, q.Len())

	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", item)

	q.Enqueue("d")
	assert.Equal(t, 3, q.Len())

	// Skipping more than remains empties the queue without panicking.
	dropped := q.Skip(10)
	assert.Equal(t, 3, dropped)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}
