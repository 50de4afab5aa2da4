package ship

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

func TestShipEventBus_ArrivedDeliveredToSubscriber(t *testing.T) {
	bus := NewShipEventBus()
	pid := shared.MustNewPlayerID(1)

	ch := bus.SubscribeArrived("SHIP-1")
	bus.PublishArrived("SHIP-1", pid, "X1-A1", navigation.NavStatusInOrbit)

	select {
	case event := <-ch:
		assert.Equal(t, "SHIP-1", event.ShipSymbol)
		assert.Equal(t, "X1-A1", event.Location)
		assert.Equal(t, navigation.NavStatusInOrbit, event.Status)
	default:
		t.Fatal("expected a buffered arrival event")
	}

	bus.UnsubscribeArrived("SHIP-1", ch)
	assert.Equal(t, 0, bus.SubscriberCount("SHIP-1"))
}

func TestShipEventBus_PublishToOtherShipNotDelivered(t *testing.T) {
	bus := NewShipEventBus()
	pid := shared.MustNewPlayerID(1)

	ch := bus.SubscribeArrived("SHIP-1")
	defer bus.UnsubscribeArrived("SHIP-1", ch)

	bus.PublishArrived("SHIP-2", pid, "X1-A1", navigation.NavStatusDocked)

	select {
	case <-ch:
		t.Fatal("event for another ship must not be delivered")
	default:
	}
}

func TestShipEventBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewShipEventBus()
	pid := shared.MustNewPlayerID(1)

	ch := bus.SubscribeArrived("SHIP-1")
	defer bus.UnsubscribeArrived("SHIP-1", ch)

	// Channel buffer is 1; further publishes are dropped, not blocked.
	bus.PublishArrived("SHIP-1", pid, "X1-A1", navigation.NavStatusInOrbit)
	bus.PublishArrived("SHIP-1", pid, "X1-A2", navigation.NavStatusInOrbit)
	bus.PublishArrived("SHIP-1", pid, "X1-A3", navigation.NavStatusInOrbit)

	event := <-ch
	assert.Equal(t, "X1-A1", event.Location)
}

func TestShipEventBus_WorkerCompletedKeyedByCoordinator(t *testing.T) {
	bus := NewShipEventBus()

	ch := bus.SubscribeWorkerCompleted("coordinator-1")
	defer bus.UnsubscribeWorkerCompleted("coordinator-1", ch)

	bus.PublishWorkerCompleted(navigation.WorkerCompletedEvent{
		ContainerID:   "worker-1",
		PlayerID:      1,
		ShipSymbol:    "SHIP-1",
		CoordinatorID: "coordinator-1",
		Success:       true,
	})
	bus.PublishWorkerCompleted(navigation.WorkerCompletedEvent{
		ContainerID:   "worker-9",
		CoordinatorID: "someone-else",
	})

	require.Len(t, ch, 1)
	event := <-ch
	assert.Equal(t, "worker-1", event.ContainerID)
	assert.True(t, event.Success)
}
