package navigation

import "github.com/acdtunes/fleetd/internal/domain/shared"

// ShipArrivedEvent is published when a ship transitions out of IN_TRANSIT.
type ShipArrivedEvent struct {
	ShipSymbol string
	PlayerID   shared.PlayerID
	Location   string
	Status     NavStatus
}

// WorkerCompletedEvent is published when a container finishes execution.
// Coordinators subscribe by their own container ID to learn when the workers
// they spawned are done with their ship.
type WorkerCompletedEvent struct {
	ContainerID   string // container that finished
	PlayerID      int
	ShipSymbol    string // ship the container was driving, if any
	CoordinatorID string // parent container, empty for top-level containers
	Success       bool
	Error         string // error message if Success is false
}

// ShipEventPublisher is the write side of the event bus.
type ShipEventPublisher interface {
	PublishArrived(shipSymbol string, playerID shared.PlayerID, location string, status NavStatus)
	PublishWorkerCompleted(event WorkerCompletedEvent)
}

// ShipEventSubscriber is the read side of the event bus. Subscribers own the
// returned channel and must unsubscribe when done.
type ShipEventSubscriber interface {
	SubscribeArrived(shipSymbol string) <-chan ShipArrivedEvent
	UnsubscribeArrived(shipSymbol string, ch <-chan ShipArrivedEvent)
	SubscribeWorkerCompleted(coordinatorID string) <-chan WorkerCompletedEvent
	UnsubscribeWorkerCompleted(coordinatorID string, ch <-chan WorkerCompletedEvent)
}
