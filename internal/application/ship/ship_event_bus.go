package ship

import (
	"sync"

	"github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ShipEventBus provides pub/sub for ship arrival and container completion
// events. Thread-safe, supports multiple subscribers per topic, and uses
// buffered channels with non-blocking sends so a slow subscriber can never
// stall a publisher (the publisher is a container goroutine mid-shutdown).
type ShipEventBus struct {
	mu sync.RWMutex

	// arrivedSubscribers[shipSymbol] = channels
	arrivedSubscribers map[string][]chan navigation.ShipArrivedEvent

	// workerCompletedSubscribers[coordinatorID] = channels
	workerCompletedSubscribers map[string][]chan navigation.WorkerCompletedEvent
}

// Compile-time interface checks
var (
	_ navigation.ShipEventPublisher  = (*ShipEventBus)(nil)
	_ navigation.ShipEventSubscriber = (*ShipEventBus)(nil)
)

// NewShipEventBus creates a new event bus for ship and container events
func NewShipEventBus() *ShipEventBus {
	return &ShipEventBus{
		arrivedSubscribers:         make(map[string][]chan navigation.ShipArrivedEvent),
		workerCompletedSubscribers: make(map[string][]chan navigation.WorkerCompletedEvent),
	}
}

// PublishArrived publishes an ARRIVED event when a ship transitions out of
// IN_TRANSIT.
func (b *ShipEventBus) PublishArrived(shipSymbol string, playerID shared.PlayerID, location string, status navigation.NavStatus) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := navigation.ShipArrivedEvent{
		ShipSymbol: shipSymbol,
		PlayerID:   playerID,
		Location:   location,
		Status:     status,
	}

	for _, ch := range b.arrivedSubscribers[shipSymbol] {
		select {
		case ch <- event:
		default:
			// Channel full, subscriber is slow - skip to prevent blocking
		}
	}
}

// SubscribeArrived subscribes to ARRIVED events for a specific ship.
// Returns a channel that receives events; callers must UnsubscribeArrived
// when done.
func (b *ShipEventBus) SubscribeArrived(shipSymbol string) <-chan navigation.ShipArrivedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan navigation.ShipArrivedEvent, 1)
	b.arrivedSubscribers[shipSymbol] = append(b.arrivedSubscribers[shipSymbol], ch)
	return ch
}

// UnsubscribeArrived removes a subscription and closes its channel.
func (b *ShipEventBus) UnsubscribeArrived(shipSymbol string, ch <-chan navigation.ShipArrivedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels := b.arrivedSubscribers[shipSymbol]
	for i, c := range channels {
		if c == ch {
			close(c)
			channels[i] = channels[len(channels)-1]
			b.arrivedSubscribers[shipSymbol] = channels[:len(channels)-1]
			break
		}
	}

	if len(b.arrivedSubscribers[shipSymbol]) == 0 {
		delete(b.arrivedSubscribers, shipSymbol)
	}
}

// PublishWorkerCompleted publishes a container completion event.
// Coordinators subscribe by their container ID to receive completion signals.
func (b *ShipEventBus) PublishWorkerCompleted(event navigation.WorkerCompletedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.workerCompletedSubscribers[event.CoordinatorID] {
		select {
		case ch <- event:
		default:
			// Channel full, subscriber is slow - skip to prevent blocking
		}
	}
}

// SubscribeWorkerCompleted subscribes to completion events for the workers a
// coordinator spawned. Callers must UnsubscribeWorkerCompleted when done.
func (b *ShipEventBus) SubscribeWorkerCompleted(coordinatorID string) <-chan navigation.WorkerCompletedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan navigation.WorkerCompletedEvent, 10)
	b.workerCompletedSubscribers[coordinatorID] = append(b.workerCompletedSubscribers[coordinatorID], ch)
	return ch
}

// UnsubscribeWorkerCompleted removes a completion subscription and closes
// its channel.
func (b *ShipEventBus) UnsubscribeWorkerCompleted(coordinatorID string, ch <-chan navigation.WorkerCompletedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels := b.workerCompletedSubscribers[coordinatorID]
	for i, c := range channels {
		if c == ch {
			close(c)
			channels[i] = channels[len(channels)-1]
			b.workerCompletedSubscribers[coordinatorID] = channels[:len(channels)-1]
			break
		}
	}

	if len(b.workerCompletedSubscribers[coordinatorID]) == 0 {
		delete(b.workerCompletedSubscribers, coordinatorID)
	}
}

// SubscriberCount returns the number of arrival subscribers for a ship.
func (b *ShipEventBus) SubscriberCount(shipSymbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.arrivedSubscribers[shipSymbol])
}
