package container

import (
	"context"
)

// ShipAssignmentRepository defines persistence operations for ship assignments
type ShipAssignmentRepository interface {
	// Assign atomically creates or reuses the (ship, player) assignment row
	// for this assignment, succeeding only if no other active row exists for
	// that ship. Returns false, not an error, when the ship is already
	// actively assigned - this is the ordinary "ship is busy" outcome, not an
	// infrastructure failure.
	Assign(ctx context.Context, assignment *ShipAssignment) (bool, error)

	// FindByShip retrieves the active assignment for a ship
	FindByShip(ctx context.Context, shipSymbol string, playerID int) (*ShipAssignment, error)

	// FindByContainer retrieves all ship assignments for a container
	FindByContainer(ctx context.Context, containerID string, playerID int) ([]*ShipAssignment, error)

	// Release marks a ship assignment as released. Idempotent: releasing an
	// already-released or nonexistent assignment is not an error.
	Release(ctx context.Context, shipSymbol string, playerID int, reason string) error

	// ReleaseByContainer releases all ship assignments for a container
	ReleaseByContainer(ctx context.Context, containerID string, playerID int, reason string) error

	// ReleaseAllActive releases all active ship assignments (used for daemon startup cleanup)
	ReleaseAllActive(ctx context.Context, reason string) (int, error)

	// CountByContainerPrefix counts active assignments where container ID starts with prefix
	CountByContainerPrefix(ctx context.Context, prefix string, playerID int) (int, error)
}
