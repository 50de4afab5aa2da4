package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/acdtunes/fleetd/internal/domain/container"
)

// ShipAssignmentRepositoryGORM implements ship assignment persistence using GORM.
// It provides the ship-level lock backing the supervisor's single-owner rule:
// a ship can have at most one active assignment row at a time.
type ShipAssignmentRepositoryGORM struct {
	db *gorm.DB
}

func NewShipAssignmentRepository(db *gorm.DB) *ShipAssignmentRepositoryGORM {
	return &ShipAssignmentRepositoryGORM{db: db}
}

// Assign performs the insert-or-conditional-update in a single statement so
// two concurrent callers racing for the same ship can never both observe
// success: the database, not a prior SELECT, is the sole arbiter. Postgres
// and SQLite both support a WHERE clause on the conflict's DO UPDATE action,
// so the update - and therefore the reported affected-row count - only fires
// when the existing row is not already active.
func (r *ShipAssignmentRepositoryGORM) Assign(
	ctx context.Context,
	assignment *container.ShipAssignment,
) (bool, error) {
	assignedAt := assignment.AssignedAt()

	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO ships_assignments (ship_symbol, player_id, container_id, status, assigned_at, released_at, release_reason)
		 VALUES (?, ?, ?, ?, ?, NULL, '')
		 ON CONFLICT (ship_symbol, player_id) DO UPDATE SET
		   container_id = excluded.container_id,
		   status = excluded.status,
		   assigned_at = excluded.assigned_at,
		   released_at = NULL,
		   release_reason = ''
		 WHERE ships_assignments.status != ?`,
		assignment.ShipSymbol(), assignment.PlayerID(), assignment.ContainerID(),
		string(assignment.Status()), assignedAt, string(container.AssignmentStatusActive),
	)
	if result.Error != nil {
		return false, fmt.Errorf("failed to assign ship: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *ShipAssignmentRepositoryGORM) FindByShip(
	ctx context.Context,
	shipSymbol string,
	playerID int,
) (*container.ShipAssignment, error) {
	var model ShipAssignmentModel

	err := r.db.WithContext(ctx).
		Where("ship_symbol = ? AND player_id = ? AND status = ?", shipSymbol, playerID, string(container.AssignmentStatusActive)).
		First(&model).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ship assignment: %w", err)
	}

	return container.NewShipAssignment(model.ShipSymbol, model.PlayerID, model.ContainerID, nil), nil
}

func (r *ShipAssignmentRepositoryGORM) FindByContainer(
	ctx context.Context,
	containerID string,
	playerID int,
) ([]*container.ShipAssignment, error) {
	var models []ShipAssignmentModel

	err := r.db.WithContext(ctx).
		Where("container_id = ? AND player_id = ?", containerID, playerID).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find container assignments: %w", err)
	}

	assignments := make([]*container.ShipAssignment, 0, len(models))
	for _, model := range models {
		assignments = append(assignments, container.NewShipAssignment(model.ShipSymbol, model.PlayerID, model.ContainerID, nil))
	}
	return assignments, nil
}

// Release marks a ship assignment as released. A no-op (not an error) when no
// active row exists, matching the idempotent semantics of the domain entity.
func (r *ShipAssignmentRepositoryGORM) Release(
	ctx context.Context,
	shipSymbol string,
	playerID int,
	reason string,
) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("ship_symbol = ? AND player_id = ? AND status = ?", shipSymbol, playerID, string(container.AssignmentStatusActive)).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to release ship assignment: %w", result.Error)
	}
	return nil
}

func (r *ShipAssignmentRepositoryGORM) ReleaseByContainer(
	ctx context.Context,
	containerID string,
	playerID int,
	reason string,
) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("container_id = ? AND player_id = ? AND status = ?", containerID, playerID, string(container.AssignmentStatusActive)).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to release container assignments: %w", result.Error)
	}
	return nil
}

// ReleaseAllActive releases every active assignment, used during daemon
// startup to clear zombie locks left behind by a previous process.
func (r *ShipAssignmentRepositoryGORM) ReleaseAllActive(
	ctx context.Context,
	reason string,
) (int, error) {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("status = ?", string(container.AssignmentStatusActive)).
		Updates(map[string]interface{}{
			"status":         string(container.AssignmentStatusReleased),
			"released_at":    now,
			"release_reason": reason,
		})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to release all active assignments: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// CountByContainerPrefix counts active assignments whose container ID starts
// with prefix, used by worker pools to size against their own fleet.
func (r *ShipAssignmentRepositoryGORM) CountByContainerPrefix(
	ctx context.Context,
	prefix string,
	playerID int,
) (int, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&ShipAssignmentModel{}).
		Where("player_id = ? AND status = ? AND container_id LIKE ?", playerID, string(container.AssignmentStatusActive), prefix+"%").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments by container prefix: %w", err)
	}
	return int(count), nil
}
