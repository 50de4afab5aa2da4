package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/acdtunes/fleetd/internal/domain/container"
)

// ContainerRepositoryGORM implements container persistence using GORM.
type ContainerRepositoryGORM struct {
	db *gorm.DB
}

func NewContainerRepository(db *gorm.DB) *ContainerRepositoryGORM {
	return &ContainerRepositoryGORM{db: db}
}

func toModel(containerEntity *container.Container) (*ContainerModel, error) {
	paramsJSON, err := json.Marshal(containerEntity.Spec().Params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %w", err)
	}
	metadataJSON, err := json.Marshal(containerEntity.Metadata())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}

	var parentID *string
	if containerEntity.ParentID() != "" {
		parentID = &[]string{containerEntity.ParentID()}[0]
	}

	policy := containerEntity.RestartPolicy()

	return &ContainerModel{
		ID:                containerEntity.ID(),
		PlayerID:          containerEntity.PlayerID(),
		Kind:              string(containerEntity.Kind()),
		Command:           containerEntity.Spec().Command,
		Status:            string(containerEntity.Status()),
		ParentContainerID: parentID,
		RestartPolicyKind: string(policy.Kind),
		MaxRestarts:       policy.MaxRestarts,
		RestartCount:      containerEntity.RestartCount(),
		MaxIterations:     containerEntity.MaxIterations(),
		CurrentIteration:  containerEntity.CurrentIteration(),
		Params:            string(paramsJSON),
		Metadata:          string(metadataJSON),
		StartedAt:         containerEntity.StartedAt(),
		StoppedAt:         containerEntity.StoppedAt(),
		ExitReason:        containerEntity.ExitReason(),
	}, nil
}

// Add creates a new container record in the database.
func (r *ContainerRepositoryGORM) Add(ctx context.Context, containerEntity *container.Container) error {
	model, err := toModel(containerEntity)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to insert container: %w", err)
	}
	return nil
}

// UpdateStatus updates container status and completion info.
func (r *ContainerRepositoryGORM) UpdateStatus(
	ctx context.Context,
	containerID string,
	playerID int,
	status container.ContainerStatus,
	stoppedAt *time.Time,
	exitReason string,
) error {
	updates := map[string]interface{}{
		"status": string(status),
	}
	if stoppedAt != nil {
		updates["stopped_at"] = stoppedAt
		updates["exit_reason"] = exitReason
	}

	result := r.db.WithContext(ctx).
		Model(&ContainerModel{}).
		Where("id = ? AND player_id = ?", containerID, playerID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update container status: %w", result.Error)
	}
	return nil
}

// UpdateProgress persists the iteration and restart counters as a running
// container advances, without touching status (UpdateStatus owns that).
func (r *ContainerRepositoryGORM) UpdateProgress(
	ctx context.Context,
	containerID string,
	playerID int,
	currentIteration int,
	restartCount int,
) error {
	result := r.db.WithContext(ctx).
		Model(&ContainerModel{}).
		Where("id = ? AND player_id = ?", containerID, playerID).
		Updates(map[string]interface{}{
			"current_iteration": currentIteration,
			"restart_count":     restartCount,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update container progress: %w", result.Error)
	}
	return nil
}

// Get retrieves a single container by ID.
func (r *ContainerRepositoryGORM) Get(ctx context.Context, containerID string, playerID int) (*ContainerModel, error) {
	var model ContainerModel

	result := r.db.WithContext(ctx).
		Where("id = ? AND player_id = ?", containerID, playerID).
		First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get container: %w", result.Error)
	}
	return &model, nil
}

// ListByStatus lists all containers with a specific status.
func (r *ContainerRepositoryGORM) ListByStatus(
	ctx context.Context,
	status container.ContainerStatus,
	playerID *int,
) ([]*ContainerModel, error) {
	var models []*ContainerModel

	query := r.db.WithContext(ctx).Where("status = ?", string(status))
	if playerID != nil {
		query = query.Where("player_id = ?", *playerID)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list containers by status: %w", err)
	}
	return models, nil
}

// ListAll lists all containers, optionally filtered by player.
func (r *ContainerRepositoryGORM) ListAll(ctx context.Context, playerID *int) ([]*ContainerModel, error) {
	var models []*ContainerModel

	query := r.db.WithContext(ctx)
	if playerID != nil {
		query = query.Where("player_id = ?", *playerID)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return models, nil
}

// Remove removes a container record.
func (r *ContainerRepositoryGORM) Remove(ctx context.Context, containerID string, playerID int) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND player_id = ?", containerID, playerID).
		Delete(&ContainerModel{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove container: %w", result.Error)
	}
	return nil
}

// ContainerSummary is a lightweight projection used by coordinators that only
// need to check existence/status, not the full container record.
type ContainerSummary struct {
	ID      string
	Kind    string
	Command string
	Status  string
}

// ListByStatusSimple returns simplified container info (for coordinators).
func (r *ContainerRepositoryGORM) ListByStatusSimple(
	ctx context.Context,
	status string,
	playerID *int,
) ([]ContainerSummary, error) {
	var models []*ContainerModel

	query := r.db.WithContext(ctx).Where("status = ?", status)
	if playerID != nil {
		query = query.Where("player_id = ?", *playerID)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list containers by status: %w", err)
	}

	result := make([]ContainerSummary, len(models))
	for i, model := range models {
		result[i] = ContainerSummary{ID: model.ID, Kind: model.Kind, Command: model.Command, Status: model.Status}
	}
	return result, nil
}

// CreateIfNoActiveWorker atomically creates a worker container only if no other
// RUNNING worker with the same command already exists for the player. Returns
// true if created, false if another worker already owns that command.
func (r *ContainerRepositoryGORM) CreateIfNoActiveWorker(ctx context.Context, containerEntity *container.Container) (bool, error) {
	var created bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ContainerModel{}).
			Where("kind = ? AND command = ? AND status = ? AND player_id = ?",
				string(container.KindWorker), containerEntity.Spec().Command, string(container.ContainerStatusRunning), containerEntity.PlayerID()).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count active workers: %w", err)
		}

		if count > 0 {
			created = false
			return nil
		}

		model, err := toModel(containerEntity)
		if err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to insert container: %w", err)
		}

		created = true
		return nil
	})

	return created, err
}

// FindChildContainers retrieves all direct children of a parent container.
// Returns an empty slice if none are found (not an error).
func (r *ContainerRepositoryGORM) FindChildContainers(
	ctx context.Context,
	parentContainerID string,
	playerID int,
) ([]*ContainerModel, error) {
	var models []*ContainerModel

	err := r.db.WithContext(ctx).
		Where("parent_container_id = ? AND player_id = ?", parentContainerID, playerID).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find child containers: %w", err)
	}
	return models, nil
}

// FindActiveCoordinatorByCommandAndSystem finds an active (PENDING, STARTING, or
// RUNNING) coordinator running the given command for the specified system.
// Returns nil if none found. Used to enforce one coordinator per system.
func (r *ContainerRepositoryGORM) FindActiveCoordinatorByCommandAndSystem(
	ctx context.Context,
	command string,
	systemSymbol string,
	playerID int,
) (*ContainerModel, error) {
	var model ContainerModel

	result := r.db.WithContext(ctx).
		Where("command = ? AND player_id = ? AND status IN (?, ?, ?)",
			command, playerID, "PENDING", "STARTING", "RUNNING").
		Where("params LIKE ?", fmt.Sprintf(`%%"system_symbol":"%s"%%`, systemSymbol)).
		First(&model)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active coordinator: %w", result.Error)
	}
	return &model, nil
}

// StopOrphanedWorkersByParent marks all non-terminal worker containers with
// the given parent container ID as STOPPED. Used during coordinator startup
// to clean up orphaned workers left behind by a crashed coordinator.
func (r *ContainerRepositoryGORM) StopOrphanedWorkersByParent(
	ctx context.Context,
	parentContainerID string,
	playerID int,
) (int64, error) {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&ContainerModel{}).
		Where("parent_container_id = ? AND player_id = ? AND status IN (?, ?, ?)",
			parentContainerID, playerID, "PENDING", "STARTING", "RUNNING").
		Updates(map[string]interface{}{
			"status":      string(container.ContainerStatusStopped),
			"stopped_at":  &now,
			"exit_reason": "orphaned_by_coordinator_restart",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to stop orphaned workers: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FindByID retrieves a container by ID alone. Control-socket requests address
// containers by ID without naming the owning player, so this lookup spans
// players; container IDs are operator-chosen and globally unique in practice.
func (r *ContainerRepositoryGORM) FindByID(ctx context.Context, containerID string) (*ContainerModel, error) {
	var model ContainerModel

	result := r.db.WithContext(ctx).
		Where("id = ?", containerID).
		First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find container: %w", result.Error)
	}
	return &model, nil
}
