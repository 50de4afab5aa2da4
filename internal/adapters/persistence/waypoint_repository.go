package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// DefaultWaypointCacheTTL is how long a cached waypoint row (the trait- and
// fuel-bearing record, not the structure-only graph) stays authoritative
// before a lookup treats it as missing and the caller rebuilds from the API.
const DefaultWaypointCacheTTL = 2 * time.Hour

// GormWaypointRepository implements WaypointRepository using GORM
type GormWaypointRepository struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewGormWaypointRepository creates a waypoint repository with the default
// cache TTL.
func NewGormWaypointRepository(db *gorm.DB) *GormWaypointRepository {
	return NewGormWaypointRepositoryWithTTL(db, DefaultWaypointCacheTTL)
}

// NewGormWaypointRepositoryWithTTL creates a waypoint repository whose rows
// expire after ttl. A non-positive ttl disables expiry (tests seed waypoints
// once and never refresh them).
func NewGormWaypointRepositoryWithTTL(db *gorm.DB, ttl time.Duration) *GormWaypointRepository {
	return &GormWaypointRepository{db: db, ttl: ttl}
}

// isFresh reports whether a row's synced_at is within the TTL. Rows with an
// unparsable or empty timestamp count as fresh: they predate TTL tracking
// and expiring them would force a rebuild loop on legacy data.
func (r *GormWaypointRepository) isFresh(model *WaypointModel) bool {
	if r.ttl <= 0 || model.SyncedAt == "" {
		return true
	}
	syncedAt, err := time.Parse(time.RFC3339, model.SyncedAt)
	if err != nil {
		return true
	}
	return time.Since(syncedAt) < r.ttl
}

// FindBySymbol retrieves a waypoint by symbol
func (r *GormWaypointRepository) FindBySymbol(ctx context.Context, symbol, systemSymbol string) (*shared.Waypoint, error) {
	var model WaypointModel
	result := r.db.WithContext(ctx).Where("waypoint_symbol = ? AND system_symbol = ?", symbol, systemSymbol).First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("waypoint not found: %s", symbol)
		}
		return nil, fmt.Errorf("failed to find waypoint: %w", result.Error)
	}

	if !r.isFresh(&model) {
		return nil, fmt.Errorf("waypoint not found: %s", symbol)
	}

	return r.modelToWaypoint(&model)
}

// ListBySystem retrieves all waypoints in a system. An expired system (any
// row older than the TTL) reads as empty so the caller rebuilds the whole
// system from the API rather than mixing fresh and stale records.
func (r *GormWaypointRepository) ListBySystem(ctx context.Context, systemSymbol string) ([]*shared.Waypoint, error) {
	var models []WaypointModel
	result := r.db.WithContext(ctx).Where("system_symbol = ?", systemSymbol).Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list waypoints: %w", result.Error)
	}

	waypoints := make([]*shared.Waypoint, 0, len(models))
	for _, model := range models {
		if !r.isFresh(&model) {
			return []*shared.Waypoint{}, nil
		}
		waypoint, err := r.modelToWaypoint(&model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert waypoint %s: %w", model.WaypointSymbol, err)
		}
		waypoints = append(waypoints, waypoint)
	}

	return waypoints, nil
}

// ListBySystemWithTrait retrieves waypoints in a system filtered by a specific trait
func (r *GormWaypointRepository) ListBySystemWithTrait(ctx context.Context, systemSymbol, trait string) ([]*shared.Waypoint, error) {
	var models []WaypointModel
	// Use LIKE with JSON array pattern to find trait in JSON array string
	// Handles both ["TRAIT"] and ["OTHER","TRAIT"] patterns
	pattern := fmt.Sprintf("%%\"%s\"%%", trait)
	result := r.db.WithContext(ctx).
		Where("system_symbol = ? AND traits LIKE ?", systemSymbol, pattern).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list waypoints by trait: %w", result.Error)
	}

	waypoints := make([]*shared.Waypoint, 0, len(models))
	for _, model := range models {
		waypoint, err := r.modelToWaypoint(&model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert waypoint %s: %w", model.WaypointSymbol, err)
		}
		waypoints = append(waypoints, waypoint)
	}

	return waypoints, nil
}

// ListBySystemWithType retrieves waypoints in a system filtered by waypoint type
func (r *GormWaypointRepository) ListBySystemWithType(ctx context.Context, systemSymbol, waypointType string) ([]*shared.Waypoint, error) {
	var models []WaypointModel
	result := r.db.WithContext(ctx).
		Where("system_symbol = ? AND type = ?", systemSymbol, waypointType).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list waypoints by type: %w", result.Error)
	}

	waypoints := make([]*shared.Waypoint, 0, len(models))
	for _, model := range models {
		waypoint, err := r.modelToWaypoint(&model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert waypoint %s: %w", model.WaypointSymbol, err)
		}
		waypoints = append(waypoints, waypoint)
	}

	return waypoints, nil
}

// ListBySystemWithFuel retrieves waypoints in a system that have fuel stations
func (r *GormWaypointRepository) ListBySystemWithFuel(ctx context.Context, systemSymbol string) ([]*shared.Waypoint, error) {
	var models []WaypointModel
	result := r.db.WithContext(ctx).
		Where("system_symbol = ? AND has_fuel = 1", systemSymbol).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list waypoints with fuel: %w", result.Error)
	}

	waypoints := make([]*shared.Waypoint, 0, len(models))
	for _, model := range models {
		waypoint, err := r.modelToWaypoint(&model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert waypoint %s: %w", model.WaypointSymbol, err)
		}
		waypoints = append(waypoints, waypoint)
	}

	return waypoints, nil
}

// Save persists a waypoint
func (r *GormWaypointRepository) Save(ctx context.Context, waypoint *shared.Waypoint) error {
	model, err := r.waypointToModel(waypoint)
	if err != nil {
		return fmt.Errorf("failed to convert waypoint to model: %w", err)
	}

	// Upsert: create or update
	result := r.db.WithContext(ctx).Save(model)
	if result.Error != nil {
		return fmt.Errorf("failed to save waypoint: %w", result.Error)
	}

	return nil
}

// modelToWaypoint converts database model to domain entity
func (r *GormWaypointRepository) modelToWaypoint(model *WaypointModel) (*shared.Waypoint, error) {
	waypoint, err := shared.NewWaypoint(model.WaypointSymbol, model.X, model.Y)
	if err != nil {
		return nil, err
	}

	waypoint.SystemSymbol = model.SystemSymbol
	waypoint.Type = model.Type
	waypoint.HasFuel = model.HasFuel == 1

	// Parse traits JSON array
	if model.Traits != "" {
		var traits []string
		if err := json.Unmarshal([]byte(model.Traits), &traits); err != nil {
			// If parsing fails, leave empty
			traits = []string{}
		}
		waypoint.Traits = traits
	}

	// Parse orbitals JSON array
	if model.Orbitals != "" {
		var orbitals []string
		if err := json.Unmarshal([]byte(model.Orbitals), &orbitals); err != nil {
			// If parsing fails, leave empty
			orbitals = []string{}
		}
		waypoint.Orbitals = orbitals
	}

	return waypoint, nil
}

// waypointToModel converts domain entity to database model
func (r *GormWaypointRepository) waypointToModel(waypoint *shared.Waypoint) (*WaypointModel, error) {
	hasFuel := 0
	if waypoint.HasFuel {
		hasFuel = 1
	}

	var traitsJSON string
	if len(waypoint.Traits) > 0 {
		bytes, err := json.Marshal(waypoint.Traits)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal traits: %w", err)
		}
		traitsJSON = string(bytes)
	}

	var orbitalsJSON string
	if len(waypoint.Orbitals) > 0 {
		bytes, err := json.Marshal(waypoint.Orbitals)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal orbitals: %w", err)
		}
		orbitalsJSON = string(bytes)
	}

	return &WaypointModel{
		WaypointSymbol: waypoint.Symbol,
		SystemSymbol:   waypoint.SystemSymbol,
		Type:           waypoint.Type,
		X:              waypoint.X,
		Y:              waypoint.Y,
		Traits:         traitsJSON,
		HasFuel:        hasFuel,
		Orbitals:       orbitalsJSON,
		SyncedAt:       time.Now().UTC().Format(time.RFC3339),
	}, nil
}
