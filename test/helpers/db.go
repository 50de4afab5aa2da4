// Package helpers provides shared test infrastructure: in-memory databases
// with the full schema migrated, ready for repository and integration tests.
package helpers

import (
	"fmt"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/acdtunes/fleetd/internal/infrastructure/database"
)

// NewTestDB returns a fresh in-memory SQLite database with all models
// migrated. Each call gets its own isolated database; the connection is
// closed when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewTestConnection()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// Shared test database for suites (the BDD runner) that pay the migration
// cost once instead of per scenario.
var (
	sharedDB   *gorm.DB
	sharedOnce sync.Once
	sharedErr  error
)

// InitializeSharedTestDB creates the process-wide shared test database.
func InitializeSharedTestDB() error {
	sharedOnce.Do(func() {
		sharedDB, sharedErr = database.NewTestConnection()
	})
	return sharedErr
}

// SharedTestDB returns the shared database; InitializeSharedTestDB must have
// been called first.
func SharedTestDB() (*gorm.DB, error) {
	if sharedDB == nil {
		return nil, fmt.Errorf("shared test database not initialized")
	}
	return sharedDB, nil
}

// CloseSharedTestDB tears down the shared database.
func CloseSharedTestDB() {
	if sharedDB != nil {
		_ = database.Close(sharedDB)
		sharedDB = nil
	}
}

// ResetSharedTestDB truncates every table in the shared database so a
// scenario starts from a clean slate without re-migrating.
func ResetSharedTestDB() error {
	if sharedDB == nil {
		return fmt.Errorf("shared test database not initialized")
	}
	tables := []string{
		"container_logs", "containers", "ships_assignments", "ships",
		"market_data", "market_price_history", "contracts",
		"contract_purchase_history", "waypoints", "system_graphs", "players",
	}
	for _, table := range tables {
		if err := sharedDB.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to reset table %s: %w", table, err)
		}
	}
	return nil
}
