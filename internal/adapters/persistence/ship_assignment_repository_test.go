package persistence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/test/helpers"
)

func TestShipAssignment_AssignAndRelease(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c1", nil))
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByShip(ctx, "SHIP-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c1", found.ContainerID())

	require.NoError(t, repo.Release(ctx, "SHIP-1", 1, "done"))

	found, err = repo.FindByShip(ctx, "SHIP-1", 1)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestShipAssignment_SecondAssignFailsWhileActive(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c1", nil))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c2", nil))
	require.NoError(t, err)
	assert.False(t, ok, "second assign must fail while first is active")

	// The winning container still holds the lock.
	found, err := repo.FindByShip(ctx, "SHIP-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c1", found.ContainerID())
}

func TestShipAssignment_AssignAfterReleaseSucceeds(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c1", nil))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, "SHIP-1", 1, "finished"))

	ok, err = repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c2", nil))
	require.NoError(t, err)
	assert.True(t, ok, "assign after release must succeed")

	found, err := repo.FindByShip(ctx, "SHIP-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c2", found.ContainerID())
}

func TestShipAssignment_ReleaseIsIdempotent(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	// Releasing a ship that was never assigned is a no-op, not an error.
	require.NoError(t, repo.Release(ctx, "SHIP-NONE", 1, "noop"))

	ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "c1", nil))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Release(ctx, "SHIP-1", 1, "first"))
	require.NoError(t, repo.Release(ctx, "SHIP-1", 1, "second"))
}

func TestShipAssignment_ConcurrentAssignExactlyOneWins(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	const contenders = 8
	results := make([]bool, contenders)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			start.Wait()
			ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-1", 1, "container", nil))
			if err != nil {
				// SQLite can report busy under write contention; that
				// contender simply lost the race.
				return
			}
			results[idx] = ok
		}(i)
	}
	start.Done()
	wg.Wait()

	winners := 0
	for _, won := range results {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent assign may win")
}

func TestShipAssignment_DistinctShipsLockIndependently(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	for _, ship := range []string{"SHIP-1", "SHIP-2", "SHIP-3"} {
		ok, err := repo.Assign(ctx, container.NewShipAssignment(ship, 1, "c-"+ship, nil))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	count, err := repo.CountByContainerPrefix(ctx, "c-SHIP", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestShipAssignment_ReleaseByContainerAndReleaseAll(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewShipAssignmentRepository(db)
	ctx := context.Background()

	for _, ship := range []string{"SHIP-1", "SHIP-2"} {
		ok, err := repo.Assign(ctx, container.NewShipAssignment(ship, 1, "c1", nil))
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := repo.Assign(ctx, container.NewShipAssignment("SHIP-3", 1, "c2", nil))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.ReleaseByContainer(ctx, "c1", 1, "container stopped"))

	for _, ship := range []string{"SHIP-1", "SHIP-2"} {
		found, err := repo.FindByShip(ctx, ship, 1)
		require.NoError(t, err)
		assert.Nil(t, found)
	}
	found, err := repo.FindByShip(ctx, "SHIP-3", 1)
	require.NoError(t, err)
	require.NotNil(t, found)

	released, err := repo.ReleaseAllActive(ctx, "daemon_restart")
	require.NoError(t, err)
	assert.Equal(t, 1, released)
}
