package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/domain/player"
	"github.com/acdtunes/fleetd/internal/domain/shared"
	"github.com/acdtunes/fleetd/test/helpers"
)

func TestPlayerRepository_AddAndFind(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewGormPlayerRepository(db)

	p := &player.Player{
		AgentSymbol: "TEST-AGENT",
		Token:       "test-token-123",
		Metadata: map[string]interface{}{
			"faction": "COSMIC",
		},
	}

	err := repo.Add(context.Background(), p)
	require.NoError(t, err)
	require.False(t, p.ID.IsZero())

	found, err := repo.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, p.ID.Equals(found.ID))
	assert.Equal(t, p.AgentSymbol, found.AgentSymbol)
	assert.Equal(t, p.Token, found.Token)
	assert.NotNil(t, found.Metadata)
}

func TestPlayerRepository_FindByAgentSymbol(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewGormPlayerRepository(db)

	p := &player.Player{
		AgentSymbol: "AGENT-2",
		Token:       "token-456",
	}

	err := repo.Add(context.Background(), p)
	require.NoError(t, err)

	found, err := repo.FindByAgentSymbol(context.Background(), "AGENT-2")
	require.NoError(t, err)
	assert.True(t, p.ID.Equals(found.ID))
	assert.Equal(t, p.AgentSymbol, found.AgentSymbol)
}

func TestPlayerRepository_NotFound(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewGormPlayerRepository(db)

	_, err := repo.FindByID(context.Background(), shared.MustNewPlayerID(999))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "player not found")
}

func TestPlayerRepository_ListAll(t *testing.T) {
	db := helpers.NewTestDB(t)
	repo := persistence.NewGormPlayerRepository(db)

	require.NoError(t, repo.Add(context.Background(), &player.Player{AgentSymbol: "A", Token: "t1"}))
	require.NoError(t, repo.Add(context.Background(), &player.Player{AgentSymbol: "B", Token: "t2"}))

	players, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, players, 2)
}
