package player

import "github.com/acdtunes/fleetd/internal/domain/shared"

// Player represents a SpaceTraders agent/player
type Player struct {
	ID              shared.PlayerID
	AgentSymbol     string
	Token           string
	Credits         int
	StartingFaction string
	Metadata        map[string]interface{}
}

// NewPlayer creates a new player. ID is zero-valued for a not-yet-persisted
// player; the database assigns the real ID on insert (autoincrement).
func NewPlayer(agentSymbol, token string) *Player {
	return &Player{
		AgentSymbol: agentSymbol,
		Token:       token,
		Metadata:    make(map[string]interface{}),
	}
}
