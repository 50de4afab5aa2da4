package common

import (
	"context"
	"fmt"
	"reflect"

	"github.com/acdtunes/fleetd/internal/domain/player"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// Context keys for passing authentication data through context. Offset from
// the logger key so the two context-key enums never collide.
type authContextKey int

const (
	playerTokenKey authContextKey = iota + 1000
)

// WithPlayerToken injects a player authentication token into the context.
func WithPlayerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, playerTokenKey, token)
}

// PlayerTokenFromContext extracts the player authentication token from context.
func PlayerTokenFromContext(ctx context.Context) (string, error) {
	token, ok := ctx.Value(playerTokenKey).(string)
	if !ok || token == "" {
		return "", fmt.Errorf("player token not found in context")
	}
	return token, nil
}

// PlayerTokenMiddleware resolves the Player named by a request's PlayerID or
// AgentSymbol field (via reflection, so every command/query type qualifies
// without boilerplate) and injects its remote-API token into the context
// ahead of the handler.
func PlayerTokenMiddleware(playerRepo player.PlayerRepository) Middleware {
	return func(ctx context.Context, request Request, next HandlerFunc) (Response, error) {
		playerID, agentSymbol := extractPlayerIdentifier(request)

		var playerEntity *player.Player
		var err error

		if !playerID.IsZero() {
			playerEntity, err = playerRepo.FindByID(ctx, playerID)
			if err != nil {
				return nil, fmt.Errorf("failed to find player by ID %s: %w", playerID.String(), err)
			}
		} else if agentSymbol != "" {
			playerEntity, err = playerRepo.FindByAgentSymbol(ctx, agentSymbol)
			if err != nil {
				return nil, fmt.Errorf("failed to find player by agent symbol %s: %w", agentSymbol, err)
			}
		}

		if playerEntity != nil {
			ctx = WithPlayerToken(ctx, playerEntity.Token)
		}

		return next(ctx, request)
	}
}

// extractPlayerIdentifier uses reflection to read a PlayerID/AgentSymbol field
// off an arbitrary request struct. Either or both may come back zero.
func extractPlayerIdentifier(request Request) (shared.PlayerID, string) {
	var playerID shared.PlayerID
	var agentSymbol string

	requestValue := reflect.ValueOf(request)
	if requestValue.Kind() == reflect.Ptr {
		requestValue = requestValue.Elem()
	}
	if requestValue.Kind() != reflect.Struct {
		return shared.PlayerID{}, ""
	}

	requestType := requestValue.Type()

	if field, found := requestType.FieldByName("PlayerID"); found {
		fieldValue := requestValue.FieldByName("PlayerID")
		switch {
		case field.Type.String() == "shared.PlayerID":
			playerID = fieldValue.Interface().(shared.PlayerID)
		case field.Type.Kind() == reflect.Int:
			if intVal := int(fieldValue.Int()); intVal > 0 {
				playerID, _ = shared.NewPlayerID(intVal)
			}
		case field.Type.Kind() == reflect.Uint:
			if uintVal := int(fieldValue.Uint()); uintVal > 0 {
				playerID, _ = shared.NewPlayerID(uintVal)
			}
		}
	}

	if _, found := requestType.FieldByName("AgentSymbol"); found {
		fieldValue := requestValue.FieldByName("AgentSymbol")
		if fieldValue.Kind() == reflect.String {
			agentSymbol = fieldValue.String()
		}
	}

	return playerID, agentSymbol
}
