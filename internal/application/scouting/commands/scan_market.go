package commands

import (
	"context"
	"fmt"

	"github.com/acdtunes/fleetd/internal/application/common"
	"github.com/acdtunes/fleetd/internal/application/ship"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ScanMarketCommand visits a single market waypoint and records its trade
// goods. This is the work-item unit for market worker containers: the worker
// dequeues one waypoint per iteration and dispatches one of these.
type ScanMarketCommand struct {
	PlayerID   shared.PlayerID
	ShipSymbol string
	Waypoint   string
}

// ScanMarketResponse reports the visited waypoint.
type ScanMarketResponse struct {
	Waypoint string
}

// ScanMarketHandler navigates the ship to the waypoint, then scans and
// persists the market snapshot there.
type ScanMarketHandler struct {
	mediator      common.Mediator
	marketScanner *ship.MarketScanner
}

func NewScanMarketHandler(mediator common.Mediator, marketScanner *ship.MarketScanner) *ScanMarketHandler {
	return &ScanMarketHandler{
		mediator:      mediator,
		marketScanner: marketScanner,
	}
}

func (h *ScanMarketHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*ScanMarketCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type")
	}

	logger := common.LoggerFromContext(ctx)
	logger.Log("INFO", fmt.Sprintf("scanning market %s with ship %s", cmd.Waypoint, cmd.ShipSymbol), nil)

	_, err := h.mediator.Send(ctx, &ship.NavigateShipCommand{
		ShipSymbol:   cmd.ShipSymbol,
		Destination:  cmd.Waypoint,
		PlayerID:     cmd.PlayerID,
		PreferCruise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reach market %s: %w", cmd.Waypoint, err)
	}

	if err := h.marketScanner.ScanAndSaveMarket(ctx, cmd.PlayerID.Value(), cmd.Waypoint); err != nil {
		return nil, fmt.Errorf("failed to scan market %s: %w", cmd.Waypoint, err)
	}

	return &ScanMarketResponse{Waypoint: cmd.Waypoint}, nil
}
