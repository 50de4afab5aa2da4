package commands

import (
	"context"
	"fmt"
	"math"

	"github.com/acdtunes/fleetd/internal/application/common"
	contractTypes "github.com/acdtunes/fleetd/internal/application/contract/types"
	appShip "github.com/acdtunes/fleetd/internal/application/ship"
	domainContract "github.com/acdtunes/fleetd/internal/domain/contract"
	"github.com/acdtunes/fleetd/internal/domain/market"
	"github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// Type aliases for convenience
type BatchContractWorkflowCommand = contractTypes.BatchContractWorkflowCommand
type BatchContractWorkflowResponse = contractTypes.BatchContractWorkflowResponse

// BatchContractWorkflowHandler drives one ship through a bounded run of
// contracts: negotiate (or resume an active one) -> accept -> buy and
// deliver every trade good the contract calls for -> fulfill. Each step is
// dispatched through the mediator so the same authorization middleware and
// per-operation handlers used interactively also govern this unattended
// run, and a failed contract doesn't stop the remaining ones.
type BatchContractWorkflowHandler struct {
	mediator        common.Mediator
	shipRepo        navigation.ShipRepository
	contractRepo    domainContract.ContractRepository
	purchaseHistory domainContract.PurchaseHistoryRepository
	marketRepo      market.MarketRepository
}

// NewBatchContractWorkflowHandler creates a new batch contract workflow handler.
func NewBatchContractWorkflowHandler(
	mediator common.Mediator,
	shipRepo navigation.ShipRepository,
	contractRepo domainContract.ContractRepository,
	marketRepo market.MarketRepository,
) *BatchContractWorkflowHandler {
	return &BatchContractWorkflowHandler{
		mediator:     mediator,
		shipRepo:     shipRepo,
		contractRepo: contractRepo,
		marketRepo:   marketRepo,
	}
}

// SetPurchaseHistoryRepository turns on purchase-location recording so
// future workflows (and operators) can see which markets actually supplied
// contract goods. Optional.
func (h *BatchContractWorkflowHandler) SetPurchaseHistoryRepository(repo domainContract.PurchaseHistoryRepository) {
	h.purchaseHistory = repo
}

func (h *BatchContractWorkflowHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	cmd, ok := request.(*BatchContractWorkflowCommand)
	if !ok {
		return nil, fmt.Errorf("invalid request type")
	}

	maxContracts := cmd.MaxContracts
	if maxContracts <= 0 {
		maxContracts = 1
	}

	result := &BatchContractWorkflowResponse{Errors: []string{}}

	for i := 0; i < maxContracts; i++ {
		if err := h.runOne(ctx, cmd, result); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("contract %d: %s", i+1, err.Error()))
			continue
		}
	}

	return result, nil
}

func (h *BatchContractWorkflowHandler) runOne(
	ctx context.Context,
	cmd *BatchContractWorkflowCommand,
	result *BatchContractWorkflowResponse,
) error {
	active, err := h.contractRepo.FindActiveContracts(ctx, cmd.PlayerID.Value())
	if err != nil {
		return fmt.Errorf("failed to check active contracts: %w", err)
	}

	var current *domainContract.Contract
	if len(active) > 0 {
		current = active[0]
	} else {
		negotiateResp, err := h.mediator.Send(ctx, &NegotiateContractCommand{
			ShipSymbol: cmd.ShipSymbol,
			PlayerID:   cmd.PlayerID,
		})
		if err != nil {
			return fmt.Errorf("failed to negotiate contract: %w", err)
		}
		negotiated := negotiateResp.(*NegotiateContractResponse)
		current = negotiated.Contract
		if negotiated.WasNegotiated {
			result.Negotiated++
		}
	}

	if !current.Accepted() {
		acceptResp, err := h.mediator.Send(ctx, &AcceptContractCommand{
			ContractID: current.ContractID(),
			PlayerID:   cmd.PlayerID,
		})
		if err != nil {
			return fmt.Errorf("failed to accept contract: %w", err)
		}
		current = acceptResp.(*AcceptContractResponse).Contract
		result.Accepted++
	}

	for _, delivery := range current.Terms().Deliveries {
		remaining := delivery.UnitsRequired - delivery.UnitsFulfilled
		if remaining <= 0 {
			continue
		}

		current, err = h.fulfillDelivery(ctx, cmd, current, delivery, remaining)
		if err != nil {
			return err
		}
		result.Delivered++
	}

	fulfillResp, err := h.mediator.Send(ctx, &FulfillContractCommand{
		ContractID: current.ContractID(),
		PlayerID:   cmd.PlayerID,
	})
	if err != nil {
		return fmt.Errorf("failed to fulfill contract: %w", err)
	}
	_ = fulfillResp
	result.Fulfilled++

	return nil
}

func (h *BatchContractWorkflowHandler) fulfillDelivery(
	ctx context.Context,
	cmd *BatchContractWorkflowCommand,
	current *domainContract.Contract,
	delivery domainContract.Delivery,
	remaining int,
) (*domainContract.Contract, error) {
	ship, err := h.shipRepo.FindBySymbol(ctx, cmd.ShipSymbol, cmd.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ship: %w", err)
	}

	owned := ship.Cargo().GetItemUnits(delivery.TradeSymbol)
	if ship.Cargo().HasItemsOtherThan(delivery.TradeSymbol) && (owned < remaining || ship.Cargo().IsFull()) {
		if err := h.jettisonOtherCargo(ctx, ship, delivery.TradeSymbol, cmd.PlayerID); err != nil {
			return nil, err
		}
		ship, err = h.shipRepo.FindBySymbol(ctx, cmd.ShipSymbol, cmd.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload ship after jettison: %w", err)
		}
		owned = ship.Cargo().GetItemUnits(delivery.TradeSymbol)
	}

	toPurchase := remaining - owned
	if toPurchase <= 0 {
		return h.deliverUnits(ctx, cmd, current, delivery, remaining)
	}

	systemSymbol := shared.ExtractSystemSymbol(ship.CurrentLocation().Symbol)
	cheapest, err := h.marketRepo.FindCheapestMarketSelling(ctx, delivery.TradeSymbol, systemSymbol, cmd.PlayerID.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to find a market selling %s: %w", delivery.TradeSymbol, err)
	}

	trips := int(math.Ceil(float64(toPurchase) / float64(ship.Cargo().Capacity)))
	for trip := 0; trip < trips && toPurchase > 0; trip++ {
		unitsThisTrip := toPurchase
		if unitsThisTrip > ship.Cargo().Capacity {
			unitsThisTrip = ship.Cargo().Capacity
		}

		if err := h.navigate(ctx, ship, cheapest.WaypointSymbol, cmd.PlayerID); err != nil {
			return nil, fmt.Errorf("failed to navigate to market: %w", err)
		}
		if err := h.dock(ctx, ship, cmd.PlayerID); err != nil {
			return nil, fmt.Errorf("failed to dock at market: %w", err)
		}

		if _, err := h.mediator.Send(ctx, &appShip.PurchaseCargoCommand{
			ShipSymbol: ship.ShipSymbol(),
			GoodSymbol: delivery.TradeSymbol,
			Units:      unitsThisTrip,
			PlayerID:   cmd.PlayerID,
		}); err != nil {
			return nil, fmt.Errorf("failed to purchase cargo: %w", err)
		}
		h.recordPurchase(ctx, cmd.PlayerID.Value(), systemSymbol, cheapest.WaypointSymbol, delivery.TradeSymbol, current.ContractID())

		if err := h.navigate(ctx, ship, delivery.DestinationSymbol, cmd.PlayerID); err != nil {
			return nil, fmt.Errorf("failed to navigate to delivery: %w", err)
		}
		if err := h.dock(ctx, ship, cmd.PlayerID); err != nil {
			return nil, fmt.Errorf("failed to dock at delivery: %w", err)
		}

		deliverResp, err := h.mediator.Send(ctx, &DeliverContractCommand{
			ContractID:  current.ContractID(),
			ShipSymbol:  cmd.ShipSymbol,
			TradeSymbol: delivery.TradeSymbol,
			Units:       unitsThisTrip,
			PlayerID:    cmd.PlayerID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to deliver cargo: %w", err)
		}
		current = deliverResp.(*DeliverContractResponse).Contract
		toPurchase -= unitsThisTrip

		ship, err = h.shipRepo.FindBySymbol(ctx, cmd.ShipSymbol, cmd.PlayerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload ship: %w", err)
		}
	}

	return current, nil
}

// recordPurchase is best-effort bookkeeping: a failed write never fails the
// workflow that already holds the cargo.
func (h *BatchContractWorkflowHandler) recordPurchase(ctx context.Context, playerID int, systemSymbol, waypointSymbol, tradeGood, contractID string) {
	if h.purchaseHistory == nil {
		return
	}
	history, err := domainContract.NewPurchaseHistory(playerID, systemSymbol, waypointSymbol, tradeGood, contractID)
	if err != nil {
		return
	}
	if err := h.purchaseHistory.Add(ctx, history); err != nil {
		common.LoggerFromContext(ctx).Log("WARNING", fmt.Sprintf("failed to record purchase history at %s: %v", waypointSymbol, err), nil)
	}
}

// deliverUnits handles the case where the ship already carries enough of the
// trade good and only needs to travel to the destination and hand it over.
func (h *BatchContractWorkflowHandler) deliverUnits(
	ctx context.Context,
	cmd *BatchContractWorkflowCommand,
	current *domainContract.Contract,
	delivery domainContract.Delivery,
	units int,
) (*domainContract.Contract, error) {
	ship, err := h.shipRepo.FindBySymbol(ctx, cmd.ShipSymbol, cmd.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ship: %w", err)
	}
	if err := h.navigate(ctx, ship, delivery.DestinationSymbol, cmd.PlayerID); err != nil {
		return nil, fmt.Errorf("failed to navigate to delivery: %w", err)
	}
	if err := h.dock(ctx, ship, cmd.PlayerID); err != nil {
		return nil, fmt.Errorf("failed to dock at delivery: %w", err)
	}

	deliverResp, err := h.mediator.Send(ctx, &DeliverContractCommand{
		ContractID:  current.ContractID(),
		ShipSymbol:  cmd.ShipSymbol,
		TradeSymbol: delivery.TradeSymbol,
		Units:       units,
		PlayerID:    cmd.PlayerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deliver cargo: %w", err)
	}
	return deliverResp.(*DeliverContractResponse).Contract, nil
}

func (h *BatchContractWorkflowHandler) jettisonOtherCargo(ctx context.Context, ship *navigation.Ship, keepSymbol string, playerID shared.PlayerID) error {
	for _, item := range ship.Cargo().Inventory {
		if item.Symbol == keepSymbol || item.Units == 0 {
			continue
		}
		if _, err := h.mediator.Send(ctx, &appShip.JettisonCargoCommand{
			ShipSymbol: ship.ShipSymbol(),
			PlayerID:   playerID,
			GoodSymbol: item.Symbol,
			Units:      item.Units,
		}); err != nil {
			return fmt.Errorf("failed to jettison %s: %w", item.Symbol, err)
		}
	}
	return nil
}

func (h *BatchContractWorkflowHandler) navigate(ctx context.Context, ship *navigation.Ship, destination string, playerID shared.PlayerID) error {
	if ship.CurrentLocation().Symbol == destination {
		return nil
	}
	_, err := h.mediator.Send(ctx, &appShip.NavigateShipCommand{
		ShipSymbol:  ship.ShipSymbol(),
		Destination: destination,
		PlayerID:    playerID,
	})
	return err
}

func (h *BatchContractWorkflowHandler) dock(ctx context.Context, ship *navigation.Ship, playerID shared.PlayerID) error {
	_, err := h.mediator.Send(ctx, &appShip.DockShipCommand{
		ShipSymbol: ship.ShipSymbol(),
		PlayerID:   playerID,
	})
	return err
}
