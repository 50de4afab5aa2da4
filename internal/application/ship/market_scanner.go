package ship

import (
	"context"
	"fmt"

	"github.com/acdtunes/fleetd/internal/application/common"
	"github.com/acdtunes/fleetd/internal/domain/market"
	"github.com/acdtunes/fleetd/internal/domain/player"
	domainPorts "github.com/acdtunes/fleetd/internal/domain/ports"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// MarketScanner fetches live market data for a waypoint and persists a snapshot.
// Scans are best-effort: a failed scan is logged and returned as an error to the
// caller, who decides whether that should abort the surrounding operation.
type MarketScanner struct {
	apiClient    domainPorts.APIClient
	marketRepo   market.MarketRepository
	playerRepo   player.PlayerRepository
	priceHistory market.MarketPriceHistoryRepository
}

func NewMarketScanner(
	apiClient domainPorts.APIClient,
	marketRepo market.MarketRepository,
	playerRepo player.PlayerRepository,
) *MarketScanner {
	return &MarketScanner{
		apiClient:  apiClient,
		marketRepo: marketRepo,
		playerRepo: playerRepo,
	}
}

// SetPriceHistoryRepository turns on per-scan price history recording.
// Optional; without it scans only maintain the current-price snapshot.
func (s *MarketScanner) SetPriceHistoryRepository(repo market.MarketPriceHistoryRepository) {
	s.priceHistory = repo
}

// ScanAndSaveMarket scans the market at waypointSymbol and upserts the snapshot.
func (s *MarketScanner) ScanAndSaveMarket(ctx context.Context, playerID int, waypointSymbol string) error {
	logger := common.LoggerFromContext(ctx)

	pid, err := shared.NewPlayerID(playerID)
	if err != nil {
		return fmt.Errorf("invalid player id %d: %w", playerID, err)
	}
	p, err := s.playerRepo.FindByID(ctx, pid)
	if err != nil {
		return fmt.Errorf("failed to resolve player %d: %w", playerID, err)
	}

	systemSymbol := shared.ExtractSystemSymbol(waypointSymbol)
	logger.Log("INFO", fmt.Sprintf("scanning market at %s", waypointSymbol), nil)

	marketData, err := s.apiClient.GetMarket(ctx, systemSymbol, waypointSymbol, p.Token)
	if err != nil {
		logger.Log("ERROR", fmt.Sprintf("failed to fetch market data for %s: %v", waypointSymbol, err), nil)
		return fmt.Errorf("failed to get market data for %s: %w", waypointSymbol, err)
	}

	tradeGoods, err := s.convertAPIGoodsToDomain(marketData.TradeGoods)
	if err != nil {
		return err
	}

	if err := s.marketRepo.UpsertMarketData(ctx, playerID, waypointSymbol, tradeGoods); err != nil {
		logger.Log("ERROR", fmt.Sprintf("failed to persist market data for %s: %v", waypointSymbol, err), nil)
		return fmt.Errorf("failed to persist market data: %w", err)
	}

	if s.priceHistory != nil {
		for i := range tradeGoods {
			good := &tradeGoods[i]
			history, err := market.NewMarketPriceHistory(
				waypointSymbol, good.Symbol(), pid,
				good.PurchasePrice(), good.SellPrice(),
				good.Supply(), good.Activity(), good.TradeVolume(),
			)
			if err != nil {
				continue
			}
			if err := s.priceHistory.RecordPriceChange(ctx, history); err != nil {
				// History is best-effort; the snapshot is already saved.
				logger.Log("WARNING", fmt.Sprintf("failed to record price history for %s at %s: %v", good.Symbol(), waypointSymbol, err), nil)
			}
		}
	}

	logger.Log("INFO", fmt.Sprintf("scanned and saved market data for %s (%d goods)", waypointSymbol, len(tradeGoods)), nil)
	return nil
}

func (s *MarketScanner) convertAPIGoodsToDomain(apiGoods []domainPorts.TradeGoodData) ([]market.TradeGood, error) {
	tradeGoods := make([]market.TradeGood, 0, len(apiGoods))
	for _, apiGood := range apiGoods {
		good, err := market.NewTradeGood(
			apiGood.Symbol,
			&apiGood.Supply,
			&apiGood.Activity,
			apiGood.PurchasePrice,
			apiGood.SellPrice,
			apiGood.TradeVolume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create trade good: %w", err)
		}
		tradeGoods = append(tradeGoods, *good)
	}
	return tradeGoods, nil
}
