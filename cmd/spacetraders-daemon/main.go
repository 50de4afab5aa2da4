package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/acdtunes/fleetd/internal/adapters/api"
	"github.com/acdtunes/fleetd/internal/adapters/graph"
	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/application/common"
	contractCmd "github.com/acdtunes/fleetd/internal/application/contract/commands"
	appPlayer "github.com/acdtunes/fleetd/internal/application/player"
	scoutingCmd "github.com/acdtunes/fleetd/internal/application/scouting/commands"
	appShip "github.com/acdtunes/fleetd/internal/application/ship"
	"github.com/acdtunes/fleetd/internal/controlsocket"
	domainNavigation "github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/shared"
	"github.com/acdtunes/fleetd/internal/infrastructure/config"
	"github.com/acdtunes/fleetd/internal/infrastructure/database"
	"github.com/acdtunes/fleetd/internal/infrastructure/pidfile"
	"github.com/acdtunes/fleetd/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to the ./config.yaml search path)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pf := pidfile.New(cfg.Daemon.PIDFile)
	if err := pf.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire pid file %s: %w", cfg.Daemon.PIDFile, err)
	}
	defer pf.Release()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	dbHandle := database.NewHandle(db)
	defer dbHandle.Close()

	clock := shared.NewRealClock()

	// Repositories
	playerRepo := persistence.NewGormPlayerRepository(db)
	waypointRepo := persistence.NewGormWaypointRepositoryWithTTL(db, cfg.Daemon.WaypointCacheTTL)
	containerRepo := persistence.NewContainerRepository(db)
	logRepo := persistence.NewGormContainerLogRepository(db, clock)
	assignRepo := persistence.NewShipAssignmentRepository(db)
	marketRepo := persistence.NewMarketRepository(db)
	contractRepo := persistence.NewGormContractRepository(db)
	priceHistoryRepo := persistence.NewGormMarketPriceHistoryRepository(db)
	purchaseHistoryRepo := persistence.NewGormPurchaseHistoryRepository(db)
	converter := api.NewWaypointConverter()
	systemGraphRepo := persistence.NewGormSystemGraphRepository(db, converter)

	// Game API client and the graph/waypoint cache stack
	apiClient := api.NewSpaceTradersClientWithConfig(cfg.API.BaseURL, clock)
	graphBuilder := api.NewGraphBuilder(apiClient, playerRepo, waypointRepo)
	graphService := graph.NewGraphService(systemGraphRepo, waypointRepo, graphBuilder)
	shipRepo := api.NewShipRepository(apiClient, playerRepo, waypointRepo, graphService, db, clock)

	// Application services
	waypointEnricher := appShip.NewWaypointEnricher(waypointRepo, converter)
	routePlanner := appShip.NewRoutePlanner()
	routeExecutor := domainNavigation.NewExecutor(shipRepo, clock)
	marketScanner := appShip.NewMarketScanner(apiClient, marketRepo, playerRepo)
	marketScanner.SetPriceHistoryRepository(priceHistoryRepo)
	eventBus := appShip.NewShipEventBus()

	navigateHandler := appShip.NewNavigateShipHandler(shipRepo, graphService, waypointEnricher, routePlanner, routeExecutor)
	navigateHandler.SetEventBus(eventBus)

	mediator := common.NewMediator()
	mediator.RegisterMiddleware(common.PlayerTokenMiddleware(playerRepo))
	if fallback := cfg.API.FallbackToken; fallback != "" {
		// SPACETRADERS_TOKEN backstops requests whose player row carries no
		// credential (first-run registration).
		mediator.RegisterMiddleware(func(ctx context.Context, req common.Request, next common.HandlerFunc) (common.Response, error) {
			if _, err := common.PlayerTokenFromContext(ctx); err != nil {
				ctx = common.WithPlayerToken(ctx, fallback)
			}
			return next(ctx, req)
		})
	}

	batchWorkflowHandler := contractCmd.NewBatchContractWorkflowHandler(mediator, shipRepo, contractRepo, marketRepo)
	batchWorkflowHandler.SetPurchaseHistoryRepository(purchaseHistoryRepo)

	registrations := []error{
		// Player
		common.RegisterHandler[*appPlayer.RegisterPlayerCommand](mediator, appPlayer.NewRegisterPlayerHandler(playerRepo)),
		common.RegisterHandler[*appPlayer.SyncPlayerCommand](mediator, appPlayer.NewSyncPlayerHandler(playerRepo, apiClient)),
		common.RegisterHandler[*appPlayer.GetPlayerCommand](mediator, appPlayer.NewGetPlayerHandler(playerRepo, apiClient)),
		common.RegisterHandler[*appPlayer.ListPlayersCommand](mediator, appPlayer.NewListPlayersHandler(playerRepo)),

		// Ship operations
		common.RegisterHandler[*appShip.GetShipQuery](mediator, appShip.NewGetShipHandler(shipRepo, playerRepo)),
		common.RegisterHandler[*appShip.ListShipsQuery](mediator, appShip.NewListShipsHandler(shipRepo, playerRepo)),
		common.RegisterHandler[*appShip.DockShipCommand](mediator, appShip.NewDockShipHandler(shipRepo)),
		common.RegisterHandler[*appShip.OrbitShipCommand](mediator, appShip.NewOrbitShipHandler(shipRepo)),
		common.RegisterHandler[*appShip.RefuelShipCommand](mediator, appShip.NewRefuelShipHandler(shipRepo)),
		common.RegisterHandler[*appShip.SetFlightModeCommand](mediator, appShip.NewSetFlightModeHandler(shipRepo)),
		common.RegisterHandler[*appShip.NavigateShipCommand](mediator, navigateHandler),
		common.RegisterHandler[*appShip.NavigateToWaypointCommand](mediator, appShip.NewNavigateToWaypointHandler(shipRepo, waypointRepo)),
		common.RegisterHandler[*appShip.PurchaseCargoCommand](mediator, appShip.NewPurchaseCargoHandler(shipRepo, playerRepo, apiClient, marketRepo)),
		common.RegisterHandler[*appShip.SellCargoCommand](mediator, appShip.NewSellCargoHandler(shipRepo, playerRepo, apiClient, marketRepo)),
		common.RegisterHandler[*appShip.JettisonCargoCommand](mediator, appShip.NewJettisonCargoHandler(shipRepo, playerRepo, apiClient)),

		// Scouting
		common.RegisterHandler[*scoutingCmd.ScoutTourCommand](mediator, scoutingCmd.NewScoutTourHandler(shipRepo, mediator, marketScanner)),
		common.RegisterHandler[*scoutingCmd.ScanMarketCommand](mediator, scoutingCmd.NewScanMarketHandler(mediator, marketScanner)),

		// Contracts
		common.RegisterHandler[*contractCmd.NegotiateContractCommand](mediator, contractCmd.NewNegotiateContractHandler(contractRepo, shipRepo, playerRepo, apiClient)),
		common.RegisterHandler[*contractCmd.AcceptContractCommand](mediator, contractCmd.NewAcceptContractHandler(contractRepo, playerRepo, apiClient)),
		common.RegisterHandler[*contractCmd.DeliverContractCommand](mediator, contractCmd.NewDeliverContractHandler(contractRepo, apiClient, playerRepo)),
		common.RegisterHandler[*contractCmd.FulfillContractCommand](mediator, contractCmd.NewFulfillContractHandler(contractRepo, playerRepo, apiClient)),
		common.RegisterHandler[*contractCmd.BatchContractWorkflowCommand](mediator, batchWorkflowHandler),
	}
	for _, regErr := range registrations {
		if regErr != nil {
			return fmt.Errorf("failed to register handler: %w", regErr)
		}
	}

	// Container runtime
	registry := runtime.NewRegistry()
	if err := runtime.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register container commands: %w", err)
	}

	supervisor := runtime.NewSupervisor(
		mediator, registry, containerRepo, logRepo, assignRepo, dbHandle, clock,
		runtime.Options{
			DefaultInterval: cfg.Daemon.IterationInterval,
			GracePeriod:     cfg.Daemon.StopGracePeriod,
			MaxContainers:   cfg.Daemon.MaxContainers,
		},
	)
	supervisor.SetEventPublisher(eventBus)

	// Release locks orphaned by the previous run, then reboot containers
	// that were RUNNING when the daemon went down.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
	if released, err := assignRepo.ReleaseAllActive(startupCtx, "daemon_restart"); err != nil {
		log.Printf("warning: failed to release stale ship assignments: %v", err)
	} else if released > 0 {
		log.Printf("released %d stale ship assignment(s)", released)
	}
	if err := supervisor.Recover(startupCtx); err != nil {
		log.Printf("warning: container recovery failed: %v", err)
	}
	cancelStartup()

	// Control socket
	if dir := filepath.Dir(cfg.Daemon.SocketPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
	}
	server := controlsocket.NewServer(cfg.Daemon.SocketPath, supervisor)
	if err := server.Listen(); err != nil {
		return err
	}
	log.Printf("daemon listening on %s", cfg.Daemon.SocketPath)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("control socket server: %w", err)
		}
	}

	// Stop accepting first, then cancel containers with grace; storage
	// closes last (deferred) so final status writes still land.
	if err := server.Close(); err != nil {
		log.Printf("warning: control socket close: %v", err)
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
	supervisor.Shutdown(shutdownCtx)
	cancelShutdown()

	log.Printf("shutdown complete")
	return nil
}
