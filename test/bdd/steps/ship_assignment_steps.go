package steps

import (
	"context"
	"fmt"
	"sync"

	"github.com/cucumber/godog"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/test/helpers"
)

type shipAssignmentContext struct {
	repo       *persistence.ShipAssignmentRepositoryGORM
	lastResult bool
	lastErr    error
	raceWins   int
}

// InitializeShipAssignmentScenario registers steps for the database-backed
// ship lock: single-winner assignment, idempotent release, and the
// assign-release-assign cycle.
func InitializeShipAssignmentScenario(sc *godog.ScenarioContext) {
	ctx := &shipAssignmentContext{}

	sc.Step(`^a clean assignment table$`, ctx.cleanTable)
	sc.Step(`^container "([^"]*)" assigns ship "([^"]*)" for player (\d+)$`, ctx.assign)
	sc.Step(`^container "([^"]*)" holds ship "([^"]*)" for player (\d+)$`, ctx.holds)
	sc.Step(`^the assignment succeeds$`, ctx.assignmentSucceeds)
	sc.Step(`^the assignment fails$`, ctx.assignmentFails)
	sc.Step(`^ship "([^"]*)" is held by container "([^"]*)" for player (\d+)$`, ctx.heldBy)
	sc.Step(`^ship "([^"]*)" is released for player (\d+) with reason "([^"]*)"$`, ctx.release)
	sc.Step(`^no error occurred$`, ctx.noError)
	sc.Step(`^containers "([^"]*)" and "([^"]*)" race to assign ship "([^"]*)" for player (\d+)$`, ctx.race)
	sc.Step(`^exactly one of them wins$`, ctx.exactlyOneWins)
}

func (c *shipAssignmentContext) cleanTable() error {
	db, err := helpers.SharedTestDB()
	if err != nil {
		return err
	}
	if err := helpers.ResetSharedTestDB(); err != nil {
		return err
	}
	c.repo = persistence.NewShipAssignmentRepository(db)
	c.lastErr = nil
	return nil
}

func (c *shipAssignmentContext) assign(containerID, shipSymbol string, playerID int) error {
	ok, err := c.repo.Assign(context.Background(), container.NewShipAssignment(shipSymbol, playerID, containerID, nil))
	c.lastResult = ok
	c.lastErr = err
	return err
}

func (c *shipAssignmentContext) holds(containerID, shipSymbol string, playerID int) error {
	if err := c.assign(containerID, shipSymbol, playerID); err != nil {
		return err
	}
	if !c.lastResult {
		return fmt.Errorf("precondition failed: could not assign %s to %s", shipSymbol, containerID)
	}
	return nil
}

func (c *shipAssignmentContext) assignmentSucceeds() error {
	if !c.lastResult {
		return fmt.Errorf("expected assignment to succeed")
	}
	return nil
}

func (c *shipAssignmentContext) assignmentFails() error {
	if c.lastResult {
		return fmt.Errorf("expected assignment to fail")
	}
	return nil
}

func (c *shipAssignmentContext) heldBy(shipSymbol, containerID string, playerID int) error {
	found, err := c.repo.FindByShip(context.Background(), shipSymbol, playerID)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("ship %s has no active assignment", shipSymbol)
	}
	if found.ContainerID() != containerID {
		return fmt.Errorf("ship %s held by %s, expected %s", shipSymbol, found.ContainerID(), containerID)
	}
	return nil
}

func (c *shipAssignmentContext) release(shipSymbol string, playerID int, reason string) error {
	c.lastErr = c.repo.Release(context.Background(), shipSymbol, playerID, reason)
	return c.lastErr
}

func (c *shipAssignmentContext) noError() error {
	return c.lastErr
}

func (c *shipAssignmentContext) race(c1, c2, shipSymbol string, playerID int) error {
	results := make([]bool, 2)
	var wg sync.WaitGroup
	for i, id := range []string{c1, c2} {
		wg.Add(1)
		go func(idx int, containerID string) {
			defer wg.Done()
			ok, err := c.repo.Assign(context.Background(), container.NewShipAssignment(shipSymbol, playerID, containerID, nil))
			if err == nil {
				results[idx] = ok
			}
		}(i, id)
	}
	wg.Wait()

	c.raceWins = 0
	for _, won := range results {
		if won {
			c.raceWins++
		}
	}
	return nil
}

func (c *shipAssignmentContext) exactlyOneWins() error {
	if c.raceWins != 1 {
		return fmt.Errorf("expected exactly one winner, got %d", c.raceWins)
	}
	return nil
}
