package steps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/acdtunes/fleetd/internal/domain/routeplan"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

type routePlannerContext struct {
	waypoints map[string]*shared.Waypoint
	plan      *routeplan.Plan
	startFuel int
	capacity  int
}

// InitializeRoutePlannerScenario registers steps exercising the pure route
// planner: mode selection, refuel insertion, and no-plan outcomes.
func InitializeRoutePlannerScenario(sc *godog.ScenarioContext) {
	ctx := &routePlannerContext{}

	sc.Before(func(c context.Context, sn *godog.Scenario) (context.Context, error) {
		ctx.waypoints = make(map[string]*shared.Waypoint)
		ctx.plan = nil
		return c, nil
	})

	sc.Step(`^a waypoint "([^"]*)" at (-?\d+),(-?\d+)$`, ctx.addWaypoint)
	sc.Step(`^a waypoint "([^"]*)" at (-?\d+),(-?\d+) with fuel station$`, ctx.addFuelWaypoint)
	sc.Step(`^I plan a route from "([^"]*)" to "([^"]*)" with fuel (\d+) of (\d+) and speed (\d+)$`, ctx.planRoute)
	sc.Step(`^I plan a cruise-preferring route from "([^"]*)" to "([^"]*)" with fuel (\d+) of (\d+) and speed (\d+)$`, ctx.planCruiseRoute)
	sc.Step(`^the plan has no actions$`, ctx.planHasNoActions)
	sc.Step(`^the plan has (\d+) actions?$`, ctx.planHasActions)
	sc.Step(`^action (\d+) is a "([^"]*)" travel to "([^"]*)" costing (\d+) fuel$`, ctx.actionIsTravel)
	sc.Step(`^action (\d+) is a refuel at "([^"]*)"$`, ctx.actionIsRefuel)
	sc.Step(`^no plan is found$`, ctx.noPlanFound)
	sc.Step(`^simulating the plan from (\d+) fuel never goes negative$`, ctx.simulateNeverNegative)
}

func (c *routePlannerContext) addWaypoint(symbol string, x, y int) error {
	w, err := shared.NewWaypoint(symbol, float64(x), float64(y))
	if err != nil {
		return err
	}
	c.waypoints[symbol] = w
	return nil
}

func (c *routePlannerContext) addFuelWaypoint(symbol string, x, y int) error {
	if err := c.addWaypoint(symbol, x, y); err != nil {
		return err
	}
	c.waypoints[symbol].HasFuel = true
	return nil
}

func (c *routePlannerContext) plan_(start, goal string, fuel, capacity, speed int, preferCruise bool) error {
	plan, err := routeplan.FindOptimalPath(c.waypoints, start, goal, fuel, capacity, speed, preferCruise)
	if err != nil {
		return err
	}
	c.plan = plan
	c.startFuel = fuel
	c.capacity = capacity
	return nil
}

func (c *routePlannerContext) planRoute(start, goal string, fuel, capacity, speed int) error {
	return c.plan_(start, goal, fuel, capacity, speed, false)
}

func (c *routePlannerContext) planCruiseRoute(start, goal string, fuel, capacity, speed int) error {
	return c.plan_(start, goal, fuel, capacity, speed, true)
}

func (c *routePlannerContext) planHasNoActions() error {
	if c.plan == nil {
		return fmt.Errorf("expected an empty plan, got no plan at all")
	}
	if len(c.plan.Actions) != 0 {
		return fmt.Errorf("expected no actions, got %d", len(c.plan.Actions))
	}
	return nil
}

func (c *routePlannerContext) planHasActions(count int) error {
	if c.plan == nil {
		return fmt.Errorf("expected a plan with %d actions, got no plan", count)
	}
	if len(c.plan.Actions) != count {
		return fmt.Errorf("expected %d actions, got %d: %+v", count, len(c.plan.Actions), c.plan.Actions)
	}
	return nil
}

func (c *routePlannerContext) action(index int) (routeplan.Action, error) {
	if c.plan == nil || index < 1 || index > len(c.plan.Actions) {
		return routeplan.Action{}, fmt.Errorf("no action %d in plan", index)
	}
	return c.plan.Actions[index-1], nil
}

func (c *routePlannerContext) actionIsTravel(index int, mode, to string, fuelCost int) error {
	a, err := c.action(index)
	if err != nil {
		return err
	}
	if a.Kind != routeplan.ActionTravel {
		return fmt.Errorf("action %d is not a travel", index)
	}
	if a.Mode.Name() != mode {
		return fmt.Errorf("action %d mode is %s, expected %s", index, a.Mode.Name(), mode)
	}
	if a.At != to {
		return fmt.Errorf("action %d goes to %s, expected %s", index, a.At, to)
	}
	if a.FuelCost != fuelCost {
		return fmt.Errorf("action %d costs %d fuel, expected %d", index, a.FuelCost, fuelCost)
	}
	return nil
}

func (c *routePlannerContext) actionIsRefuel(index int, at string) error {
	a, err := c.action(index)
	if err != nil {
		return err
	}
	if a.Kind != routeplan.ActionRefuel {
		return fmt.Errorf("action %d is not a refuel", index)
	}
	if a.At != at {
		return fmt.Errorf("action %d refuels at %s, expected %s", index, a.At, at)
	}
	return nil
}

func (c *routePlannerContext) noPlanFound() error {
	if c.plan != nil {
		return fmt.Errorf("expected no plan, got one with %d actions", len(c.plan.Actions))
	}
	return nil
}

func (c *routePlannerContext) simulateNeverNegative(startFuel int) error {
	if c.plan == nil {
		return fmt.Errorf("expected a plan to simulate")
	}
	fuel := startFuel
	for _, a := range c.plan.Actions {
		switch a.Kind {
		case routeplan.ActionTravel:
			fuel -= a.FuelCost
			if fuel < 0 {
				return fmt.Errorf("fuel went negative (%d) at %s", fuel, a.At)
			}
		case routeplan.ActionRefuel:
			fuel = c.capacity
		}
	}
	return nil
}
