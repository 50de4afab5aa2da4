package bdd

import (
	"os"
	"testing"

	"github.com/cucumber/godog"

	"github.com/acdtunes/fleetd/test/bdd/steps"
	"github.com/acdtunes/fleetd/test/helpers"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	steps.InitializeRoutePlannerScenario(sc)
	steps.InitializeShipAssignmentScenario(sc)
	steps.InitializeContainerLifecycleScenario(sc)
}

func TestMain(m *testing.M) {
	// One shared database for the whole suite; scenarios reset tables
	// instead of re-migrating per scenario.
	if err := helpers.InitializeSharedTestDB(); err != nil {
		panic("Failed to initialize shared test database: " + err.Error())
	}
	defer helpers.CloseSharedTestDB()

	os.Exit(m.Run())
}
