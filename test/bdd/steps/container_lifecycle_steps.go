package steps

import (
	"errors"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/acdtunes/fleetd/internal/domain/container"
)

type containerLifecycleContext struct {
	current *container.Container
	policy  container.RestartPolicy
	lastErr error
}

// InitializeContainerLifecycleScenario registers steps for the container
// state machine and restart policy semantics.
func InitializeContainerLifecycleScenario(sc *godog.ScenarioContext) {
	ctx := &containerLifecycleContext{}

	sc.Step(`^a new container with restart policy "([^"]*)"$`, ctx.newContainer)
	sc.Step(`^a running container with restart policy "([^"]*)"$`, ctx.runningContainer)
	sc.Step(`^the container begins starting$`, ctx.begin)
	sc.Step(`^the container is marked running$`, ctx.markRunning)
	sc.Step(`^the container is stopped with reason "([^"]*)"$`, ctx.stop)
	sc.Step(`^the container is marked stopped$`, ctx.markStopped)
	sc.Step(`^the container is removed$`, ctx.remove)
	sc.Step(`^the container fails with error "([^"]*)"$`, ctx.fail)
	sc.Step(`^the container is prepared for restart$`, ctx.prepareRestart)
	sc.Step(`^the container status is "([^"]*)"$`, ctx.statusIs)
	sc.Step(`^the exit reason is "([^"]*)"$`, ctx.exitReasonIs)
	sc.Step(`^the restart count is (\d+)$`, ctx.restartCountIs)
	sc.Step(`^the operation fails$`, ctx.operationFails)
	sc.Step(`^a restart policy "([^"]*)" with (\d+) maximum restarts$`, ctx.policyWith)
	sc.Step(`^a container that exited "([^"]*)" should restart$`, ctx.shouldRestart)
	sc.Step(`^a container that exited "([^"]*)" should not restart$`, ctx.shouldNotRestart)
	sc.Step(`^an operator-stopped container should not restart$`, ctx.operatorStopNoRestart)
}

func (c *containerLifecycleContext) newContainer(policy string) error {
	c.current = container.NewContainer(
		"bdd-container", container.KindCommand,
		container.Spec{Command: "navigate", Params: map[string]interface{}{}},
		1, "",
		container.NewRestartPolicy(container.RestartPolicyKind(policy), 3),
		1, nil, nil,
	)
	c.lastErr = nil
	return nil
}

func (c *containerLifecycleContext) runningContainer(policy string) error {
	if err := c.newContainer(policy); err != nil {
		return err
	}
	if err := c.current.Begin(); err != nil {
		return err
	}
	return c.current.MarkRunning()
}

func (c *containerLifecycleContext) begin() error {
	c.lastErr = c.current.Begin()
	return nil
}

func (c *containerLifecycleContext) markRunning() error {
	c.lastErr = c.current.MarkRunning()
	return nil
}

func (c *containerLifecycleContext) stop(reason string) error {
	c.lastErr = c.current.Stop(reason)
	return nil
}

func (c *containerLifecycleContext) markStopped() error {
	c.lastErr = c.current.MarkStopped()
	return nil
}

func (c *containerLifecycleContext) remove() error {
	c.lastErr = c.current.Remove()
	return nil
}

func (c *containerLifecycleContext) fail(message string) error {
	c.lastErr = c.current.Fail(errors.New(message))
	return nil
}

func (c *containerLifecycleContext) prepareRestart() error {
	c.lastErr = c.current.PrepareRestart()
	return nil
}

func (c *containerLifecycleContext) statusIs(status string) error {
	if c.lastErr != nil {
		return fmt.Errorf("previous operation failed: %w", c.lastErr)
	}
	if string(c.current.Status()) != status {
		return fmt.Errorf("status is %s, expected %s", c.current.Status(), status)
	}
	return nil
}

func (c *containerLifecycleContext) exitReasonIs(reason string) error {
	if c.current.ExitReason() != reason {
		return fmt.Errorf("exit reason is %q, expected %q", c.current.ExitReason(), reason)
	}
	return nil
}

func (c *containerLifecycleContext) restartCountIs(count int) error {
	if c.current.RestartCount() != count {
		return fmt.Errorf("restart count is %d, expected %d", c.current.RestartCount(), count)
	}
	return nil
}

func (c *containerLifecycleContext) operationFails() error {
	if c.lastErr == nil {
		return fmt.Errorf("expected the operation to fail")
	}
	c.lastErr = nil
	return nil
}

func (c *containerLifecycleContext) policyWith(kind string, maxRestarts int) error {
	c.policy = container.NewRestartPolicy(container.RestartPolicyKind(kind), maxRestarts)
	return nil
}

func (c *containerLifecycleContext) shouldRestart(status string) error {
	if !c.policy.ShouldRestart(container.ContainerStatus(status), false, 0) {
		return fmt.Errorf("expected %s exit to restart under %s policy", status, c.policy.Kind)
	}
	return nil
}

func (c *containerLifecycleContext) shouldNotRestart(status string) error {
	if c.policy.ShouldRestart(container.ContainerStatus(status), false, 0) {
		return fmt.Errorf("expected %s exit not to restart under %s policy", status, c.policy.Kind)
	}
	return nil
}

func (c *containerLifecycleContext) operatorStopNoRestart() error {
	if c.policy.ShouldRestart(container.ContainerStatusStopped, true, 0) {
		return fmt.Errorf("operator stop must never restart")
	}
	return nil
}
