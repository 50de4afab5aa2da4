package container

import (
	"fmt"
	"math"
	"time"

	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// ContainerStatus represents the lifecycle state of a container.
type ContainerStatus string

const (
	ContainerStatusPending  ContainerStatus = "PENDING"
	ContainerStatusStarting ContainerStatus = "STARTING"
	ContainerStatusRunning  ContainerStatus = "RUNNING"
	ContainerStatusStopping ContainerStatus = "STOPPING"
	ContainerStatusStopped  ContainerStatus = "STOPPED"
	ContainerStatusFailed   ContainerStatus = "FAILED"
	ContainerStatusRemoved  ContainerStatus = "REMOVED"
)

// Kind distinguishes the two container shapes the runtime understands.
type Kind string

const (
	// KindCommand runs a single named operation to completion (or until stopped).
	KindCommand Kind = "command"
	// KindWorker dequeues persisted work items until the queue drains or it is stopped.
	KindWorker Kind = "worker"
)

// RestartPolicyKind controls whether the supervisor restarts a container after
// it leaves the RUNNING state on its own (as opposed to an operator-issued stop).
type RestartPolicyKind string

const (
	RestartPolicyNo        RestartPolicyKind = "no"
	RestartPolicyOnFailure RestartPolicyKind = "on-failure"
	RestartPolicyAlways    RestartPolicyKind = "always"
)

// RestartPolicy pairs a policy kind with the exponential backoff schedule used
// between restart attempts. A MaxRestarts of 0 means unlimited attempts.
type RestartPolicy struct {
	Kind            RestartPolicyKind
	MaxRestarts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// NewRestartPolicy builds a policy with the package defaults for backoff bounds.
func NewRestartPolicy(kind RestartPolicyKind, maxRestarts int) RestartPolicy {
	return RestartPolicy{
		Kind:           kind,
		MaxRestarts:    maxRestarts,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// ShouldRestart reports whether a container that just left RUNNING via
// finalStatus should be restarted, given how many restarts it has already
// had. operatorStopped distinguishes an operator-issued stop (never
// restarted, regardless of policy) from the container's own exit.
func (p RestartPolicy) ShouldRestart(finalStatus ContainerStatus, operatorStopped bool, restartCount int) bool {
	if operatorStopped {
		return false
	}

	switch p.Kind {
	case RestartPolicyAlways:
	case RestartPolicyOnFailure:
		if finalStatus != ContainerStatusFailed {
			return false
		}
	default: // RestartPolicyNo
		return false
	}

	if p.MaxRestarts > 0 && restartCount >= p.MaxRestarts {
		return false
	}
	return true
}

// BackoffDuration computes the capped exponential delay before the (restartCount+1)th
// restart attempt: min(InitialBackoff * 2^restartCount, MaxBackoff).
func (p RestartPolicy) BackoffDuration(restartCount int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	max := p.MaxBackoff
	if max <= 0 {
		max = 5 * time.Minute
	}

	backoff := float64(initial) * math.Pow(2, float64(restartCount))
	if backoff > float64(max) || math.IsInf(backoff, 1) {
		return max
	}
	return time.Duration(backoff)
}

// Spec names the command/work-item kind and the parameter bag a container was
// created with — what the registry uses to look up a factory and what the
// factory uses to configure the instance it builds.
type Spec struct {
	Command string
	Params  map[string]interface{}
}

// Container represents one background operation managed by the runtime.
// Each container runs in its own goroutine and moves through
// PENDING -> STARTING -> RUNNING -> (STOPPING -> STOPPED) | FAILED, with
// REMOVED reachable as a terminal state from anything but RUNNING.
type Container struct {
	id            string
	kind          Kind
	spec          Spec
	playerID      int
	parentID      string
	restartPolicy RestartPolicy

	lifecycle *shared.LifecycleStateMachine

	starting bool
	stopping bool
	removed  bool

	currentIteration int
	maxIterations    int // -1 for infinite

	restartCount int

	exitReason string

	metadata map[string]interface{}

	clock shared.Clock
}

// NewContainer creates a new container in the PENDING state.
// If clock is nil, uses RealClock (production behavior).
func NewContainer(
	id string,
	kind Kind,
	spec Spec,
	playerID int,
	parentID string,
	restartPolicy RestartPolicy,
	maxIterations int,
	metadata map[string]interface{},
	clock shared.Clock,
) *Container {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &Container{
		id:               id,
		kind:             kind,
		spec:             spec,
		playerID:         playerID,
		parentID:         parentID,
		restartPolicy:    restartPolicy,
		lifecycle:        shared.NewLifecycleStateMachine(clock),
		currentIteration: 0,
		maxIterations:    maxIterations,
		metadata:         metadata,
		clock:            clock,
	}
}

// Getters

func (c *Container) ID() string                       { return c.id }
func (c *Container) Kind() Kind                        { return c.kind }
func (c *Container) Spec() Spec                        { return c.spec }
func (c *Container) PlayerID() int                     { return c.playerID }
func (c *Container) ParentID() string                  { return c.parentID }
func (c *Container) RestartPolicy() RestartPolicy      { return c.restartPolicy }
func (c *Container) CurrentIteration() int             { return c.currentIteration }
func (c *Container) MaxIterations() int                { return c.maxIterations }
func (c *Container) RestartCount() int                 { return c.restartCount }
func (c *Container) Metadata() map[string]interface{}  { return c.metadata }
func (c *Container) ExitReason() string                { return c.exitReason }

func (c *Container) CreatedAt() time.Time  { return c.lifecycle.CreatedAt() }
func (c *Container) UpdatedAt() time.Time  { return c.lifecycle.UpdatedAt() }
func (c *Container) StartedAt() *time.Time { return c.lifecycle.StartedAt() }
func (c *Container) StoppedAt() *time.Time { return c.lifecycle.StoppedAt() }
func (c *Container) LastError() error      { return c.lifecycle.LastError() }

// Status maps the underlying lifecycle status plus the STARTING/STOPPING/REMOVED
// extension flags onto the full ContainerStatus set.
func (c *Container) Status() ContainerStatus {
	if c.removed {
		return ContainerStatusRemoved
	}
	if c.stopping {
		return ContainerStatusStopping
	}

	switch c.lifecycle.Status() {
	case shared.LifecycleStatusPending:
		if c.starting {
			return ContainerStatusStarting
		}
		return ContainerStatusPending
	case shared.LifecycleStatusRunning:
		return ContainerStatusRunning
	case shared.LifecycleStatusFailed:
		return ContainerStatusFailed
	case shared.LifecycleStatusStopped:
		return ContainerStatusStopped
	default:
		return ContainerStatusPending
	}
}

// Begin transitions a PENDING container to STARTING, the window during which
// the runtime is acquiring resources (ship assignment, route plan) before the
// container's goroutine actually begins iterating.
func (c *Container) Begin() error {
	if c.Status() != ContainerStatusPending {
		return fmt.Errorf("cannot begin container in %s state", c.Status())
	}
	c.starting = true
	c.lifecycle.UpdateTimestamp()
	return nil
}

// MarkRunning transitions STARTING to RUNNING once the container's work loop
// is actually executing.
func (c *Container) MarkRunning() error {
	if c.Status() != ContainerStatusStarting {
		return fmt.Errorf("cannot mark running from %s state", c.Status())
	}
	c.starting = false
	return c.lifecycle.Start()
}

// Fail transitions to FAILED with an error. Valid from STARTING, RUNNING, or
// STOPPING (a container can fail while trying to shut down cleanly).
func (c *Container) Fail(err error) error {
	status := c.Status()
	if status != ContainerStatusStarting && status != ContainerStatusRunning && status != ContainerStatusStopping {
		return fmt.Errorf("cannot fail container in %s state", status)
	}

	c.starting = false
	c.stopping = false
	if c.lifecycle.Status() == shared.LifecycleStatusPending {
		// Failed before ever reaching RUNNING; start the lifecycle first so
		// StartedAt is recorded alongside StoppedAt.
		_ = c.lifecycle.Start()
	}
	c.exitReason = err.Error()
	return c.lifecycle.Fail(err)
}

// Stop requests a graceful shutdown. From STARTING or RUNNING this enters
// STOPPING; the caller must follow up with MarkStopped once the container's
// goroutine has actually exited.
func (c *Container) Stop(reason string) error {
	status := c.Status()
	if status != ContainerStatusStarting && status != ContainerStatusRunning {
		return fmt.Errorf("cannot stop container in %s state", status)
	}

	c.starting = false
	c.stopping = true
	c.exitReason = reason
	c.lifecycle.UpdateTimestamp()
	return nil
}

// MarkStopped finalizes STOPPING -> STOPPED.
func (c *Container) MarkStopped() error {
	if c.Status() != ContainerStatusStopping {
		return fmt.Errorf("cannot mark stopped when not in stopping state")
	}
	c.stopping = false
	if c.lifecycle.Status() == shared.LifecycleStatusPending {
		_ = c.lifecycle.Start()
	}
	return c.lifecycle.Stop()
}

// Remove marks the container REMOVED, a terminal state reachable from any
// state except RUNNING (a running container must be stopped first).
func (c *Container) Remove() error {
	if c.Status() == ContainerStatusRunning {
		return fmt.Errorf("cannot remove a running container, stop it first")
	}
	c.removed = true
	c.lifecycle.UpdateTimestamp()
	return nil
}

// Iteration management

func (c *Container) IncrementIteration() error {
	if c.Status() != ContainerStatusRunning {
		return fmt.Errorf("cannot increment iteration in %s state", c.Status())
	}
	c.currentIteration++
	c.lifecycle.UpdateTimestamp()
	return nil
}

// ShouldContinue reports whether a looping command/worker container should
// keep iterating.
func (c *Container) ShouldContinue() bool {
	if c.maxIterations == -1 {
		return true
	}
	return c.currentIteration < c.maxIterations
}

// Restart management

// PrepareRestart resets a FAILED or STOPPED container back to PENDING for
// another attempt, per RestartPolicy, and advances the restart counter.
// The caller is responsible for checking RestartPolicy().ShouldRestart first.
func (c *Container) PrepareRestart() error {
	status := c.Status()
	if status != ContainerStatusFailed && status != ContainerStatusStopped {
		return fmt.Errorf("cannot restart container in %s state", status)
	}

	c.starting = false
	c.stopping = false
	c.exitReason = ""
	c.currentIteration = 0
	c.lifecycle.ResetForRestart()
	c.restartCount++
	return nil
}

// RestoreCounters rehydrates the iteration and restart counters from a
// persisted record during daemon-restart recovery. Unlike PrepareRestart it
// does not advance the restart counter: a daemon restart is not a container
// restart.
func (c *Container) RestoreCounters(currentIteration, restartCount int) {
	c.currentIteration = currentIteration
	c.restartCount = restartCount
}

// Metadata management

func (c *Container) UpdateMetadata(updates map[string]interface{}) {
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	for key, value := range updates {
		c.metadata[key] = value
	}
	c.lifecycle.UpdateTimestamp()
}

func (c *Container) GetMetadataValue(key string) (interface{}, bool) {
	if c.metadata == nil {
		return nil, false
	}
	value, exists := c.metadata[key]
	return value, exists
}

// State queries

func (c *Container) IsRunning() bool { return c.Status() == ContainerStatusRunning }

func (c *Container) IsFinished() bool {
	status := c.Status()
	return status == ContainerStatusStopped || status == ContainerStatusFailed || status == ContainerStatusRemoved
}

func (c *Container) IsStopping() bool { return c.stopping }

func (c *Container) RuntimeDuration() time.Duration { return c.lifecycle.RuntimeDuration() }

func (c *Container) String() string {
	return fmt.Sprintf("Container[%s, kind=%s, command=%s, status=%s, iteration=%d/%d, restarts=%d]",
		c.id, c.kind, c.spec.Command, c.Status(), c.currentIteration, c.maxIterations, c.restartCount)
}
