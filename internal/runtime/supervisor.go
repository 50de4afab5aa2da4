package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/application/common"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/internal/domain/navigation"
	"github.com/acdtunes/fleetd/internal/domain/shared"
	"github.com/acdtunes/fleetd/internal/infrastructure/database"
)

// Options tunes the supervisor. Zero values fall back to sane defaults.
type Options struct {
	// DefaultInterval is the sleep between container iterations when the
	// spec does not name one.
	DefaultInterval time.Duration

	// GracePeriod is how long stop waits for a container goroutine to exit.
	GracePeriod time.Duration

	// MaxContainers caps concurrently tracked containers.
	MaxContainers int
}

// Supervisor is the container runtime (CR): it owns the registry of running
// containers, persists every lifecycle edge, applies restart policies via
// the runners it spawns, and rebuilds still-RUNNING containers after a
// daemon restart.
type Supervisor struct {
	mediator      common.Mediator
	registry      *Registry
	containerRepo *persistence.ContainerRepositoryGORM
	logRepo       persistence.ContainerLogRepository
	assignRepo    container.ShipAssignmentRepository
	dbHandle      *database.Handle
	clock         shared.Clock
	opts          Options

	eventPublisher navigation.ShipEventPublisher

	mu      sync.RWMutex
	runners map[string]*Runner
}

func NewSupervisor(
	mediator common.Mediator,
	registry *Registry,
	containerRepo *persistence.ContainerRepositoryGORM,
	logRepo persistence.ContainerLogRepository,
	assignRepo container.ShipAssignmentRepository,
	dbHandle *database.Handle,
	clock shared.Clock,
	opts Options,
) *Supervisor {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	if opts.MaxContainers <= 0 {
		opts.MaxContainers = 100
	}

	return &Supervisor{
		mediator:      mediator,
		registry:      registry,
		containerRepo: containerRepo,
		logRepo:       logRepo,
		assignRepo:    assignRepo,
		dbHandle:      dbHandle,
		clock:         clock,
		opts:          opts,
		runners:       make(map[string]*Runner),
	}
}

// SetEventPublisher installs the bus completion events are announced on.
// Call before any container starts.
func (s *Supervisor) SetEventPublisher(publisher navigation.ShipEventPublisher) {
	s.eventPublisher = publisher
}

// CreateRequest is the operator-facing container spec.
type CreateRequest struct {
	ContainerID   string
	PlayerID      int
	Command       string
	Params        map[string]interface{}
	RestartPolicy container.RestartPolicyKind
	MaxRestarts   int
	MaxIterations int
	Autostart     bool
}

// Create allocates and persists a container in PENDING. With Autostart it
// immediately runs the start path as well.
func (s *Supervisor) Create(ctx context.Context, req CreateRequest) (*container.Container, error) {
	if req.ContainerID == "" {
		return nil, fmt.Errorf("%w: container id is required", ErrInvalidState)
	}

	kind, ok := s.registry.Kind(req.Command)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}

	existing, err := s.containerRepo.FindByID(ctx, req.ContainerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrContainerExists, req.ContainerID)
	}

	if req.Params == nil {
		req.Params = make(map[string]interface{})
	}
	policyKind := req.RestartPolicy
	if policyKind == "" {
		policyKind = container.RestartPolicyNo
	}
	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = 1
	}
	if kind == container.KindWorker {
		// Workers run until their queue drains, not to an iteration count.
		maxIterations = -1
	}

	spec := container.Spec{Command: req.Command, Params: req.Params}

	// Fail fast on malformed params: building the runnable at create time
	// surfaces a bad spec to the operator instead of to the first start.
	if _, err := s.registry.Build(spec, req.PlayerID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	entity := container.NewContainer(
		req.ContainerID,
		kind,
		spec,
		req.PlayerID,
		"",
		container.NewRestartPolicy(policyKind, req.MaxRestarts),
		maxIterations,
		nil,
		s.clock,
	)

	if err := s.containerRepo.Add(ctx, entity); err != nil {
		return nil, err
	}

	if req.Autostart {
		if err := s.startEntity(entity); err != nil {
			return entity, err
		}
	}
	return entity, nil
}

// Start transitions a PENDING or STOPPED/FAILED container into RUNNING.
func (s *Supervisor) Start(ctx context.Context, containerID string) error {
	s.mu.RLock()
	runner, running := s.runners[containerID]
	s.mu.RUnlock()

	if running && !runner.Container().IsFinished() {
		return fmt.Errorf("%w: container %s is %s", ErrInvalidState, containerID, runner.Container().Status())
	}

	model, err := s.containerRepo.FindByID(ctx, containerID)
	if err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	switch container.ContainerStatus(model.Status) {
	case container.ContainerStatusPending, container.ContainerStatusStopped, container.ContainerStatusFailed:
	default:
		return fmt.Errorf("%w: cannot start container in %s state", ErrInvalidState, model.Status)
	}

	entity, err := s.rehydrate(model)
	if err != nil {
		return err
	}
	return s.startEntity(entity)
}

// startEntity builds the runnable and runner for a PENDING entity and starts it.
func (s *Supervisor) startEntity(entity *container.Container) error {
	runnable, err := s.registry.Build(entity.Spec(), entity.PlayerID())
	if err != nil {
		return err
	}

	interval := s.opts.DefaultInterval
	if seconds := intParam(entity.Spec().Params, "interval_seconds", -1); seconds >= 0 {
		interval = time.Duration(seconds) * time.Second
	}

	runner := NewRunner(
		entity, runnable, s.mediator,
		s.logRepo, s.containerRepo, s.assignRepo, s.dbHandle,
		s.clock, interval, s.opts.GracePeriod,
	)
	if s.eventPublisher != nil {
		runner.SetEventPublisher(s.eventPublisher)
	}

	s.mu.Lock()
	if len(s.runners) >= s.opts.MaxContainers {
		if _, tracked := s.runners[entity.ID()]; !tracked {
			s.mu.Unlock()
			return fmt.Errorf("%w: container limit (%d) reached", ErrInvalidState, s.opts.MaxContainers)
		}
	}
	s.runners[entity.ID()] = runner
	s.mu.Unlock()

	if err := runner.Start(); err != nil {
		s.mu.Lock()
		delete(s.runners, entity.ID())
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop gracefully stops a running container.
func (s *Supervisor) Stop(ctx context.Context, containerID string) error {
	s.mu.RLock()
	runner, ok := s.runners[containerID]
	s.mu.RUnlock()

	if !ok {
		model, err := s.containerRepo.FindByID(ctx, containerID)
		if err != nil {
			return err
		}
		if model == nil {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("%w: container %s is %s", ErrInvalidState, containerID, model.Status)
	}

	err := runner.Stop("stopped by operator")

	s.mu.Lock()
	delete(s.runners, containerID)
	s.mu.Unlock()

	return err
}

// Remove deletes a terminal container's record and logs. Never valid while
// the container is RUNNING (or starting/stopping).
func (s *Supervisor) Remove(ctx context.Context, containerID string) error {
	s.mu.RLock()
	runner, tracked := s.runners[containerID]
	s.mu.RUnlock()

	if tracked && !runner.Container().IsFinished() {
		return fmt.Errorf("%w: cannot remove container in %s state", ErrInvalidState, runner.Container().Status())
	}

	model, err := s.containerRepo.FindByID(ctx, containerID)
	if err != nil {
		return err
	}
	if model == nil {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	switch container.ContainerStatus(model.Status) {
	case container.ContainerStatusRunning, container.ContainerStatusStarting, container.ContainerStatusStopping:
		return fmt.Errorf("%w: cannot remove container in %s state", ErrInvalidState, model.Status)
	}

	if s.logRepo != nil {
		if err := s.logRepo.DeleteByContainer(ctx, containerID, model.PlayerID); err != nil {
			return err
		}
	}
	if err := s.containerRepo.Remove(ctx, containerID, model.PlayerID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.runners, containerID)
	s.mu.Unlock()
	return nil
}

// List returns container records, optionally filtered to one player.
func (s *Supervisor) List(ctx context.Context, playerID *int) ([]*persistence.ContainerModel, error) {
	return s.containerRepo.ListAll(ctx, playerID)
}

// InspectResult is the full container record plus optional log tail.
type InspectResult struct {
	Model *persistence.ContainerModel
	Logs  []persistence.ContainerLogEntry
}

// Inspect returns one container's record and, when requested, up to
// logLimit of its most recent log entries in ascending sequence order.
func (s *Supervisor) Inspect(ctx context.Context, containerID string, includeLogs bool, logLimit int) (*InspectResult, error) {
	model, err := s.containerRepo.FindByID(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	result := &InspectResult{Model: model}
	if includeLogs && s.logRepo != nil {
		if logLimit <= 0 {
			logLimit = 100
		}
		logs, err := s.logRepo.GetLogs(ctx, containerID, model.PlayerID, logLimit, nil, nil)
		if err != nil {
			return nil, err
		}
		// GetLogs returns newest-first; operators read oldest-first.
		for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
			logs[i], logs[j] = logs[j], logs[i]
		}
		result.Logs = logs
	}
	return result, nil
}

// Recover reboots every container whose persisted status is RUNNING or
// STARTING through the normal start path. Recovery does not touch the
// restart counter: a daemon restart is not a container restart.
func (s *Supervisor) Recover(ctx context.Context) error {
	var models []*persistence.ContainerModel
	for _, status := range []container.ContainerStatus{container.ContainerStatusRunning, container.ContainerStatusStarting} {
		batch, err := s.containerRepo.ListByStatus(ctx, status, nil)
		if err != nil {
			return fmt.Errorf("failed to list %s containers: %w", status, err)
		}
		models = append(models, batch...)
	}

	if len(models) == 0 {
		return nil
	}
	log.Printf("recovering %d container(s) from previous daemon instance", len(models))

	for _, model := range models {
		entity, err := s.rehydrate(model)
		if err != nil {
			s.markRecoveryFailed(ctx, model, err)
			continue
		}
		if err := s.startEntity(entity); err != nil {
			log.Printf("container %s: recovery failed: %v", model.ID, err)
			continue
		}
		log.Printf("container %s: recovered (%s)", model.ID, model.Command)
	}
	return nil
}

// Shutdown stops every tracked container concurrently, bounded by the grace
// period, and waits for the stragglers.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	runners := make([]*Runner, 0, len(s.runners))
	for _, runner := range s.runners {
		runners = append(runners, runner)
	}
	s.runners = make(map[string]*Runner)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, runner := range runners {
		if runner.Container().IsFinished() {
			continue
		}
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			if err := r.Stop("daemon shutdown"); err != nil {
				log.Printf("container %s: shutdown stop: %v", r.Container().ID(), err)
			}
		}(runner)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("shutdown deadline reached with containers still stopping")
	}
}

// rehydrate rebuilds a PENDING entity from a persisted row, restoring the
// spec, policy, and counters but not the (stale) status: the entity re-walks
// PENDING -> STARTING -> RUNNING through the normal start path.
func (s *Supervisor) rehydrate(model *persistence.ContainerModel) (*container.Container, error) {
	var params map[string]interface{}
	if model.Params != "" {
		if err := json.Unmarshal([]byte(model.Params), &params); err != nil {
			return nil, fmt.Errorf("container %s: invalid params json: %w", model.ID, err)
		}
	}
	var metadata map[string]interface{}
	if model.Metadata != "" {
		if err := json.Unmarshal([]byte(model.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("container %s: invalid metadata json: %w", model.ID, err)
		}
	}

	entity := container.NewContainer(
		model.ID,
		container.Kind(model.Kind),
		container.Spec{Command: model.Command, Params: params},
		model.PlayerID,
		derefString(model.ParentContainerID),
		container.NewRestartPolicy(container.RestartPolicyKind(model.RestartPolicyKind), model.MaxRestarts),
		model.MaxIterations,
		metadata,
		s.clock,
	)
	entity.RestoreCounters(model.CurrentIteration, model.RestartCount)
	return entity, nil
}

func (s *Supervisor) markRecoveryFailed(ctx context.Context, model *persistence.ContainerModel, cause error) {
	log.Printf("container %s: unrecoverable: %v", model.ID, cause)
	now := s.clock.Now()
	if err := s.containerRepo.UpdateStatus(ctx, model.ID, model.PlayerID,
		container.ContainerStatusFailed, &now, fmt.Sprintf("recovery failed: %v", cause)); err != nil {
		log.Printf("container %s: failed to mark FAILED: %v", model.ID, err)
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
