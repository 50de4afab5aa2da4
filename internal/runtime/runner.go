package runtime

import (
	"context"
	"database/sql"
	"errors"
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

// statusWriteTimeout bounds the database writes the runner performs outside
// its task context (status transitions, log lines), so a slow database can
// not wedge lifecycle bookkeeping.
const statusWriteTimeout = 5 * time.Second

// Runner executes one container in a background goroutine: it owns the
// iteration loop, the restart policy, ship-lock acquisition and release, and
// the container-scoped log sink every component logs through while running
// inside this container's context.
type Runner struct {
	entity   *container.Container
	runnable Runnable
	mediator common.Mediator

	logRepo       persistence.ContainerLogRepository
	containerRepo *persistence.ContainerRepositoryGORM
	assignRepo    container.ShipAssignmentRepository
	dbHandle      *database.Handle
	clock         shared.Clock

	interval    time.Duration // sleep between iterations
	gracePeriod time.Duration // how long Stop waits before declaring failure

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex

	operatorStopped bool

	eventPublisher navigation.ShipEventPublisher
}

// NewRunner wires a runner around an entity and its runnable. The runner is
// inert until Start.
func NewRunner(
	entity *container.Container,
	runnable Runnable,
	mediator common.Mediator,
	logRepo persistence.ContainerLogRepository,
	containerRepo *persistence.ContainerRepositoryGORM,
	assignRepo container.ShipAssignmentRepository,
	dbHandle *database.Handle,
	clock shared.Clock,
	interval time.Duration,
	gracePeriod time.Duration,
) *Runner {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	if gracePeriod <= 0 {
		gracePeriod = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		entity:        entity,
		runnable:      runnable,
		mediator:      mediator,
		logRepo:       logRepo,
		containerRepo: containerRepo,
		assignRepo:    assignRepo,
		dbHandle:      dbHandle,
		clock:         clock,
		interval:      interval,
		gracePeriod:   gracePeriod,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// SetEventPublisher installs the bus the runner announces its completion
// on. Must be called before Start.
func (r *Runner) SetEventPublisher(publisher navigation.ShipEventPublisher) {
	r.eventPublisher = publisher
}

// Container returns the underlying entity.
func (r *Runner) Container() *container.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entity
}

// Done is closed when the runner's goroutine has fully exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Start drives PENDING -> STARTING -> RUNNING: persists both edges, takes
// the ship lock named in the spec, then launches the work loop. On any
// failure the container lands in FAILED with the reason persisted.
func (r *Runner) Start() error {
	r.mu.Lock()
	if err := r.entity.Begin(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	r.mu.Unlock()

	r.persistStatus(container.ContainerStatusStarting, nil, "")

	// If a worker is being recovered mid-queue, fast-forward past the items
	// it already completed.
	if skipper, ok := r.runnable.(interface{ SkipCompleted(int) }); ok {
		if completed := r.entity.CurrentIteration(); completed > 0 {
			skipper.SkipCompleted(completed)
		}
	}

	if err := r.acquireShipLock(); err != nil {
		r.failStartup(err)
		return err
	}

	r.mu.Lock()
	if err := r.entity.MarkRunning(); err != nil {
		r.mu.Unlock()
		r.failStartup(err)
		return err
	}
	r.mu.Unlock()

	r.persistStatus(container.ContainerStatusRunning, nil, "")
	r.Log("INFO", "container started", nil)

	go r.execute()
	return nil
}

// Stop requests graceful shutdown and waits out the grace period. If the
// goroutine exits in time the container is STOPPED; if it does not, the
// runner records STOPPING -> FAILED and abandons the goroutine to its fate
// rather than blocking the caller.
func (r *Runner) Stop(reason string) error {
	r.mu.Lock()
	if err := r.entity.Stop(reason); err != nil {
		select {
		case <-r.done:
			// Goroutine already gone; the terminal status stands.
			r.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		default:
		}
		// The entity is between attempts (FAILED or STOPPED, waiting out a
		// restart backoff). Cancel the loop so the restart never happens;
		// the already-persisted terminal status stays accurate.
		r.operatorStopped = true
		r.mu.Unlock()
		r.cancel()
		select {
		case <-r.done:
		case <-time.After(r.gracePeriod):
		}
		return nil
	}
	r.operatorStopped = true
	r.mu.Unlock()

	r.persistStatus(container.ContainerStatusStopping, nil, "")
	r.Log("INFO", "container stopping", nil)
	r.cancel()

	select {
	case <-r.done:
		r.mu.Lock()
		err := r.entity.MarkStopped()
		r.mu.Unlock()
		if err != nil {
			return err
		}
		now := r.clock.Now()
		r.persistStatus(container.ContainerStatusStopped, &now, reason)
		r.Log("INFO", "container stopped", nil)
		return nil

	case <-time.After(r.gracePeriod):
		failErr := fmt.Errorf("container did not stop within %s", r.gracePeriod)
		r.mu.Lock()
		_ = r.entity.Fail(failErr)
		r.mu.Unlock()
		now := r.clock.Now()
		r.persistStatus(container.ContainerStatusFailed, &now, failErr.Error())
		r.Log("ERROR", failErr.Error(), nil)
		return failErr
	}
}

// execute is the container's work loop. It runs in its own goroutine and is
// the only writer of the entity's RUNNING-and-beyond transitions, except for
// the operator-stop path which Stop owns.
func (r *Runner) execute() {
	defer close(r.done)
	defer r.publishCompletion()
	defer r.releaseShipLocks()

	for {
		if r.ctx.Err() != nil {
			// Operator stop or daemon shutdown; Stop finalizes the status,
			// except when cancellation landed between a restart's RUNNING
			// transition and this check.
			r.finalizeInterruptedRestart()
			return
		}

		r.mu.RLock()
		shouldContinue := r.entity.ShouldContinue()
		iteration := r.entity.CurrentIteration()
		r.mu.RUnlock()

		if !shouldContinue {
			if !r.maybeRestart(container.ContainerStatusStopped, "iteration limit reached") {
				return
			}
			continue
		}

		request, ok, err := r.runnable.Next(iteration)
		if err == nil && !ok {
			// Worker queue drained.
			if !r.maybeRestart(container.ContainerStatusStopped, "work queue drained") {
				return
			}
			continue
		}

		if err == nil {
			err = r.runIteration(request)
		}

		if err != nil {
			if r.ctx.Err() != nil || isCancellation(err) {
				return
			}
			if r.isDatabaseClosed(err) {
				// Shutdown in progress: exit quietly, no failure recorded.
				log.Printf("container %s: database closed, exiting", r.entity.ID())
				return
			}

			r.Log("ERROR", err.Error(), nil)
			r.mu.Lock()
			_ = r.entity.Fail(err)
			r.mu.Unlock()
			now := r.clock.Now()
			r.persistStatus(container.ContainerStatusFailed, &now, err.Error())

			if !r.maybeRestart(container.ContainerStatusFailed, err.Error()) {
				return
			}
			continue
		}

		r.mu.Lock()
		_ = r.entity.IncrementIteration()
		iteration = r.entity.CurrentIteration()
		restarts := r.entity.RestartCount()
		r.mu.Unlock()
		r.persistProgress(iteration, restarts)
		r.Log("INFO", fmt.Sprintf("iteration %d completed", iteration), nil)

		if r.interval > 0 && !r.sleep(r.interval) {
			return
		}
	}
}

// runIteration dispatches one mediator request inside the container's
// logging context.
func (r *Runner) runIteration(request common.Request) error {
	ctx := common.WithLogger(r.ctx, r)
	if _, err := r.mediator.Send(ctx, request); err != nil {
		return err
	}
	return nil
}

// maybeRestart consults the restart policy after the work loop concluded
// with finalStatus. When the policy says restart, it finalizes the exit
// status (for non-failure exits), sleeps the capped exponential backoff, and
// rewinds the entity to RUNNING. Returns false when the container should
// actually exit, in which case the terminal status is persisted here for
// non-failure exits (failure exits persist FAILED before calling this).
func (r *Runner) maybeRestart(finalStatus container.ContainerStatus, reason string) bool {
	r.mu.RLock()
	policy := r.entity.RestartPolicy()
	restarts := r.entity.RestartCount()
	operatorStopped := r.operatorStopped
	r.mu.RUnlock()

	restart := policy.ShouldRestart(finalStatus, operatorStopped, restarts)

	if finalStatus != container.ContainerStatusFailed {
		// Natural completion: record the terminal state before any restart,
		// so inspect during backoff shows the truth.
		r.mu.Lock()
		if stopErr := r.entity.Stop(reason); stopErr == nil {
			_ = r.entity.MarkStopped()
		}
		r.mu.Unlock()
		now := r.clock.Now()
		r.persistStatus(container.ContainerStatusStopped, &now, reason)
		if !restart {
			r.Log("INFO", fmt.Sprintf("container completed: %s", reason), nil)
		}
	}

	if !restart {
		return false
	}

	backoff := policy.BackoffDuration(restarts)
	r.Log("INFO", fmt.Sprintf("restarting in %s (restart %d)", backoff, restarts+1), nil)
	if !r.sleep(backoff) {
		return false
	}

	r.mu.Lock()
	err := r.entity.PrepareRestart()
	if err == nil {
		err = r.entity.Begin()
	}
	if err == nil {
		err = r.entity.MarkRunning()
	}
	iteration := r.entity.CurrentIteration()
	restarts = r.entity.RestartCount()
	r.mu.Unlock()

	if err != nil {
		r.Log("ERROR", fmt.Sprintf("restart failed: %v", err), nil)
		return false
	}

	r.persistStatus(container.ContainerStatusRunning, nil, "")
	r.persistProgress(iteration, restarts)
	return true
}

// sleep waits cooperatively; false means the context was cancelled.
func (r *Runner) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-r.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// acquireShipLock takes the ship-assignment lock named by the spec's
// ship_symbol param, if any. A container whose ship is held by another
// container must not start.
func (r *Runner) acquireShipLock() error {
	if r.assignRepo == nil {
		return nil
	}
	shipSymbol, ok := r.entity.Spec().Params["ship_symbol"].(string)
	if !ok || shipSymbol == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	assignment := container.NewShipAssignment(shipSymbol, r.entity.PlayerID(), r.entity.ID(), r.clock)
	acquired, err := r.assignRepo.Assign(ctx, assignment)
	if err != nil {
		return fmt.Errorf("failed to assign ship %s: %w", shipSymbol, err)
	}
	if !acquired {
		// The lock may already be ours: a recovered container re-acquiring
		// its own ship must not deadlock against itself.
		existing, findErr := r.assignRepo.FindByShip(ctx, shipSymbol, r.entity.PlayerID())
		if findErr == nil && existing != nil && existing.ContainerID() == r.entity.ID() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrShipUnavailable, shipSymbol)
	}
	return nil
}

func (r *Runner) releaseShipLocks() {
	if r.assignRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	reason := "container exited"
	r.mu.RLock()
	if r.operatorStopped {
		reason = "container stopped"
	}
	r.mu.RUnlock()

	if err := r.assignRepo.ReleaseByContainer(ctx, r.entity.ID(), r.entity.PlayerID(), reason); err != nil {
		log.Printf("container %s: failed to release ship assignments: %v", r.entity.ID(), err)
	}
}

// finalizeInterruptedRestart covers the narrow window where an operator
// stop raced a restart: the entity re-entered RUNNING after Stop already
// returned through the mid-backoff path, so nobody else records the stop.
func (r *Runner) finalizeInterruptedRestart() {
	r.mu.Lock()
	if !r.operatorStopped || r.entity.Status() != container.ContainerStatusRunning {
		r.mu.Unlock()
		return
	}
	_ = r.entity.Stop("stopped by operator")
	_ = r.entity.MarkStopped()
	r.mu.Unlock()

	now := r.clock.Now()
	r.persistStatus(container.ContainerStatusStopped, &now, "stopped by operator")
}

// publishCompletion announces the container's exit on the event bus so a
// coordinating parent container learns its worker is done with the ship.
func (r *Runner) publishCompletion() {
	if r.eventPublisher == nil {
		return
	}

	r.mu.RLock()
	status := r.entity.Status()
	reason := r.entity.ExitReason()
	r.mu.RUnlock()

	shipSymbol, _ := r.entity.Spec().Params["ship_symbol"].(string)
	failed := status == container.ContainerStatusFailed
	event := navigation.WorkerCompletedEvent{
		ContainerID:   r.entity.ID(),
		PlayerID:      r.entity.PlayerID(),
		ShipSymbol:    shipSymbol,
		CoordinatorID: r.entity.ParentID(),
		Success:       !failed,
	}
	if failed {
		event.Error = reason
	}
	r.eventPublisher.PublishWorkerCompleted(event)
}

// failStartup records a failure that happened before the work loop began.
func (r *Runner) failStartup(cause error) {
	r.mu.Lock()
	_ = r.entity.Fail(cause)
	r.mu.Unlock()
	now := r.clock.Now()
	r.persistStatus(container.ContainerStatusFailed, &now, cause.Error())
	r.Log("ERROR", fmt.Sprintf("container failed to start: %v", cause), nil)
	close(r.done)
}

// persistStatus writes a status transition. A failed write is reported to
// the daemon log and otherwise ignored: persistence hiccups must not take
// the container down.
func (r *Runner) persistStatus(status container.ContainerStatus, stoppedAt *time.Time, exitReason string) {
	if r.containerRepo == nil || (r.dbHandle != nil && r.dbHandle.IsClosed()) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := r.containerRepo.UpdateStatus(ctx, r.entity.ID(), r.entity.PlayerID(), status, stoppedAt, exitReason); err != nil {
		log.Printf("container %s: failed to persist %s: %v", r.entity.ID(), status, err)
	}
}

func (r *Runner) persistProgress(iteration, restarts int) {
	if r.containerRepo == nil || (r.dbHandle != nil && r.dbHandle.IsClosed()) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := r.containerRepo.UpdateProgress(ctx, r.entity.ID(), r.entity.PlayerID(), iteration, restarts); err != nil {
		log.Printf("container %s: failed to persist progress: %v", r.entity.ID(), err)
	}
}

// Log implements common.ContainerLogger: every record emitted inside this
// container's context lands in container_logs tagged with the container and
// player. A failed write falls back to the daemon log; logging never kills
// the container.
func (r *Runner) Log(level, message string, metadata map[string]interface{}) {
	if r.logRepo == nil || (r.dbHandle != nil && r.dbHandle.IsClosed()) {
		log.Printf("[%s] %s: %s", r.entity.ID(), level, message)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	if err := r.logRepo.Log(ctx, r.entity.ID(), r.entity.PlayerID(), message, level, metadata); err != nil {
		log.Printf("[%s] %s: %s (log write failed: %v)", r.entity.ID(), level, message, err)
	}
}

// isDatabaseClosed classifies errors that mean "the daemon is tearing down
// storage", which a container treats as a quiet exit rather than a failure.
func (r *Runner) isDatabaseClosed(err error) bool {
	if r.dbHandle != nil && r.dbHandle.IsClosed() {
		return true
	}
	var closed *shared.DatabaseClosedError
	return errors.As(err, &closed) || errors.Is(err, sql.ErrConnDone)
}

func isCancellation(err error) bool {
	var cancelled *shared.CancellationError
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &cancelled)
}
