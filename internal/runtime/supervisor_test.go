package runtime_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/application/common"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/internal/runtime"
	"github.com/acdtunes/fleetd/test/helpers"
)

// testCommand is the request the test handler answers.
type testCommand struct {
	Item string
}

// testHandler counts calls and behaves per its configuration: fail always,
// or block until cancellation.
type testHandler struct {
	calls atomic.Int32
	fail  bool
	block bool
}

func (h *testHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	h.calls.Add(1)
	if h.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if h.fail {
		return nil, errors.New("simulated command failure")
	}
	return "ok", nil
}

type fixedRunnable struct {
	request common.Request
}

func (f fixedRunnable) Next(int) (common.Request, bool, error) {
	return f.request, true, nil
}

type queueRunnable struct {
	queue *runtime.WorkQueue
}

func (q queueRunnable) Next(int) (common.Request, bool, error) {
	item, ok := q.queue.Dequeue()
	if !ok {
		return nil, false, nil
	}
	return &testCommand{Item: item}, true, nil
}

type fixture struct {
	db            *gorm.DB
	mediator      common.Mediator
	handler       *testHandler
	registry      *runtime.Registry
	supervisor    *runtime.Supervisor
	containerRepo *persistence.ContainerRepositoryGORM
	logRepo       *persistence.GormContainerLogRepository
	assignRepo    *persistence.ShipAssignmentRepositoryGORM
}

func newFixture(t *testing.T, handler *testHandler) *fixture {
	t.Helper()

	db := helpers.NewTestDB(t)
	mediator := common.NewMediator()
	require.NoError(t, common.RegisterHandler[*testCommand](mediator, handler))

	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register("test-cmd", container.KindCommand,
		func(spec container.Spec, playerID int) (runtime.Runnable, error) {
			return fixedRunnable{request: &testCommand{}}, nil
		}))
	require.NoError(t, registry.Register("test-worker", container.KindWorker,
		func(spec container.Spec, playerID int) (runtime.Runnable, error) {
			items, _ := spec.Params["items"].([]interface{})
			strs := make([]string, 0, len(items))
			for _, item := range items {
				strs = append(strs, item.(string))
			}
			return queueRunnable{queue: runtime.NewWorkQueue(strs)}, nil
		}))

	containerRepo := persistence.NewContainerRepository(db)
	logRepo := persistence.NewGormContainerLogRepository(db, nil)
	assignRepo := persistence.NewShipAssignmentRepository(db)

	supervisor := runtime.NewSupervisor(
		mediator, registry, containerRepo, logRepo, assignRepo, nil, nil,
		runtime.Options{GracePeriod: 2 * time.Second},
	)

	return &fixture{
		db:            db,
		mediator:      mediator,
		handler:       handler,
		registry:      registry,
		supervisor:    supervisor,
		containerRepo: containerRepo,
		logRepo:       logRepo,
		assignRepo:    assignRepo,
	}
}

func (f *fixture) status(t *testing.T, containerID string) string {
	t.Helper()
	model, err := f.containerRepo.FindByID(context.Background(), containerID)
	if err != nil || model == nil {
		return ""
	}
	return model.Status
}

func (f *fixture) waitForStatus(t *testing.T, containerID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.status(t, containerID) == want
	}, 10*time.Second, 20*time.Millisecond, "container %s never reached %s", containerID, want)
}

func TestSupervisor_CreateStartRunToCompletion(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	entity, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID:   "c1",
		PlayerID:      1,
		Command:       "test-cmd",
		MaxIterations: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, container.ContainerStatusPending, entity.Status())
	assert.Equal(t, "PENDING", f.status(t, "c1"))

	require.NoError(t, f.supervisor.Start(ctx, "c1"))
	f.waitForStatus(t, "c1", "STOPPED")

	assert.EqualValues(t, 3, f.handler.calls.Load())

	model, err := f.containerRepo.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, model.CurrentIteration)
	assert.Equal(t, 0, model.RestartCount)
}

func TestSupervisor_CreateDuplicateFails(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{ContainerID: "c1", PlayerID: 1, Command: "test-cmd"})
	require.NoError(t, err)

	_, err = f.supervisor.Create(ctx, runtime.CreateRequest{ContainerID: "c1", PlayerID: 1, Command: "test-cmd"})
	assert.ErrorIs(t, err, runtime.ErrContainerExists)
}

func TestSupervisor_CreateUnknownCommandFails(t *testing.T) {
	f := newFixture(t, &testHandler{})

	_, err := f.supervisor.Create(context.Background(), runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "does-not-exist",
	})
	assert.ErrorIs(t, err, runtime.ErrUnknownCommand)
}

func TestSupervisor_StopRunningContainer(t *testing.T) {
	f := newFixture(t, &testHandler{block: true})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: -1, Autostart: true,
	})
	require.NoError(t, err)
	f.waitForStatus(t, "c1", "RUNNING")

	require.NoError(t, f.supervisor.Stop(ctx, "c1"))
	assert.Equal(t, "STOPPED", f.status(t, "c1"))

	// Stopping again is an invalid state, not a crash.
	err = f.supervisor.Stop(ctx, "c1")
	assert.ErrorIs(t, err, runtime.ErrInvalidState)
}

func TestSupervisor_StopUnknownContainer(t *testing.T) {
	f := newFixture(t, &testHandler{})
	err := f.supervisor.Stop(context.Background(), "ghost")
	assert.ErrorIs(t, err, runtime.ErrContainerNotFound)
}

func TestSupervisor_RemoveLifecycle(t *testing.T) {
	f := newFixture(t, &testHandler{block: true})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: -1, Autostart: true,
	})
	require.NoError(t, err)
	f.waitForStatus(t, "c1", "RUNNING")

	// Remove while running is rejected.
	assert.ErrorIs(t, f.supervisor.Remove(ctx, "c1"), runtime.ErrInvalidState)

	require.NoError(t, f.supervisor.Stop(ctx, "c1"))
	require.NoError(t, f.supervisor.Remove(ctx, "c1"))

	model, err := f.containerRepo.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, model)

	// Remove after remove reports not-found (idempotent from the operator's
	// point of view: the container is gone either way).
	assert.ErrorIs(t, f.supervisor.Remove(ctx, "c1"), runtime.ErrContainerNotFound)

	// Logs went with it.
	logs, err := f.logRepo.GetLogs(ctx, "c1", 1, 100, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSupervisor_RestartOnFailure(t *testing.T) {
	f := newFixture(t, &testHandler{fail: true})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID:   "c1",
		PlayerID:      1,
		Command:       "test-cmd",
		MaxIterations: 1,
		RestartPolicy: container.RestartPolicyOnFailure,
		MaxRestarts:   1,
		Autostart:     true,
	})
	require.NoError(t, err)

	f.waitForStatus(t, "c1", "FAILED")
	require.Eventually(t, func() bool {
		model, err := f.containerRepo.FindByID(ctx, "c1")
		return err == nil && model != nil && model.RestartCount == 1 && model.Status == "FAILED"
	}, 10*time.Second, 50*time.Millisecond)

	// Initial attempt plus exactly one restart.
	assert.EqualValues(t, 2, f.handler.calls.Load())
}

func TestSupervisor_NoRestartPolicyFailsOnce(t *testing.T) {
	f := newFixture(t, &testHandler{fail: true})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: 1, Autostart: true,
	})
	require.NoError(t, err)

	f.waitForStatus(t, "c1", "FAILED")
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, f.handler.calls.Load())
}

func TestSupervisor_WorkerDrainsQueueAndStops(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "w1",
		PlayerID:    1,
		Command:     "test-worker",
		Params: map[string]interface{}{
			"items": []interface{}{"X1-M1", "X1-M2", "X1-M3"},
		},
		Autostart: true,
	})
	require.NoError(t, err)

	f.waitForStatus(t, "w1", "STOPPED")
	assert.EqualValues(t, 3, f.handler.calls.Load())

	model, err := f.containerRepo.FindByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 3, model.CurrentIteration)
	assert.Equal(t, "work queue drained", model.ExitReason)
}

func TestSupervisor_ShipLockExclusion(t *testing.T) {
	f := newFixture(t, &testHandler{block: true})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: -1,
		Params:    map[string]interface{}{"ship_symbol": "SHIP-1"},
		Autostart: true,
	})
	require.NoError(t, err)
	f.waitForStatus(t, "c1", "RUNNING")

	_, err = f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c2", PlayerID: 1, Command: "test-cmd", MaxIterations: -1,
		Params:    map[string]interface{}{"ship_symbol": "SHIP-1"},
		Autostart: true,
	})
	assert.ErrorIs(t, err, runtime.ErrShipUnavailable)
	f.waitForStatus(t, "c2", "FAILED")

	// Stopping the winner releases the ship; the loser can then start.
	require.NoError(t, f.supervisor.Stop(ctx, "c1"))
	require.NoError(t, f.supervisor.Start(ctx, "c2"))
	f.waitForStatus(t, "c2", "RUNNING")

	require.NoError(t, f.supervisor.Stop(ctx, "c2"))
}

func TestSupervisor_RecoverRebootsRunningContainers(t *testing.T) {
	f := newFixture(t, &testHandler{block: true})
	ctx := context.Background()

	// Simulate a previous daemon run: three RUNNING rows, no live runners.
	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
			ContainerID:   id,
			PlayerID:      1,
			Command:       "test-cmd",
			MaxIterations: -1,
			RestartPolicy: container.RestartPolicyAlways,
		})
		require.NoError(t, err)
		require.NoError(t, f.containerRepo.UpdateStatus(ctx, id, 1, container.ContainerStatusRunning, nil, ""))
	}

	// A fresh supervisor over the same database plays the restarted daemon.
	recovered := runtime.NewSupervisor(
		f.mediator, f.registry, f.containerRepo, f.logRepo, f.assignRepo, nil, nil,
		runtime.Options{GracePeriod: 2 * time.Second},
	)
	require.NoError(t, recovered.Recover(ctx))

	for _, id := range []string{"r1", "r2", "r3"} {
		f.waitForStatus(t, id, "RUNNING")
		model, err := f.containerRepo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, model.RestartCount, "recovery must not count as a restart")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recovered.Shutdown(shutdownCtx)
}

func TestSupervisor_LogSequenceIsMonotonic(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: 3, Autostart: true,
	})
	require.NoError(t, err)
	f.waitForStatus(t, "c1", "STOPPED")

	logs, err := f.logRepo.GetLogs(ctx, "c1", 1, 1000, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, logs)

	// GetLogs returns newest-first; walking it, IDs strictly decrease and
	// timestamps never increase.
	for i := 1; i < len(logs); i++ {
		assert.Greater(t, logs[i-1].ID, logs[i].ID)
		assert.False(t, logs[i-1].Timestamp.Before(logs[i].Timestamp))
	}
}

func TestSupervisor_InspectIncludesLogsInOrder(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{
		ContainerID: "c1", PlayerID: 1, Command: "test-cmd", MaxIterations: 2, Autostart: true,
	})
	require.NoError(t, err)
	f.waitForStatus(t, "c1", "STOPPED")

	result, err := f.supervisor.Inspect(ctx, "c1", true, 100)
	require.NoError(t, err)
	require.NotNil(t, result.Model)
	require.NotEmpty(t, result.Logs)

	for i := 1; i < len(result.Logs); i++ {
		assert.Less(t, result.Logs[i-1].ID, result.Logs[i].ID, "inspect logs must be oldest-first")
	}
}

func TestSupervisor_ListFiltersByPlayer(t *testing.T) {
	f := newFixture(t, &testHandler{})
	ctx := context.Background()

	_, err := f.supervisor.Create(ctx, runtime.CreateRequest{ContainerID: "p1c", PlayerID: 1, Command: "test-cmd"})
	require.NoError(t, err)
	_, err = f.supervisor.Create(ctx, runtime.CreateRequest{ContainerID: "p2c", PlayerID: 2, Command: "test-cmd"})
	require.NoError(t, err)

	all, err := f.supervisor.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	playerOne := 1
	filtered, err := f.supervisor.List(ctx, &playerOne)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "p1c", filtered[0].ID)
}
