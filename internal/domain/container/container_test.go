package container

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContainer(policy RestartPolicy, maxIterations int) *Container {
	return NewContainer(
		"test-container", KindCommand,
		Spec{Command: "navigate", Params: map[string]interface{}{"ship_symbol": "SHIP-1"}},
		1, "", policy, maxIterations, nil, nil,
	)
}

func TestContainerLifecycle_HappyPath(t *testing.T) {
	c := newTestContainer(NewRestartPolicy(RestartPolicyNo, 0), 3)
	assert.Equal(t, ContainerStatusPending, c.Status())

	require.NoError(t, c.Begin())
	assert.Equal(t, ContainerStatusStarting, c.Status())

	require.NoError(t, c.MarkRunning())
	assert.Equal(t, ContainerStatusRunning, c.Status())

	require.NoError(t, c.IncrementIteration())
	assert.Equal(t, 1, c.CurrentIteration())
	assert.True(t, c.ShouldContinue())

	require.NoError(t, c.Stop("done"))
	assert.Equal(t, ContainerStatusStopping, c.Status())

	require.NoError(t, c.MarkStopped())
	assert.Equal(t, ContainerStatusStopped, c.Status())
	assert.True(t, c.IsFinished())
}

func TestContainerLifecycle_InvalidTransitions(t *testing.T) {
	c := newTestContainer(NewRestartPolicy(RestartPolicyNo, 0), 1)

	// Cannot run or stop before starting.
	assert.Error(t, c.MarkRunning())
	assert.Error(t, c.MarkStopped())
	assert.Error(t, c.IncrementIteration())

	require.NoError(t, c.Begin())
	assert.Error(t, c.Begin()) // double-begin

	require.NoError(t, c.MarkRunning())
	assert.Error(t, c.MarkRunning())

	// Cannot remove while running.
	assert.Error(t, c.Remove())

	require.NoError(t, c.Stop("operator"))
	require.NoError(t, c.MarkStopped())
	require.NoError(t, c.Remove())
	assert.Equal(t, ContainerStatusRemoved, c.Status())
}

func TestContainerFail_FromStartingAndRunning(t *testing.T) {
	c := newTestContainer(NewRestartPolicy(RestartPolicyNo, 0), 1)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Fail(errors.New("boot failure")))
	assert.Equal(t, ContainerStatusFailed, c.Status())
	assert.Equal(t, "boot failure", c.ExitReason())

	c2 := newTestContainer(NewRestartPolicy(RestartPolicyNo, 0), 1)
	require.NoError(t, c2.Begin())
	require.NoError(t, c2.MarkRunning())
	require.NoError(t, c2.Fail(errors.New("mid-flight failure")))
	assert.Equal(t, ContainerStatusFailed, c2.Status())
}

func TestPrepareRestart_ResetsToPendingAndCountsRestart(t *testing.T) {
	c := newTestContainer(NewRestartPolicy(RestartPolicyOnFailure, 3), 2)
	require.NoError(t, c.Begin())
	require.NoError(t, c.MarkRunning())
	require.NoError(t, c.IncrementIteration())
	require.NoError(t, c.Fail(errors.New("transient")))

	require.NoError(t, c.PrepareRestart())
	assert.Equal(t, ContainerStatusPending, c.Status())
	assert.Equal(t, 0, c.CurrentIteration())
	assert.Equal(t, 1, c.RestartCount())

	require.NoError(t, c.Begin())
	require.NoError(t, c.MarkRunning())
}

func TestRestoreCounters_DoesNotAdvanceRestartCount(t *testing.T) {
	c := newTestContainer(NewRestartPolicy(RestartPolicyAlways, 0), -1)
	c.RestoreCounters(7, 2)
	assert.Equal(t, 7, c.CurrentIteration())
	assert.Equal(t, 2, c.RestartCount())
}

func TestRestartPolicy_ShouldRestart(t *testing.T) {
	tests := []struct {
		name            string
		kind            RestartPolicyKind
		finalStatus     ContainerStatus
		operatorStopped bool
		restartCount    int
		maxRestarts     int
		want            bool
	}{
		{"no policy never restarts on failure", RestartPolicyNo, ContainerStatusFailed, false, 0, 0, false},
		{"no policy never restarts on stop", RestartPolicyNo, ContainerStatusStopped, false, 0, 0, false},
		{"on-failure restarts failures", RestartPolicyOnFailure, ContainerStatusFailed, false, 0, 0, true},
		{"on-failure ignores clean exits", RestartPolicyOnFailure, ContainerStatusStopped, false, 0, 0, false},
		{"always restarts failures", RestartPolicyAlways, ContainerStatusFailed, false, 0, 0, true},
		{"always restarts clean exits", RestartPolicyAlways, ContainerStatusStopped, false, 0, 0, true},
		{"operator stop overrides always", RestartPolicyAlways, ContainerStatusStopped, true, 0, 0, false},
		{"operator stop overrides on-failure", RestartPolicyOnFailure, ContainerStatusFailed, true, 0, 0, false},
		{"restart budget exhausted", RestartPolicyOnFailure, ContainerStatusFailed, false, 3, 3, false},
		{"restart budget remaining", RestartPolicyOnFailure, ContainerStatusFailed, false, 2, 3, true},
		{"zero max means unlimited", RestartPolicyAlways, ContainerStatusFailed, false, 100, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRestartPolicy(tt.kind, tt.maxRestarts)
			assert.Equal(t, tt.want, p.ShouldRestart(tt.finalStatus, tt.operatorStopped, tt.restartCount))
		})
	}
}

func TestRestartPolicy_BackoffIsExponentialAndCapped(t *testing.T) {
	p := RestartPolicy{
		Kind:           RestartPolicyAlways,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
	}

	assert.Equal(t, 1*time.Second, p.BackoffDuration(0))
	assert.Equal(t, 2*time.Second, p.BackoffDuration(1))
	assert.Equal(t, 4*time.Second, p.BackoffDuration(2))
	assert.Equal(t, 8*time.Second, p.BackoffDuration(3))
	assert.Equal(t, 8*time.Second, p.BackoffDuration(10))
	assert.Equal(t, 8*time.Second, p.BackoffDuration(1000))
}

func TestWorkerContainer_InfiniteIterations(t *testing.T) {
	c := NewContainer("worker-1", KindWorker, Spec{Command: "market-worker"}, 1, "", NewRestartPolicy(RestartPolicyNo, 0), -1, nil, nil)
	require.NoError(t, c.Begin())
	require.NoError(t, c.MarkRunning())
	for i := 0; i < 50; i++ {
		require.NoError(t, c.IncrementIteration())
	}
	assert.True(t, c.ShouldContinue())
}
