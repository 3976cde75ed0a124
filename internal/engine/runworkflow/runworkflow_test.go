package runworkflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/engine/inmem"
	"github.com/agentruntime/core/internal/engine/runworkflow"
	"github.com/agentruntime/core/internal/run"
)

type fakeExecutor struct {
	calledWith string
	status     run.Status
	err        error
}

func (f *fakeExecutor) Execute(_ context.Context, runID string) (run.Status, error) {
	f.calledWith = runID
	return f.status, f.err
}

func TestStartDrivesExecutorThroughInmemEngine(t *testing.T) {
	eng := inmem.New()
	exec := &fakeExecutor{status: run.StatusCompleted}
	ctx := context.Background()

	require.NoError(t, runworkflow.Register(ctx, eng, exec, "test-queue"))

	status, err := runworkflow.Start(ctx, eng, "run-123")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, status)
	require.Equal(t, "run-123", exec.calledWith)
}

func TestStartPropagatesExecutorError(t *testing.T) {
	eng := inmem.New()
	exec := &fakeExecutor{status: run.StatusFailed, err: errors.New("step failed")}
	ctx := context.Background()

	require.NoError(t, runworkflow.Register(ctx, eng, exec, "test-queue"))

	status, err := runworkflow.Start(ctx, eng, "run-456")
	require.Error(t, err)
	require.Equal(t, run.StatusFailed, status)
}
