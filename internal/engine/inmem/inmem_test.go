package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/engine"
	"github.com/agentruntime/core/internal/engine/inmem"
)

func TestWorkflowExecutesActivityAndReturnsResult(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			n := input.(int)
			return n * 2, nil
		},
	}))

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "double_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out int
			if err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: "double", Input: input}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "double_workflow",
		Input:    21,
	})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, 42, result)
}

func TestWorkflowPropagatesActivityError(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()
	boom := errStub("boom")

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "fail",
		Handler: func(_ context.Context, _ any) (any, error) { return nil, boom },
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "fail_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out any
			return nil, wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: "fail"}, &out)
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "fail_workflow"})
	require.NoError(t, err)

	err = handle.Wait(ctx, nil)
	require.ErrorIs(t, err, boom)
}

func TestSignalChannelDeliversToRunningWorkflow(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()
	received := make(chan string, 1)

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "signal_workflow",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			var payload string
			if err := wfCtx.SignalChannel("greeting").Receive(wfCtx.Context(), &payload); err != nil {
				return nil, err
			}
			received <- payload
			return nil, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-3", Workflow: "signal_workflow"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handle.Signal(ctx, "greeting", "hello") == nil
	}, time.Second, time.Millisecond)

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal delivery")
	}
	require.NoError(t, handle.Wait(ctx, nil))
}

func TestStartWorkflowRejectsUnregisteredName(t *testing.T) {
	eng := inmem.New()
	_, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "run-4", Workflow: "missing"})
	require.Error(t, err)
}

type errStub string

func (e errStub) Error() string { return string(e) }
