package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/approval"
	"github.com/agentruntime/core/internal/checkpoint"
	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/event"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/store/memstore"
)

func TestRunStoreTransitionEnforcesStateMachine(t *testing.T) {
	store := memstore.NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, run.Record{RunID: "r1", Status: run.StatusPending}))

	require.NoError(t, store.Transition(ctx, "r1", run.StatusRunning, nil))
	rec, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusRunning, rec.Status)

	err = store.Transition(ctx, "r1", run.StatusPending, nil)
	require.ErrorIs(t, err, run.ErrIllegalTransition)

	require.NoError(t, store.Transition(ctx, "r1", run.StatusCompleted, func(r *run.Record) {
		r.Result = "done"
	}))
	rec, err = store.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, rec.Status)
	require.Equal(t, "done", rec.Result)
}

func TestRunStoreCancelIsIdempotentOnTerminalStatus(t *testing.T) {
	store := memstore.NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, run.Record{RunID: "r2", Status: run.StatusCompleted}))

	require.NoError(t, store.Transition(ctx, "r2", run.StatusCancelled, nil))
	rec, err := store.Get(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, rec.Status, "cancel on a terminal run is a no-op, not a status change")
}

func TestRunStoreListByParent(t *testing.T) {
	store := memstore.NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, run.Record{RunID: "parent", Status: run.StatusRunning}))
	require.NoError(t, store.Create(ctx, run.Record{RunID: "child1", Status: run.StatusRunning, ParentRunID: "parent"}))
	require.NoError(t, store.Create(ctx, run.Record{RunID: "unrelated", Status: run.StatusRunning}))

	children, err := store.ListByParent(ctx, "parent")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "child1", children[0].RunID)
}

func TestEventStoreAppendAssignsSequence(t *testing.T) {
	store := memstore.NewEventStore()
	ctx := context.Background()

	e1, err := store.Append(ctx, event.Event{RunID: "r1", Type: event.TypeRunStarted})
	require.NoError(t, err)
	require.Equal(t, int64(1), e1.Seq)

	e2, err := store.Append(ctx, event.Event{RunID: "r1", Type: event.TypeRunCompleted})
	require.NoError(t, err)
	require.Equal(t, int64(2), e2.Seq)
}

func TestEventStoreListPaginatesByCursor(t *testing.T) {
	store := memstore.NewEventStore()
	ctx := context.Background()
	_, err := store.AppendBatch(ctx, []event.Event{
		{RunID: "r1", Type: event.TypeRunStarted},
		{RunID: "r1", Type: event.TypeStepStarted},
		{RunID: "r1", Type: event.TypeRunCompleted},
	})
	require.NoError(t, err)

	page, cursor, err := store.List(ctx, "r1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), cursor)

	rest, cursor, err := store.List(ctx, "r1", cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, int64(0), cursor, "cursor is 0 once the log is exhausted")
}

func TestCheckpointStoreLatestOnly(t *testing.T) {
	store := memstore.NewCheckpointStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "r1", agent.DefaultID, "step1", checkpoint.Snapshot{
		WorkingState: checkpoint.WorkingState{LastToolResult: "first"},
	}))
	require.NoError(t, store.Save(ctx, "r1", agent.DefaultID, "step2", checkpoint.Snapshot{
		WorkingState: checkpoint.WorkingState{LastToolResult: "second"},
	}))

	snap, stepID, ok, err := store.Latest(ctx, "r1", agent.DefaultID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "step2", stepID)
	require.Equal(t, "second", snap.WorkingState.LastToolResult)
}

func TestApprovalStoreDecideAndListPending(t *testing.T) {
	store := memstore.NewApprovalStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, approval.Request{RunID: "r1", ToolCallID: "tc1", ToolName: "wire_transfer"}))
	require.NoError(t, store.Create(ctx, approval.Request{RunID: "r2", ToolCallID: "tc2", ToolName: "wire_transfer"}))

	pending, err := store.ListPending(ctx, approval.ScopeFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.Decide(ctx, "r1", "tc1", approval.OutcomeApprove, ""))
	pending, err = store.ListPending(ctx, approval.ScopeFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "r2", pending[0].RunID)

	req, ok, err := store.Get(ctx, "r1", "tc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, approval.OutcomeApprove, req.Outcome)
}

func TestEscalationStoreEnforcesUniqueDependency(t *testing.T) {
	store := memstore.NewEscalationStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, escalation.Dependency{ParentRunID: "p1", ChildRunID: "c1", Goal: "research"}))
	err := store.Create(ctx, escalation.Dependency{ParentRunID: "p1", ChildRunID: "c1", Goal: "research again"})
	require.ErrorIs(t, err, escalation.ErrDuplicateDependency)

	require.NoError(t, store.MarkResolved(ctx, "p1", "c1", run.StatusCompleted, "done", nil))
	dep, err := store.Get(ctx, "p1", "c1")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, dep.ChildStatus)
}

func TestEscalationStoreMarkResolvedMissingDependency(t *testing.T) {
	store := memstore.NewEscalationStore()
	err := store.MarkResolved(context.Background(), "nope", "nope", run.StatusCompleted, "", nil)
	require.ErrorIs(t, err, escalation.ErrNotFound)
}
