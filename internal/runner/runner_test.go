package runner_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/checkpoint"
	"github.com/agentruntime/core/internal/event"
	"github.com/agentruntime/core/internal/memory"
	"github.com/agentruntime/core/internal/model"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/runner"
	"github.com/agentruntime/core/internal/toolrouter"
	"github.com/agentruntime/core/internal/tools"

	"github.com/agentruntime/core/internal/agent"
)

type fakeCheckpoints struct {
	mu    sync.Mutex
	saves map[string]checkpoint.Snapshot
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{saves: make(map[string]checkpoint.Snapshot)}
}

func ckey(runID string, agentID agent.Ident) string { return runID + "/" + string(agentID) }

func (f *fakeCheckpoints) Save(_ context.Context, runID string, agentID agent.Ident, _ string, snapshot checkpoint.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves[ckey(runID, agentID)] = snapshot
	return nil
}

func (f *fakeCheckpoints) Latest(_ context.Context, runID string, agentID agent.Ident) (checkpoint.Snapshot, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.saves[ckey(runID, agentID)]
	return snap, "latest", ok, nil
}

func drain(t *testing.T, events <-chan event.Event) []event.Event {
	t.Helper()
	var out []event.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []event.Event) []event.Type {
	out := make([]event.Type, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func newRouter(t *testing.T, regs ...tools.Registration) *toolrouter.Router {
	t.Helper()
	reg, err := tools.NewRegistry(nil, regs...)
	require.NoError(t, err)
	return toolrouter.New(reg)
}

func TestRunnerFinalAnswerOnFirstStep(t *testing.T) {
	fake := model.NewFakeClient(model.Response{Content: "42 is the answer"})
	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    5,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      newRouter(t),
		Checkpoints: newFakeCheckpoints(),
	})

	events, outcomeCh := r.Run(context.Background(), runner.Input{RunID: "r1", UserInput: "what is 6*7?"})
	seen := drain(t, events)
	outcome := <-outcomeCh

	require.Equal(t, run.StatusCompleted, outcome.Status)
	require.Equal(t, "42 is the answer", outcome.Output)
	require.Equal(t, 1, outcome.Steps)
	require.Equal(t,
		[]event.Type{event.TypeRunStarted, event.TypeStepStarted, event.TypeLLMCalled, event.TypeStepCompleted, event.TypeRunCompleted},
		eventTypes(seen),
	)
}

func TestRunnerOneToolRoundTrip(t *testing.T) {
	fake := model.NewFakeClient(
		model.Response{ToolCalls: []model.ToolCall{{ID: "tc1", Name: "memory_search", Args: json.RawMessage(`{"query":"x"}`)}}},
		model.Response{Content: "done"},
	)
	searchCalled := false
	reg := toolRegistration(t, "memory_search", func(_ context.Context, _ json.RawMessage) (any, error) {
		searchCalled = true
		return map[string]any{"hits": []string{}}, nil
	})
	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    5,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      toolrouter.New(reg),
		Checkpoints: newFakeCheckpoints(),
	})

	events, outcomeCh := r.Run(context.Background(), runner.Input{RunID: "r2", UserInput: "search for x"})
	seen := drain(t, events)
	outcome := <-outcomeCh

	require.True(t, searchCalled)
	require.Equal(t, run.StatusCompleted, outcome.Status)
	require.Equal(t,
		[]event.Type{
			event.TypeRunStarted,
			event.TypeStepStarted, event.TypeLLMCalled, event.TypeToolCalled, event.TypeToolResult, event.TypeStepCompleted,
			event.TypeStepStarted, event.TypeLLMCalled, event.TypeStepCompleted,
			event.TypeRunCompleted,
		},
		eventTypes(seen),
	)
}

func TestRunnerDeniedToolIsBlockedButRunContinues(t *testing.T) {
	fake := model.NewFakeClient(
		model.Response{ToolCalls: []model.ToolCall{{ID: "tc1", Name: "memory_write", Args: json.RawMessage(`{}`)}}},
		model.Response{Content: "done anyway"},
	)
	reg := toolRegistration(t, "memory_write", func(_ context.Context, _ json.RawMessage) (any, error) {
		t.Fatal("denied tool handler should never execute")
		return nil, nil
	})
	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    5,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      toolrouter.New(reg),
		Checkpoints: newFakeCheckpoints(),
		DeniedTools: []string{"memory_write"},
	})

	events, outcomeCh := r.Run(context.Background(), runner.Input{RunID: "r3", UserInput: "write something"})
	seen := drain(t, events)
	outcome := <-outcomeCh

	require.Equal(t, run.StatusCompleted, outcome.Status)
	var blocked *event.ToolBlockedPayload
	for _, ev := range seen {
		require.NotEqual(t, event.TypeToolResult, ev.Type, "denied call must not produce tool.result")
		if ev.Type == event.TypeToolBlocked {
			p := ev.Payload.(event.ToolBlockedPayload)
			blocked = &p
		}
	}
	require.NotNil(t, blocked)
	require.Contains(t, blocked.Reason, "explicitly denied")
}

func TestRunnerMaxStepsExhausted(t *testing.T) {
	loopCall := model.Response{ToolCalls: []model.ToolCall{{ID: "tc", Name: "noop", Args: json.RawMessage(`{}`)}}}
	fake := model.NewFakeClient(loopCall, loopCall, loopCall)
	reg := toolRegistration(t, "noop", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    3,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      toolrouter.New(reg),
		Checkpoints: newFakeCheckpoints(),
	})

	events, outcomeCh := r.Run(context.Background(), runner.Input{RunID: "r4", UserInput: "loop forever"})
	drain(t, events)
	outcome := <-outcomeCh

	require.Equal(t, run.StatusFailed, outcome.Status)
	require.Equal(t, "MAX_STEPS", string(outcome.Error.Code))
}

func TestRunnerSuspendsOnApprovalGate(t *testing.T) {
	fake := model.NewFakeClient(model.Response{ToolCalls: []model.ToolCall{{ID: "tc1", Name: "wire_transfer", Args: json.RawMessage(`{}`)}}})
	reg, err := tools.NewRegistry(nil, tools.Registration{
		Spec:    tools.Spec{Name: "wire_transfer", Meta: tools.Meta{RiskLevel: tools.RiskHigh}},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) { return map[string]any{"ok": true}, nil },
	})
	require.NoError(t, err)

	checkpoints := newFakeCheckpoints()
	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    5,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      toolrouter.New(reg),
		Checkpoints: checkpoints,
	})

	events, outcomeCh := r.Run(context.Background(), runner.Input{RunID: "r5", UserInput: "send money"})
	drain(t, events)
	outcome := <-outcomeCh

	require.Equal(t, run.StatusSuspended, outcome.Status)
	require.Equal(t, "tc1", outcome.SuspendedToolCallID)
	require.Equal(t, "wire_transfer", outcome.SuspendedToolName)
	require.Equal(t, "high", outcome.SuspendedRiskLevel)
	require.Equal(t, "awaiting_approval", outcome.SuspensionReason)

	_, _, ok, err := checkpoints.Latest(context.Background(), "r5", "main")
	require.NoError(t, err)
	require.True(t, ok, "a suspended run must checkpoint its state so it can resume (spec.md §4.7 step 7)")
}

func TestRunnerCancellationStopsWithoutFurtherEvents(t *testing.T) {
	fake := model.NewFakeClient(model.Response{Content: "should never be reached"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := runner.New(runner.Config{
		AgentID:     "main",
		MaxSteps:    5,
		Model:       fake,
		Memory:      memory.NewFakeReader(nil, nil),
		Router:      newRouter(t),
		Checkpoints: newFakeCheckpoints(),
	})

	events, outcomeCh := r.Run(ctx, runner.Input{RunID: "r6", UserInput: "go"})
	seen := drain(t, events)
	outcome := <-outcomeCh

	require.Equal(t, run.StatusCancelled, outcome.Status)
	require.Empty(t, seen)
}

func toolRegistration(t *testing.T, name tools.Ident, handler tools.Handler) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(nil, tools.Registration{Spec: tools.Spec{Name: name}, Handler: handler})
	require.NoError(t, err)
	return reg
}
