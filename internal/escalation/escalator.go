package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/toolrouter"
)

// Executor starts execution of a freshly created run. The scheduler's
// Execute method satisfies this.
type Executor interface {
	Execute(ctx context.Context, runID string) (run.Status, error)
}

// RunEscalator implements toolrouter.Escalator: it creates the child run
// record a tool call's escalation request names, links it to the parent via
// the Tracker, and kicks off its execution (spec.md §4.8, "Concrete Scenario
// 5").
type RunEscalator struct {
	runs     run.Store
	tracker  *Tracker
	executor Executor
}

// NewRunEscalator constructs a RunEscalator. executor may be nil, in which
// case the child run is created and tracked but left pending for a
// separately-driven scheduler loop to pick up.
func NewRunEscalator(runs run.Store, tracker *Tracker, executor Executor) *RunEscalator {
	return &RunEscalator{runs: runs, tracker: tracker, executor: executor}
}

// Escalate creates a child run scoped to goal and role, records the
// parent-child dependency, and (if an executor was configured) starts the
// child running in the background. It returns the child run id the caller
// suspends on.
func (e *RunEscalator) Escalate(ctx context.Context, meta toolrouter.CallMeta, goal, role string) (string, error) {
	childID := fmt.Sprintf("%s-esc-%s", meta.RunID, meta.ToolCallID)

	if err := e.runs.Create(ctx, run.Record{
		RunID:       childID,
		Input:       goal,
		Status:      run.StatusPending,
		ParentRunID: meta.RunID,
		Labels:      map[string]string{"escalation_role": role, "escalation_tool_call_id": meta.ToolCallID},
		CreatedAt:   time.Now(),
	}); err != nil {
		return "", err
	}

	if err := e.tracker.RecordEscalation(ctx, meta.RunID, childID, meta.ToolCallID, goal); err != nil {
		return "", err
	}

	if e.executor != nil {
		go func() {
			_, _ = e.executor.Execute(context.WithoutCancel(ctx), childID)
		}()
	}

	return childID, nil
}
