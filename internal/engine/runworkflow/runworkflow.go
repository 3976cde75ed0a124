// Package runworkflow wraps the scheduler's existing step-loop execution
// (scheduler.Execute) as a single engine workflow/activity pair, so a run can
// be launched through engine.Engine — and durably retried and orchestrated by
// Temporal when the Temporal engine is selected — without rearchitecting the
// scheduler's checkpoint/approval/escalation handling into per-step
// activities.
//
// The teacher's Temporal engine drives execution at tool/step granularity
// (one activity per planner call, one per tool call). This package
// deliberately uses a coarser run-granularity activity instead: the run
// execution engine already makes step-level progress durable through its own
// checkpoint store (internal/checkpoint) and resumes a suspended run by
// re-invoking the scheduler, so a Temporal activity boundary at run
// granularity adds durable retry and visibility on top of that without
// duplicating it.
package runworkflow

import (
	"context"
	"fmt"

	"github.com/agentruntime/core/internal/engine"
	"github.com/agentruntime/core/internal/run"
)

// WorkflowName identifies the workflow registered by Register.
const WorkflowName = "run_agent"

// ActivityName identifies the activity registered by Register.
const ActivityName = "execute_run"

// Executor is the subset of scheduler.Scheduler the activity needs.
type Executor interface {
	Execute(ctx context.Context, runID string) (run.Status, error)
}

// Input is the workflow/activity payload: the run to execute.
type Input struct {
	RunID string
}

// Output is the workflow/activity result.
type Output struct {
	Status run.Status
}

// Register binds WorkflowName and ActivityName against eng, so
// engine.Engine.StartWorkflow(ctx, {Workflow: WorkflowName, Input: Input{...}})
// drives execution through whichever engine (in-memory or Temporal) the
// caller configured.
func Register(ctx context.Context, eng engine.Engine, exec Executor, taskQueue string) error {
	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    ActivityName,
		Handler: activityHandler(exec),
	}); err != nil {
		return fmt.Errorf("runworkflow: register activity: %w", err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      WorkflowName,
		TaskQueue: taskQueue,
		Handler:   workflowHandler,
	}); err != nil {
		return fmt.Errorf("runworkflow: register workflow: %w", err)
	}
	return nil
}

func activityHandler(exec Executor) engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		in, ok := input.(Input)
		if !ok {
			return nil, fmt.Errorf("runworkflow: unexpected activity input %T", input)
		}
		status, err := exec.Execute(ctx, in.RunID)
		if err != nil {
			return Output{Status: status}, err
		}
		return Output{Status: status}, nil
	}
}

func workflowHandler(ctx engine.WorkflowContext, input any) (any, error) {
	in, ok := input.(Input)
	if !ok {
		return nil, fmt.Errorf("runworkflow: unexpected workflow input %T", input)
	}
	var out Output
	if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name:  ActivityName,
		Input: in,
	}, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Start launches run_agent for runID against eng and waits for its result.
func Start(ctx context.Context, eng engine.Engine, runID string) (run.Status, error) {
	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-" + runID,
		Workflow: WorkflowName,
		Input:    Input{RunID: runID},
	})
	if err != nil {
		return "", fmt.Errorf("runworkflow: start: %w", err)
	}
	var out Output
	if err := handle.Wait(ctx, &out); err != nil {
		return out.Status, err
	}
	return out.Status, nil
}
