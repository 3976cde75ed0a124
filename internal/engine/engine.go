// Package engine defines the workflow-engine abstraction that drives a run's
// durable execution, mirroring the teacher's runtime/agent/engine package:
// a pluggable Engine interface so a run can execute against an in-process
// development engine or a Temporal-backed production engine without the
// scheduler or runner knowing which.
package engine

import (
	"context"
	"time"
)

type (
	// Engine registers workflows and activities and starts workflow
	// executions. Implementations translate these generic types into
	// backend-specific primitives (goroutines, Temporal, ...).
	Engine interface {
		// RegisterWorkflow registers a workflow definition. Must be called
		// before StartWorkflow names it.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		// RegisterActivity registers an activity definition. Must be called
		// before a workflow executes it.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		// StartWorkflow launches a workflow execution and returns a handle
		// for waiting on, signaling, or cancelling it. req.ID must be unique
		// within the engine.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a workflow's entry point. It must be deterministic:
	// the same inputs and activity results must produce the same execution
	// sequence, since replay-based engines re-run it from the event log.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must keep ExecuteActivity and SignalChannel
	// deterministic under replay; direct I/O or system time access within a
	// workflow body (outside an activity) violates that.
	WorkflowContext interface {
		// Context returns the Go context for the workflow. Use it as the
		// parent for ExecuteActivity calls.
		Context() context.Context
		// WorkflowID returns the workflow's caller-assigned ID.
		WorkflowID() string
		// RunID returns the engine-assigned execution ID, used for
		// correlation in logs and metrics.
		RunID() string
		// ExecuteActivity schedules an activity and blocks for its result,
		// decoding it into result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// ExecuteActivityAsync schedules an activity without blocking. The
		// returned Future resolves once the activity completes.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		// SignalChannel returns the channel signals with this name arrive
		// on.
		SignalChannel(name string) SignalChannel
	}

	// Future is a pending activity result.
	Future interface {
		// Get blocks until the activity completes and decodes its result
		// into result. Safe to call more than once.
		Get(ctx context.Context, result any) error
		// IsReady reports whether Get would return without blocking.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc executes an activity. Unlike a WorkflowFunc, it may
	// perform I/O: call tools, the model, stores.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout defaults for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest describes how to schedule an activity from within a
	// workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets a caller interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, decoding its result
		// into result.
		Wait(ctx context.Context, result any) error
		// Signal delivers payload to the workflow's SignalChannel(name).
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy controls retry behavior shared by workflows and
	// activities. A zero value means the engine's default applies.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery in an engine-agnostic way.
	SignalChannel interface {
		// Receive blocks until a signal arrives and decodes it into dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync decodes a pending signal into dest without blocking,
		// reporting false if none was available.
		ReceiveAsync(dest any) bool
	}
)
