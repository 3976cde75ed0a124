// Package scheduler implements the Run Scheduler: it transitions a queued
// run to running, picks the single-agent or serial-group execution path,
// consumes the resulting event stream, and persists/broadcasts every event
// (spec.md §3, §4.7).
package scheduler

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/approval"
	"github.com/agentruntime/core/internal/checkpoint"
	"github.com/agentruntime/core/internal/engineerr"
	"github.com/agentruntime/core/internal/event"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/runner"
	"github.com/agentruntime/core/internal/telemetry"
)

// tokenEventBatchSize bounds how many llm.token events the scheduler
// buffers before flushing them as one appendBatch call (spec.md §4.1).
const tokenEventBatchSize = 24

type (
	// AgentRunner is the subset of runner.Runner the scheduler depends on,
	// letting a group orchestrator satisfy it too when scheduling a member
	// run.
	AgentRunner interface {
		Run(ctx context.Context, in runner.Input) (<-chan event.Event, <-chan runner.Outcome)
	}

	// RunnerFactory builds the runner for one run attempt: a single-agent
	// Runner, or (when the run has a group id) a serial orchestrator
	// wrapping several runners. The scheduler only depends on the
	// AgentRunner contract, not on which concrete implementation produced
	// it.
	RunnerFactory func(ctx context.Context, rec run.Record) (AgentRunner, runner.Input, error)

	// ApprovalCreator is the subset of approval.Broker the scheduler depends
	// on to open a human-in-the-loop gate when a run suspends on a tool call
	// pending a decision (spec.md §4.7 step 7, §4.10).
	ApprovalCreator interface {
		Create(ctx context.Context, req approval.Request) error
	}

	// EscalationNotifier is the subset of escalation.Tracker the scheduler
	// depends on to resolve a parent run's dependency once a child run it
	// just executed reaches a terminal state (spec.md §4.8).
	EscalationNotifier interface {
		OnChildTerminal(ctx context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error
	}

	// Scheduler coordinates run execution across a bounded pool of
	// concurrent in-flight runs.
	Scheduler struct {
		runs        run.Store
		events      event.Bus
		checkpoints checkpoint.Store
		factory     RunnerFactory
		sem         *semaphore.Weighted
		approvals   ApprovalCreator
		escalations EscalationNotifier

		logger telemetry.Logger
		metrics telemetry.Metrics

		mu      sync.Mutex
		cancels map[string]context.CancelFunc
	}

	// Option configures a Scheduler at construction.
	Option func(*Scheduler)
)

// ErrAlreadyCancelled is returned by Cancel when the run has no in-flight
// execution to cancel (it may already be terminal, or not yet started).
var ErrAlreadyCancelled = errors.New("scheduler: run is not in flight")

// WithMaxConcurrentRuns bounds the number of runs executing at once
// (spec.md §5 "practical limits come from a configured max concurrent runs
// at the scheduler"). A non-positive value means unbounded.
func WithMaxConcurrentRuns(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTelemetry installs the logger/metrics used for scheduler-level
// observability.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics) Option {
	return func(s *Scheduler) { s.logger, s.metrics = logger, metrics }
}

// WithApprovals installs the Approval Broker the scheduler opens a gate
// against when a run suspends on a tool call awaiting a human decision
// (spec.md §4.7 step 7). Without it, a suspension still transitions the run
// to suspended but no approval.Request is ever created, leaving the run
// stuck with nothing for an operator to decide on.
func WithApprovals(approvals ApprovalCreator) Option {
	return func(s *Scheduler) { s.approvals = approvals }
}

// WithEscalations installs the Dependency Tracker the scheduler notifies
// when a run with a parent (one created via tool-call escalation, spec.md
// §4.8) reaches a terminal state, so the parent's dependency row resolves
// and the parent is re-enqueued.
func WithEscalations(escalations EscalationNotifier) Option {
	return func(s *Scheduler) { s.escalations = escalations }
}

// New constructs a Scheduler.
func New(runs run.Store, events event.Bus, checkpoints checkpoint.Store, factory RunnerFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		runs:        runs,
		events:      events,
		checkpoints: checkpoints,
		factory:     factory,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs spec.md §4.7's steps for one queued run, blocking until the
// run reaches completed, failed, cancelled, or a suspension point
// (suspended/waiting). It is safe to call concurrently for different run
// ids; the scheduler serializes nothing across runs beyond the optional
// concurrency cap.
func (s *Scheduler) Execute(ctx context.Context, runID string) (run.Status, error) {
	rec, err := s.runs.Get(ctx, runID)
	if err != nil {
		return "", err
	}

	// Step 1: already cancelled.
	if ctx.Err() != nil {
		_ = s.runs.Transition(ctx, runID, run.StatusCancelled, nil)
		return run.StatusCancelled, ctx.Err()
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer s.sem.Release(1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
		cancel()
	}()

	// Step 5: transition to running.
	if err := s.runs.Transition(runCtx, runID, run.StatusRunning, func(r *run.Record) {}); err != nil {
		return "", err
	}

	// Steps 2-4, 6: resolve the runner for this attempt (single vs group,
	// model config, router/scope binding are the factory's concern).
	agentRunner, in, err := s.factory(runCtx, rec)
	if err != nil {
		_ = s.runs.Transition(runCtx, runID, run.StatusFailed, func(r *run.Record) {
			r.Error = &run.Failure{Code: string(engineerr.ExecutorError), Message: err.Error()}
		})
		return run.StatusFailed, err
	}

	events, outcomeCh := agentRunner.Run(runCtx, in)
	return s.consume(runCtx, rec, events, outcomeCh)
}

// consume implements step 7: drain the runner's event stream, batching
// llm.token events for persistence while broadcasting them live
// immediately, and react to the terminal outcome.
func (s *Scheduler) consume(ctx context.Context, rec run.Record, events <-chan event.Event, outcomeCh <-chan runner.Outcome) (run.Status, error) {
	runID := rec.RunID
	var tokenBatch []event.Event

	flush := func() {
		if len(tokenBatch) == 0 {
			return
		}
		_ = s.events.AppendBatch(ctx, tokenBatch)
		tokenBatch = nil
	}

	for ev := range events {
		if ev.Type == event.TypeLLMToken {
			_ = s.events.BroadcastToRun(ctx, runID, ev)
			tokenBatch = append(tokenBatch, ev)
			if len(tokenBatch) >= tokenEventBatchSize {
				flush()
			}
			continue
		}
		flush()
		_ = s.events.Append(ctx, ev)
	}
	flush()

	outcome := <-outcomeCh
	return s.applyOutcome(ctx, rec, outcome)
}

func (s *Scheduler) applyOutcome(ctx context.Context, rec run.Record, outcome runner.Outcome) (run.Status, error) {
	runID := rec.RunID
	switch outcome.Status {
	case run.StatusCompleted:
		err := s.runs.Transition(ctx, runID, run.StatusCompleted, func(r *run.Record) {
			r.Result = outcome.Output
		})
		if err != nil {
			return run.StatusCompleted, err
		}
		s.notifyParent(ctx, rec, run.StatusCompleted, outcome.Output, nil)
		return run.StatusCompleted, nil

	case run.StatusFailed:
		if outcome.Error != nil && outcome.Error.Code == engineerr.Cancelled {
			err := s.runs.Transition(ctx, runID, run.StatusCancelled, nil)
			if err != nil {
				return run.StatusCancelled, err
			}
			s.notifyParent(ctx, rec, run.StatusCancelled, "", nil)
			return run.StatusCancelled, nil
		}
		var failure run.Failure
		if outcome.Error != nil {
			failure = run.Failure{Code: string(outcome.Error.Code), Message: outcome.Error.Message, Details: outcome.Error.Details}
		}
		err := s.runs.Transition(ctx, runID, run.StatusFailed, func(r *run.Record) {
			r.Error = &failure
		})
		if err != nil {
			return run.StatusFailed, err
		}
		s.notifyParent(ctx, rec, run.StatusFailed, "", &failure)
		return run.StatusFailed, nil

	case run.StatusCancelled:
		err := s.runs.Transition(ctx, runID, run.StatusCancelled, nil)
		if err != nil {
			return run.StatusCancelled, err
		}
		s.notifyParent(ctx, rec, run.StatusCancelled, "", nil)
		return run.StatusCancelled, nil

	case run.StatusSuspended:
		if outcome.EscalationChildRunID != "" {
			err := s.runs.Transition(ctx, runID, run.StatusWaiting, nil)
			return run.StatusWaiting, err
		}
		if s.approvals != nil {
			if err := s.approvals.Create(ctx, approval.Request{
				RunID:      runID,
				ToolCallID: outcome.SuspendedToolCallID,
				ToolName:   outcome.SuspendedToolName,
				Args:       outcome.SuspendedToolArgs,
				RiskLevel:  outcome.SuspendedRiskLevel,
				Reason:     outcome.SuspensionReason,
				Scope:      rec.Scope,
			}); err != nil {
				return "", err
			}
		}
		err := s.runs.Transition(ctx, runID, run.StatusSuspended, nil)
		return run.StatusSuspended, err

	default:
		return "", errors.New("scheduler: runner produced an unrecognized outcome status")
	}
}

// notifyParent resolves rec's dependency row on its parent run, if any, and
// re-enqueues the parent once this child's terminal outcome is recorded
// (spec.md §4.8). It is a no-op when rec has no parent or no escalation
// tracker was configured.
func (s *Scheduler) notifyParent(ctx context.Context, rec run.Record, status run.Status, result string, failure *run.Failure) {
	if rec.ParentRunID == "" || s.escalations == nil {
		return
	}
	_ = s.escalations.OnChildTerminal(ctx, rec.ParentRunID, rec.RunID, status, result, failure)
}

// Cancel requests cancellation of an in-flight run. It is a no-op error
// (ErrAlreadyCancelled) if the run is not currently executing under this
// scheduler instance.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if !ok {
		return ErrAlreadyCancelled
	}
	cancel()
	return nil
}

// Requeue re-enters a suspended or waiting run by invoking Execute again.
// It does not load a checkpoint itself: the resumed attempt starts from
// whatever runner.Input the RunnerFactory builds, which can come from
// BuildResumeInput. Callers (the approval broker, the dependency tracker)
// invoke this after applying a decision or observing a child's terminal
// event.
func (s *Scheduler) Requeue(ctx context.Context, runID string) error {
	_, err := s.Execute(ctx, runID)
	return err
}

// BuildResumeInput loads the latest checkpoint for (runID, agentID) and
// turns it into the runner.Input a resumed attempt should start from. It is
// exposed for RunnerFactory implementations that need to distinguish a
// fresh attempt from a resumed one.
func BuildResumeInput(ctx context.Context, checkpoints checkpoint.Store, runID string, agentID agent.Ident, fallbackInput string) (runner.Input, error) {
	snapshot, _, ok, err := checkpoints.Latest(ctx, runID, agentID)
	if err != nil {
		return runner.Input{}, err
	}
	if !ok {
		return runner.Input{RunID: runID, UserInput: fallbackInput}, nil
	}
	return runner.Input{RunID: runID, UserInput: fallbackInput, PriorMessages: snapshot.Messages}, nil
}
