// Package escalation implements the Dependency Tracker: it links a parent
// run to a child run created for a sub-task, and re-enqueues the parent
// once the child reaches a terminal state (spec.md §3, §4.8).
package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/agentruntime/core/internal/run"
)

type (
	// Dependency is one parent-child run link, keyed uniquely by
	// (ParentRunID, ChildRunID) to prevent duplicate escalations for the
	// same tool call (spec.md §4.8).
	Dependency struct {
		ParentRunID  string
		ChildRunID   string
		ToolCallID   string
		Goal         string
		ChildStatus  run.Status
		ChildResult  string
		ChildError   *run.Failure
		CreatedAt    time.Time
		ResolvedAt   time.Time
	}

	// Store persists dependency rows. Implementations must enforce the
	// unique (ParentRunID, ChildRunID) index (spec.md §4.8).
	Store interface {
		Create(ctx context.Context, dep Dependency) error
		Get(ctx context.Context, parentRunID, childRunID string) (Dependency, error)
		ListByParent(ctx context.Context, parentRunID string) ([]Dependency, error)
		// MarkResolved records the child's terminal outcome on its
		// dependency row.
		MarkResolved(ctx context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error
	}

	// Requeuer re-enqueues a suspended/waiting run for execution, invoked
	// once a child run this parent depends on reaches a terminal state.
	Requeuer interface {
		Requeue(ctx context.Context, runID string) error
	}

	// Tracker coordinates dependency bookkeeping and parent re-enqueue.
	Tracker struct {
		store    Store
		runs     run.Store
		requeuer Requeuer
	}
)

// ErrDuplicateDependency is returned by Create when the (parent, child)
// pair already has a dependency row.
var ErrDuplicateDependency = errors.New("escalation: dependency already exists")

// ErrNotFound is returned by MarkResolved when no dependency row exists for
// the given (parent, child) pair.
var ErrNotFound = errors.New("escalation: dependency not found")

// NewTracker constructs a Tracker.
func NewTracker(store Store, runs run.Store, requeuer Requeuer) *Tracker {
	return &Tracker{store: store, runs: runs, requeuer: requeuer}
}

// RecordEscalation persists the dependency row linking parentRunID to
// childRunID for the tool call that triggered escalation. Callers create
// the child run record itself; RecordEscalation only tracks the link.
func (t *Tracker) RecordEscalation(ctx context.Context, parentRunID, childRunID, toolCallID, goal string) error {
	return t.store.Create(ctx, Dependency{
		ParentRunID: parentRunID,
		ChildRunID:  childRunID,
		ToolCallID:  toolCallID,
		Goal:        goal,
		CreatedAt:   time.Now(),
	})
}

// OnChildTerminal is invoked by the scheduler when a child run reaches a
// terminal event (completed, failed, or cancelled). It writes the result
// onto the dependency row and re-enqueues the parent (spec.md §4.8).
func (t *Tracker) OnChildTerminal(ctx context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error {
	if !status.IsTerminal() {
		return nil
	}
	if err := t.store.MarkResolved(ctx, parentRunID, childRunID, status, result, failure); err != nil {
		return err
	}
	return t.requeuer.Requeue(ctx, parentRunID)
}
