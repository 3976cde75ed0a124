// Package run defines the run record, its lifecycle state machine, and a
// per-invocation execution context type. Identity is carried as plain string ids resolved through a Store
// rather than in-memory pointer graphs (SPEC_FULL.md §9, "Cycles and
// back-pointers").
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentruntime/core/internal/agent"
)

type (
	// Scope identifies the multi-tenant isolation boundary for a run
	// (spec.md GLOSSARY "Scope").
	Scope struct {
		OrgID     string
		UserID    string
		ProjectID string
	}

	// DelegatedPermissions carries a caller-supplied allow/deny override that
	// narrows (never broadens) the owning role's tool access for this run and
	// any runs it escalates to.
	DelegatedPermissions struct {
		AllowedTools []string
		DeniedTools  []string
	}

	// LLMConfig carries model selection and credentials for a run. Requests
	// override the default configuration; credentials are only reused when
	// the provider matches (spec.md §4.7 step 2).
	LLMConfig struct {
		Provider    string
		Model       string
		Temperature float64
		MaxTokens   int
		APIKey      string
		BaseURL     string
	}

	// Context carries per-invocation execution metadata: the identifiers,
	// labels, and constraints active for a specific attempt at running a
	// run. The runner and tool router do not take it: they receive their
	// per-call scope as policy.Context and toolrouter.CallMeta arguments.
	Context struct {
		RunID            string
		ParentRunID      string
		ParentToolCallID string
		SessionID        string
		GroupID          string
		Attempt          int
		Scope            Scope
		Delegated        *DelegatedPermissions
		LLM              LLMConfig
		Labels           map[string]string
	}

	// Record is the durable run record owned by the Run Repository.
	Record struct {
		RunID       string
		Scope       Scope
		SessionKey  string
		Input       string
		Status      Status
		AgentID     agent.Ident
		GroupID     string
		LLM         LLMConfig
		ParentRunID string
		Delegated   *DelegatedPermissions
		Result      string
		Error       *Failure
		CreatedAt   time.Time
		StartedAt   time.Time
		EndedAt     time.Time
		CancelledAt time.Time
		SuspendedAt time.Time
		Labels      map[string]string
	}

	// Failure is the structured terminal error recorded on a run, matching
	// the run.failed event payload shape in spec.md §6.2.
	Failure struct {
		Code    string
		Message string
		Details map[string]any
	}

	// Status is the coarse-grained lifecycle state of a run (spec.md §4.9).
	Status string

	// Store owns the run record state machine on the backing relational
	// store. Implementations must reject illegal transitions (see
	// Transition) and must perform the run.status update and any coupled
	// event append atomically when both are required (spec.md §5).
	Store interface {
		Create(ctx context.Context, rec Record) error
		Get(ctx context.Context, runID string) (Record, error)
		// Transition atomically moves runID from its current status to "to",
		// rejecting the update if the current status cannot legally reach
		// "to" per the state machine. mutate is applied to the in-flight
		// record before it is persisted (e.g. to set StartedAt, Result,
		// Error) and runs under the same atomic update.
		Transition(ctx context.Context, runID string, to Status, mutate func(*Record)) error
		// ListByParent returns runs whose ParentRunID equals parentRunID, used
		// by the escalation tracker to find a parent's children.
		ListByParent(ctx context.Context, parentRunID string) ([]Record, error)
	}
)

// ErrNotFound indicates that no run record exists for the given identifier.
var ErrNotFound = errors.New("run: not found")

// ErrIllegalTransition indicates a transition would violate the lifecycle
// state machine.
var ErrIllegalTransition = errors.New("run: illegal status transition")

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusWaiting   Status = "waiting"
	StatusSuspended Status = "suspended"
)

// legalTransitions enumerates the edges of the state machine diagrammed in
// spec.md §4.9. pending never reappears once left, and a suspended or
// waiting run leaves only for running or cancelled.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusWaiting:   true,
		StatusSuspended: true,
	},
	StatusWaiting: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusSuspended: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// IsTerminal reports whether s is a terminal lifecycle state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine permits moving from s to
// to.
func (s Status) CanTransition(to Status) bool {
	edges, ok := legalTransitions[s]
	if !ok {
		return false
	}
	return edges[to]
}

// Transition validates a proposed status change and returns
// ErrIllegalTransition if the state machine forbids it. Cancellation is
// idempotent: applying a cancel transition to an already-terminal status is
// treated as a no-op success rather than an error (spec.md §8).
func Transition(from, to Status) error {
	if from == to {
		return nil
	}
	if to == StatusCancelled && from.IsTerminal() {
		return nil
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
