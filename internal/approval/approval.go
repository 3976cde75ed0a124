// Package approval implements the Approval Broker: a human-in-the-loop gate
// on high-risk or policy-"ask" tool invocations (spec.md §3, §4.10).
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/agentruntime/core/internal/run"
)

// Outcome is the operator's decision on a pending approval request.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

type (
	// Request is one pending or decided approval gate.
	Request struct {
		RunID        string
		ToolCallID   string
		ToolName     string
		Args         []byte
		RiskLevel    string
		Reason       string
		Scope        run.Scope
		Outcome      Outcome
		RejectReason string
		CreatedAt    time.Time
		DecidedAt    time.Time
	}

	// ScopeFilter narrows listPending to a subset of requests, e.g. for an
	// operator UI scoped to one organization.
	ScopeFilter struct {
		OrgID     string
		UserID    string
		ProjectID string
	}

	// Store persists approval requests.
	Store interface {
		Create(ctx context.Context, req Request) error
		Get(ctx context.Context, runID, toolCallID string) (Request, bool, error)
		Decide(ctx context.Context, runID, toolCallID string, outcome Outcome, rejectReason string) error
		ListPending(ctx context.Context, filter ScopeFilter) ([]Request, error)
	}

	// Requeuer re-enqueues a suspended run once its approval decision is
	// applied.
	Requeuer interface {
		Requeue(ctx context.Context, runID string) error
	}

	// Broker is the concrete Approval Broker, combining a Store with the
	// scheduler re-enqueue hook invoked on decision.
	Broker struct {
		store    Store
		requeuer Requeuer
	}
)

// ErrAlreadyDecided is returned by Decide when the (run, toolCallId) request
// has already reached a terminal outcome; Decide is idempotent in this
// case and returns nil, not this error, unless the caller requests a
// different outcome than the one already recorded.
var ErrAlreadyDecided = errors.New("approval: request already decided with a different outcome")

// ErrNotFound indicates no pending request exists for (runID, toolCallID).
var ErrNotFound = errors.New("approval: request not found")

// NewBroker constructs a Broker.
func NewBroker(store Store, requeuer Requeuer) *Broker {
	return &Broker{store: store, requeuer: requeuer}
}

// Create inserts a new pending approval request (spec.md §4.10 "create").
func (b *Broker) Create(ctx context.Context, req Request) error {
	req.CreatedAt = time.Now()
	return b.store.Create(ctx, req)
}

// Decide marks the request for (runID, toolCallID) terminal with outcome
// and re-enqueues the run. Idempotent per (run, toolCallId): deciding an
// already-decided request with the same outcome is a no-op; deciding it
// with a different outcome returns ErrAlreadyDecided.
func (b *Broker) Decide(ctx context.Context, runID, toolCallID string, outcome Outcome, rejectReason string) error {
	existing, found, err := b.store.Get(ctx, runID, toolCallID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if existing.Outcome != "" {
		if existing.Outcome == outcome {
			return nil
		}
		return ErrAlreadyDecided
	}
	if err := b.store.Decide(ctx, runID, toolCallID, outcome, rejectReason); err != nil {
		return err
	}
	return b.requeuer.Requeue(ctx, runID)
}

// ListPending returns pending requests matching filter, for an operator UI
// (spec.md §4.10 "listPending").
func (b *Broker) ListPending(ctx context.Context, filter ScopeFilter) ([]Request, error) {
	return b.store.ListPending(ctx, filter)
}
