package approval_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/approval"
)

type fakeStore struct {
	mu  sync.Mutex
	reqs map[string]approval.Request
}

func newFakeStore() *fakeStore {
	return &fakeStore{reqs: make(map[string]approval.Request)}
}

func key(runID, toolCallID string) string { return runID + "/" + toolCallID }

func (f *fakeStore) Create(_ context.Context, req approval.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs[key(req.RunID, req.ToolCallID)] = req
	return nil
}

func (f *fakeStore) Get(_ context.Context, runID, toolCallID string) (approval.Request, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[key(runID, toolCallID)]
	return req, ok, nil
}

func (f *fakeStore) Decide(_ context.Context, runID, toolCallID string, outcome approval.Outcome, rejectReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.reqs[key(runID, toolCallID)]
	req.Outcome = outcome
	req.RejectReason = rejectReason
	f.reqs[key(runID, toolCallID)] = req
	return nil
}

func (f *fakeStore) ListPending(_ context.Context, _ approval.ScopeFilter) ([]approval.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []approval.Request
	for _, r := range f.reqs {
		if r.Outcome == "" {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeRequeuer struct {
	mu      sync.Mutex
	requeued []string
}

func (f *fakeRequeuer) Requeue(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, runID)
	return nil
}

func TestBrokerCreateAndDecideApprove(t *testing.T) {
	store := newFakeStore()
	requeuer := &fakeRequeuer{}
	broker := approval.NewBroker(store, requeuer)

	require.NoError(t, broker.Create(context.Background(), approval.Request{RunID: "r1", ToolCallID: "tc1", ToolName: "wire_transfer"}))
	require.NoError(t, broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeApprove, ""))
	require.Equal(t, []string{"r1"}, requeuer.requeued)

	req, ok, err := store.Get(context.Background(), "r1", "tc1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, approval.OutcomeApprove, req.Outcome)
}

func TestBrokerDecideIdempotentSameOutcome(t *testing.T) {
	store := newFakeStore()
	requeuer := &fakeRequeuer{}
	broker := approval.NewBroker(store, requeuer)

	require.NoError(t, broker.Create(context.Background(), approval.Request{RunID: "r1", ToolCallID: "tc1"}))
	require.NoError(t, broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeReject, "no"))
	require.NoError(t, broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeReject, "no"))
	require.Len(t, requeuer.requeued, 1)
}

func TestBrokerDecideConflictingOutcome(t *testing.T) {
	store := newFakeStore()
	requeuer := &fakeRequeuer{}
	broker := approval.NewBroker(store, requeuer)

	require.NoError(t, broker.Create(context.Background(), approval.Request{RunID: "r1", ToolCallID: "tc1"}))
	require.NoError(t, broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeApprove, ""))
	err := broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeReject, "changed my mind")
	require.ErrorIs(t, err, approval.ErrAlreadyDecided)
}

func TestBrokerDecideNotFound(t *testing.T) {
	store := newFakeStore()
	broker := approval.NewBroker(store, &fakeRequeuer{})
	err := broker.Decide(context.Background(), "missing", "tc", approval.OutcomeApprove, "")
	require.ErrorIs(t, err, approval.ErrNotFound)
}

func TestBrokerListPendingExcludesDecided(t *testing.T) {
	store := newFakeStore()
	broker := approval.NewBroker(store, &fakeRequeuer{})
	require.NoError(t, broker.Create(context.Background(), approval.Request{RunID: "r1", ToolCallID: "tc1"}))
	require.NoError(t, broker.Create(context.Background(), approval.Request{RunID: "r2", ToolCallID: "tc2"}))
	require.NoError(t, broker.Decide(context.Background(), "r1", "tc1", approval.OutcomeApprove, ""))

	pending, err := broker.ListPending(context.Background(), approval.ScopeFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "r2", pending[0].RunID)
}
