package escalation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/run"
)

type fakeDepStore struct {
	mu   sync.Mutex
	deps map[string]escalation.Dependency
}

func newFakeDepStore() *fakeDepStore {
	return &fakeDepStore{deps: make(map[string]escalation.Dependency)}
}

func depKey(parent, child string) string { return parent + "/" + child }

func (f *fakeDepStore) Create(_ context.Context, dep escalation.Dependency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := depKey(dep.ParentRunID, dep.ChildRunID)
	if _, exists := f.deps[k]; exists {
		return escalation.ErrDuplicateDependency
	}
	f.deps[k] = dep
	return nil
}

func (f *fakeDepStore) Get(_ context.Context, parentRunID, childRunID string) (escalation.Dependency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deps[depKey(parentRunID, childRunID)], nil
}

func (f *fakeDepStore) ListByParent(_ context.Context, parentRunID string) ([]escalation.Dependency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []escalation.Dependency
	for _, d := range f.deps {
		if d.ParentRunID == parentRunID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDepStore) MarkResolved(_ context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := depKey(parentRunID, childRunID)
	dep := f.deps[k]
	dep.ChildStatus = status
	dep.ChildResult = result
	dep.ChildError = failure
	f.deps[k] = dep
	return nil
}

type fakeRequeuer struct {
	mu       sync.Mutex
	requeued []string
}

func (f *fakeRequeuer) Requeue(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, runID)
	return nil
}

func TestTrackerRecordEscalationPreventsDuplicate(t *testing.T) {
	store := newFakeDepStore()
	tracker := escalation.NewTracker(store, nil, &fakeRequeuer{})

	require.NoError(t, tracker.RecordEscalation(context.Background(), "parent1", "child1", "tc1", "research"))
	err := tracker.RecordEscalation(context.Background(), "parent1", "child1", "tc1", "research")
	require.ErrorIs(t, err, escalation.ErrDuplicateDependency)
}

func TestTrackerOnChildTerminalRequeuesParent(t *testing.T) {
	store := newFakeDepStore()
	requeuer := &fakeRequeuer{}
	tracker := escalation.NewTracker(store, nil, requeuer)

	require.NoError(t, tracker.RecordEscalation(context.Background(), "parent1", "child1", "tc1", "research"))
	require.NoError(t, tracker.OnChildTerminal(context.Background(), "parent1", "child1", run.StatusCompleted, "done", nil))

	require.Equal(t, []string{"parent1"}, requeuer.requeued)
	dep, err := store.Get(context.Background(), "parent1", "child1")
	require.NoError(t, err)
	require.Equal(t, run.StatusCompleted, dep.ChildStatus)
	require.Equal(t, "done", dep.ChildResult)
}

func TestTrackerOnChildTerminalIgnoresNonTerminal(t *testing.T) {
	store := newFakeDepStore()
	requeuer := &fakeRequeuer{}
	tracker := escalation.NewTracker(store, nil, requeuer)

	require.NoError(t, tracker.RecordEscalation(context.Background(), "parent1", "child1", "tc1", "research"))
	require.NoError(t, tracker.OnChildTerminal(context.Background(), "parent1", "child1", run.StatusRunning, "", nil))
	require.Empty(t, requeuer.requeued)
}
