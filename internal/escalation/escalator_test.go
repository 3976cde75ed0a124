package escalation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/run"
	"github.com/agentruntime/core/internal/toolrouter"
)

type fakeRunStore struct {
	mu   sync.Mutex
	recs map[string]run.Record
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{recs: make(map[string]run.Record)}
}

func (f *fakeRunStore) Create(_ context.Context, rec run.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.RunID] = rec
	return nil
}

func (f *fakeRunStore) Get(_ context.Context, runID string) (run.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[runID]
	if !ok {
		return run.Record{}, run.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRunStore) Transition(_ context.Context, runID string, to run.Status, mutate func(*run.Record)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.recs[runID]
	rec.Status = to
	if mutate != nil {
		mutate(&rec)
	}
	f.recs[runID] = rec
	return nil
}

func (f *fakeRunStore) ListByParent(_ context.Context, parentRunID string) ([]run.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []run.Record
	for _, r := range f.recs {
		if r.ParentRunID == parentRunID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	done     chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, runID string) (run.Status, error) {
	f.mu.Lock()
	f.executed = append(f.executed, runID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return run.StatusCompleted, nil
}

func TestRunEscalatorCreatesChildRunAndDependency(t *testing.T) {
	runs := newFakeRunStore()
	store := newFakeDepStore()
	tracker := escalation.NewTracker(store, runs, &fakeRequeuer{})
	escalator := escalation.NewRunEscalator(runs, tracker, nil)

	childID, err := escalator.Escalate(context.Background(), toolrouter.CallMeta{RunID: "parent1", ToolCallID: "tc1"}, "research the topic", "researcher")
	require.NoError(t, err)
	require.NotEmpty(t, childID)

	child, err := runs.Get(context.Background(), childID)
	require.NoError(t, err)
	require.Equal(t, "parent1", child.ParentRunID)
	require.Equal(t, "research the topic", child.Input)
	require.Equal(t, run.StatusPending, child.Status)

	dep, err := store.Get(context.Background(), "parent1", childID)
	require.NoError(t, err)
	require.Equal(t, "tc1", dep.ToolCallID)
}

func TestRunEscalatorStartsChildExecution(t *testing.T) {
	runs := newFakeRunStore()
	store := newFakeDepStore()
	tracker := escalation.NewTracker(store, runs, &fakeRequeuer{})
	done := make(chan struct{})
	executor := &fakeExecutor{done: done}
	escalator := escalation.NewRunEscalator(runs, tracker, executor)

	childID, err := escalator.Escalate(context.Background(), toolrouter.CallMeta{RunID: "parent1", ToolCallID: "tc1"}, "research", "researcher")
	require.NoError(t, err)

	<-done
	executor.mu.Lock()
	defer executor.mu.Unlock()
	require.Equal(t, []string{childID}, executor.executed)
}
