package memstore

import (
	"context"
	"sync"

	"github.com/agentruntime/core/internal/agent"
	"github.com/agentruntime/core/internal/checkpoint"
)

type latestCheckpoint struct {
	stepID   string
	snapshot checkpoint.Snapshot
}

// CheckpointStore is an in-memory checkpoint.Store, retaining only the
// latest snapshot per (runID, agentID).
type CheckpointStore struct {
	mu     sync.Mutex
	latest map[string]latestCheckpoint
}

// NewCheckpointStore constructs an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{latest: make(map[string]latestCheckpoint)}
}

func key(runID string, agentID agent.Ident) string { return runID + "/" + string(agentID) }

func (s *CheckpointStore) Save(_ context.Context, runID string, agentID agent.Ident, stepID string, snapshot checkpoint.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key(runID, agentID)] = latestCheckpoint{stepID: stepID, snapshot: snapshot}
	return nil
}

func (s *CheckpointStore) Latest(_ context.Context, runID string, agentID agent.Ident) (checkpoint.Snapshot, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.latest[key(runID, agentID)]
	if !ok {
		return checkpoint.Snapshot{}, "", false, nil
	}
	return lc.snapshot, lc.stepID, true, nil
}
