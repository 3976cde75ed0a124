package memstore

import (
	"context"
	"sync"

	"github.com/agentruntime/core/internal/run"
)

// RunStore is an in-memory run.Store. It enforces the same lifecycle
// transition rules as a relational implementation via run.Transition, so
// tests exercise the real state machine rather than a permissive stub.
type RunStore struct {
	mu   sync.Mutex
	recs map[string]run.Record
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{recs: make(map[string]run.Record)}
}

func (s *RunStore) Create(_ context.Context, rec run.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.RunID] = rec
	return nil
}

func (s *RunStore) Get(_ context.Context, runID string) (run.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[runID]
	if !ok {
		return run.Record{}, run.ErrNotFound
	}
	return rec, nil
}

func (s *RunStore) Transition(_ context.Context, runID string, to run.Status, mutate func(*run.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[runID]
	if !ok {
		return run.ErrNotFound
	}
	if err := run.Transition(rec.Status, to); err != nil {
		return err
	}
	if rec.Status == to || (to == run.StatusCancelled && rec.Status.IsTerminal()) {
		// Idempotent no-op: status already settled, nothing to persist.
		return nil
	}
	rec.Status = to
	if mutate != nil {
		mutate(&rec)
	}
	s.recs[runID] = rec
	return nil
}

func (s *RunStore) ListByParent(_ context.Context, parentRunID string) ([]run.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []run.Record
	for _, rec := range s.recs {
		if rec.ParentRunID == parentRunID {
			out = append(out, rec)
		}
	}
	return out, nil
}
