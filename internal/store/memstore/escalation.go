package memstore

import (
	"context"
	"sync"

	"github.com/agentruntime/core/internal/escalation"
	"github.com/agentruntime/core/internal/run"
)

// EscalationStore is an in-memory escalation.Store, enforcing the unique
// (parent_run_id, child_run_id) index spec.md §4.8 requires.
type EscalationStore struct {
	mu   sync.Mutex
	deps map[string]escalation.Dependency
}

// NewEscalationStore constructs an empty EscalationStore.
func NewEscalationStore() *EscalationStore {
	return &EscalationStore{deps: make(map[string]escalation.Dependency)}
}

func depKey(parentRunID, childRunID string) string { return parentRunID + "/" + childRunID }

func (s *EscalationStore) Create(_ context.Context, dep escalation.Dependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := depKey(dep.ParentRunID, dep.ChildRunID)
	if _, exists := s.deps[k]; exists {
		return escalation.ErrDuplicateDependency
	}
	s.deps[k] = dep
	return nil
}

func (s *EscalationStore) Get(_ context.Context, parentRunID, childRunID string) (escalation.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps[depKey(parentRunID, childRunID)], nil
}

func (s *EscalationStore) ListByParent(_ context.Context, parentRunID string) ([]escalation.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []escalation.Dependency
	for _, dep := range s.deps {
		if dep.ParentRunID == parentRunID {
			out = append(out, dep)
		}
	}
	return out, nil
}

func (s *EscalationStore) MarkResolved(_ context.Context, parentRunID, childRunID string, status run.Status, result string, failure *run.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := depKey(parentRunID, childRunID)
	dep, ok := s.deps[k]
	if !ok {
		return escalation.ErrNotFound
	}
	dep.ChildStatus = status
	dep.ChildResult = result
	dep.ChildError = failure
	s.deps[k] = dep
	return nil
}
